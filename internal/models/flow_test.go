/**
 * Flow Model Tests.
 *
 * Verifies the textual encoding of flow identifiers and that every
 * form round-trips through ParseFlowID, which the persistence layer
 * depends on.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package models

import (
	"net/netip"
	"testing"
)

func TestMACsecFlowString(t *testing.T) {
	flow := MACsecFlow{SCI: 0x0123456789ABCDEF}

	got := flow.String()
	want := "MACsec { sci: 0x0123456789abcdef }"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if flow.Protocol() != "MACsec" {
		t.Errorf("Expected protocol MACsec, got %s", flow.Protocol())
	}
}

func TestIPsecFlowString(t *testing.T) {
	flow := IPsecFlow{SPI: 0x89ABCDEF, DstIP: netip.MustParseAddr("10.0.0.1")}

	got := flow.String()
	want := "IPsec { spi: 0x89abcdef, dst: 10.0.0.1 }"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestGenericL3FlowString(t *testing.T) {
	flow := GenericL3Flow{
		SrcIP:   netip.MustParseAddr("192.168.1.10"),
		DstIP:   netip.MustParseAddr("10.0.0.1"),
		SrcPort: 12345,
		DstPort: 80,
		IPProto: ProtoTCP,
	}

	got := flow.String()
	want := "TCP { 192.168.1.10:12345 -> 10.0.0.1:80 }"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	flow.IPProto = ProtoUDP
	if flow.Protocol() != "UDP" {
		t.Errorf("Expected protocol UDP, got %s", flow.Protocol())
	}
}

func TestParseFlowIDRoundTrip(t *testing.T) {
	// Every FlowID a parser can produce must survive a
	// String -> Parse round trip unchanged.
	flows := []FlowID{
		MACsecFlow{SCI: 0x001122334455AABB},
		MACsecFlow{SCI: 0},
		IPsecFlow{SPI: 0x12345678, DstIP: netip.MustParseAddr("10.0.0.1")},
		IPsecFlow{SPI: 1, DstIP: netip.MustParseAddr("2001:db8::1")},
		GenericL3Flow{
			SrcIP:   netip.MustParseAddr("192.168.1.10"),
			DstIP:   netip.MustParseAddr("10.0.0.1"),
			SrcPort: 12345,
			DstPort: 80,
			IPProto: ProtoTCP,
		},
		GenericL3Flow{
			SrcIP:   netip.MustParseAddr("172.16.0.5"),
			DstIP:   netip.MustParseAddr("8.8.8.8"),
			SrcPort: 53,
			DstPort: 53,
			IPProto: ProtoUDP,
		},
	}

	for _, flow := range flows {
		parsed, err := ParseFlowID(flow.String())
		if err != nil {
			t.Fatalf("ParseFlowID(%q) failed: %v", flow.String(), err)
		}
		if parsed != flow {
			t.Errorf("Round trip mismatch: %v != %v", parsed, flow)
		}
	}
}

func TestParseFlowIDRejectsMalformed(t *testing.T) {
	malformed := []string{
		"",
		"MACsec { sci: 123 }",
		"IPsec { spi: 0x1 }",
		"TCP { 1.2.3.4:80 }",
		"GRE { something }",
	}

	for _, input := range malformed {
		if _, err := ParseFlowID(input); err == nil {
			t.Errorf("Expected error for %q, got none", input)
		}
	}
}

func TestFlowIDAsMapKey(t *testing.T) {
	// Variants are comparable value types; equal flows must collide.
	seen := map[FlowID]int{}
	seen[MACsecFlow{SCI: 0x1111}] = 1
	seen[MACsecFlow{SCI: 0x1111}] = 2

	if len(seen) != 1 {
		t.Errorf("Expected equal flows to share a key, got %d entries", len(seen))
	}
}
