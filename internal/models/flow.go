/**
 * Flow Model.
 *
 * Defines the protocol-specific flow identifiers, per-flow statistics
 * snapshots, and sequence gap records. The textual form of a FlowID is
 * the stable external identifier used by the persistence layer, so it
 * must round-trip through ParseFlowID.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package models

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// IP protocol numbers carried by GenericL3 flows.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// Identifies a flow. Exactly one of the three concrete variants
// (MACsecFlow, IPsecFlow, GenericL3Flow) implements it; all are
// comparable value types usable as map keys.
type FlowID interface {
	fmt.Stringer
	// Protocol returns the short protocol label ("MACsec",
	// "IPsec-ESP", "TCP", "UDP") for reporting.
	Protocol() string
	isFlowID()
}

// Identifies one MACsec secure channel by its 8-byte SCI.
type MACsecFlow struct {
	SCI uint64
}

func (f MACsecFlow) String() string {
	return fmt.Sprintf("MACsec { sci: 0x%016x }", f.SCI)
}

func (f MACsecFlow) Protocol() string { return "MACsec" }
func (MACsecFlow) isFlowID()          {}

// Identifies one ESP security association. The SPI is the primary key;
// the destination IP disambiguates when the same SPI is reused across
// tunnels.
type IPsecFlow struct {
	SPI   uint32
	DstIP netip.Addr
}

func (f IPsecFlow) String() string {
	return fmt.Sprintf("IPsec { spi: 0x%08x, dst: %s }", f.SPI, f.DstIP)
}

func (f IPsecFlow) Protocol() string { return "IPsec-ESP" }

// DstAddr returns the flow's destination address for enrichment.
func (f IPsecFlow) DstAddr() netip.Addr { return f.DstIP }
func (IPsecFlow) isFlowID()             {}

// Identifies one transport 5-tuple for plain TCP/UDP traffic.
type GenericL3Flow struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	IPProto  uint8
}

func (f GenericL3Flow) String() string {
	return fmt.Sprintf("%s { %s -> %s }",
		f.Protocol(),
		netip.AddrPortFrom(f.SrcIP, f.SrcPort),
		netip.AddrPortFrom(f.DstIP, f.DstPort))
}

func (f GenericL3Flow) Protocol() string {
	switch f.IPProto {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return "Unknown"
	}
}

// DstAddr returns the flow's destination address for enrichment.
func (f GenericL3Flow) DstAddr() netip.Addr { return f.DstIP }
func (GenericL3Flow) isFlowID()             {}

// ParseFlowID reverses FlowID.String. The persistence layer stores the
// textual form as the primary key, so every produced FlowID must parse
// back to an equal value.
func ParseFlowID(s string) (FlowID, error) {
	s = strings.TrimSpace(s)

	switch {
	case strings.HasPrefix(s, "MACsec {"):
		inner, err := braceBody(s, "MACsec")
		if err != nil {
			return nil, err
		}
		hex, ok := strings.CutPrefix(inner, "sci: 0x")
		if !ok {
			return nil, fmt.Errorf("malformed MACsec flow id %q", s)
		}
		sci, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed MACsec sci in %q: %w", s, err)
		}
		return MACsecFlow{SCI: sci}, nil

	case strings.HasPrefix(s, "IPsec {"):
		inner, err := braceBody(s, "IPsec")
		if err != nil {
			return nil, err
		}
		spiPart, dstPart, ok := strings.Cut(inner, ", dst: ")
		if !ok {
			return nil, fmt.Errorf("malformed IPsec flow id %q", s)
		}
		hex, ok := strings.CutPrefix(spiPart, "spi: 0x")
		if !ok {
			return nil, fmt.Errorf("malformed IPsec spi in %q", s)
		}
		spi, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed IPsec spi in %q: %w", s, err)
		}
		dst, err := netip.ParseAddr(dstPart)
		if err != nil {
			return nil, fmt.Errorf("malformed IPsec dst in %q: %w", s, err)
		}
		return IPsecFlow{SPI: uint32(spi), DstIP: dst}, nil

	case strings.HasPrefix(s, "TCP {"), strings.HasPrefix(s, "UDP {"):
		proto := uint8(ProtoTCP)
		name := "TCP"
		if strings.HasPrefix(s, "UDP {") {
			proto = ProtoUDP
			name = "UDP"
		}
		inner, err := braceBody(s, name)
		if err != nil {
			return nil, err
		}
		srcPart, dstPart, ok := strings.Cut(inner, " -> ")
		if !ok {
			return nil, fmt.Errorf("malformed %s flow id %q", name, s)
		}
		src, err := netip.ParseAddrPort(srcPart)
		if err != nil {
			return nil, fmt.Errorf("malformed %s src in %q: %w", name, s, err)
		}
		dst, err := netip.ParseAddrPort(dstPart)
		if err != nil {
			return nil, fmt.Errorf("malformed %s dst in %q: %w", name, s, err)
		}
		return GenericL3Flow{
			SrcIP:   src.Addr(),
			DstIP:   dst.Addr(),
			SrcPort: src.Port(),
			DstPort: dst.Port(),
			IPProto: proto,
		}, nil
	}

	return nil, fmt.Errorf("unrecognized flow id %q", s)
}

// braceBody extracts the content between "<prefix> { " and " }".
func braceBody(s, prefix string) (string, error) {
	inner, ok := strings.CutPrefix(s, prefix+" { ")
	if !ok {
		return "", fmt.Errorf("malformed %s flow id %q", prefix, s)
	}
	inner, ok = strings.CutSuffix(inner, " }")
	if !ok {
		return "", fmt.Errorf("malformed %s flow id %q", prefix, s)
	}
	return inner, nil
}

// Represents a gap detected in a flow's packet sequence. Emitted at
// most once per contiguous missing region.
type SequenceGap struct {
	FlowID     FlowID
	Expected   uint32
	Received   uint32
	GapSize    uint32
	DetectedAt time.Time
}

// Represents an immutable per-flow statistics snapshot projected from
// the tracker's internal state. Mutating a snapshot never affects
// tracker state.
type FlowStats struct {
	FlowID FlowID

	// Gap detection
	PacketsReceived  uint64
	GapsDetected     uint64
	TotalLostPackets uint64
	FirstSequence    *uint32
	LastSequence     *uint32
	MinGap           *uint32
	MaxGap           *uint32

	// Traffic statistics
	TotalBytes     uint64
	FirstTimestamp time.Time
	LastTimestamp  time.Time

	// Inter-arrival statistics; nil until two packets have been seen.
	MinInterArrival *time.Duration
	MaxInterArrival *time.Duration
	AvgInterArrival *time.Duration

	// IP protocol number -> packet count. Only populated for
	// GenericL3 flows; encrypted payloads keep it empty.
	ProtocolDistribution map[uint8]uint64
}

// BandwidthMbps derives the average flow bandwidth over the observed
// capture window, in megabits per second.
func (s *FlowStats) BandwidthMbps() float64 {
	if s.FirstTimestamp.IsZero() || s.LastTimestamp.IsZero() {
		return 0
	}
	secs := s.LastTimestamp.Sub(s.FirstTimestamp).Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.TotalBytes) * 8 / secs / 1e6
}
