/**
 * Generic L3 Parser Tests.
 *
 * Verifies 5-tuple extraction, the synthetic zero sequence, and the
 * TCP data-offset handling in the payload length computation.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package protocol

import (
	"net/netip"
	"testing"

	"github.com/kleaSCM/gapscope/internal/models"
)

func TestGenericL3ParserTCP(t *testing.T) {
	frame := buildTCPFrame([4]byte{192, 168, 1, 10}, [4]byte{10, 0, 0, 1}, 12345, 80, 1000, 10)

	parser := NewGenericL3Parser()
	info, err := parser.ParseSequence(frame)
	if err != nil {
		t.Fatalf("ParseSequence failed: %v", err)
	}
	if info == nil {
		t.Fatal("Expected SequenceInfo, got nil")
	}

	// Gap detection is disabled for transport flows: the sequence is
	// the synthetic zero, regardless of the TCP sequence on the wire.
	if info.SequenceNumber != 0 {
		t.Errorf("Expected synthetic sequence 0, got %d", info.SequenceNumber)
	}

	want := models.GenericL3Flow{
		SrcIP:   netip.MustParseAddr("192.168.1.10"),
		DstIP:   netip.MustParseAddr("10.0.0.1"),
		SrcPort: 12345,
		DstPort: 80,
		IPProto: models.ProtoTCP,
	}
	if info.FlowID != want {
		t.Errorf("Expected flow %v, got %v", want, info.FlowID)
	}
	if info.PayloadLength != 10 {
		t.Errorf("Expected payload length 10, got %d", info.PayloadLength)
	}
}

func TestGenericL3ParserTCPDataOffset(t *testing.T) {
	// Widen the data offset to 8 words (32-byte header): 12 bytes of
	// what was payload become options.
	frame := buildTCPFrame([4]byte{192, 168, 1, 10}, [4]byte{10, 0, 0, 1}, 1, 2, 0, 20)
	frame[14+20+12] = 0x80

	parser := NewGenericL3Parser()
	info, err := parser.ParseSequence(frame)
	if err != nil || info == nil {
		t.Fatalf("Expected parse, got (%v, %v)", info, err)
	}
	if info.PayloadLength != 8 {
		t.Errorf("Expected payload length 8 with 32-byte header, got %d", info.PayloadLength)
	}
}

func TestGenericL3ParserUDP(t *testing.T) {
	frame := buildUDPFrame([4]byte{192, 168, 1, 10}, [4]byte{10, 0, 0, 1}, 53, 53, 10)

	parser := NewGenericL3Parser()
	info, err := parser.ParseSequence(frame)
	if err != nil || info == nil {
		t.Fatalf("Expected parse, got (%v, %v)", info, err)
	}

	if info.SequenceNumber != 0 {
		t.Errorf("Expected synthetic sequence 0, got %d", info.SequenceNumber)
	}
	generic, ok := info.FlowID.(models.GenericL3Flow)
	if !ok || generic.IPProto != models.ProtoUDP {
		t.Errorf("Expected UDP flow, got %v", info.FlowID)
	}
	if info.PayloadLength != 10 {
		t.Errorf("Expected payload length 10, got %d", info.PayloadLength)
	}
}

func TestGenericL3ParserRejectsESP(t *testing.T) {
	frame := buildTCPFrame([4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 1, 2, 0, 0)
	frame[23] = 50

	parser := NewGenericL3Parser()
	if parser.Matches(frame) {
		t.Error("Expected Matches to reject ESP frames")
	}
}

func TestGenericL3ParserTooShort(t *testing.T) {
	parser := NewGenericL3Parser()
	info, err := parser.ParseSequence(make([]byte, 20))
	if err != nil || info != nil {
		t.Errorf("Expected (nil, nil) for runt frame, got (%v, %v)", info, err)
	}
}
