/**
 * Generic L3 Parser.
 *
 * Identifies plain TCP/UDP flows by their 5-tuple. TCP sequence
 * numbers count bytes, not packets, so gaps in them say nothing about
 * packet loss; this parser therefore reports the synthetic sequence
 * number 0 for every packet, which the flow tracker recognizes as
 * "track the flow, skip gap detection".
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package protocol

import (
	"encoding/binary"
	"net/netip"

	"github.com/kleaSCM/gapscope/internal/models"
)

// Minimum frame: Ethernet (14) + IPv4 (20) + transport ports (8).
const genericMinLen = 42

// Parses TCP/UDP-over-IPv4 frames into 5-tuple flows.
type GenericL3Parser struct{}

// NewGenericL3Parser creates a generic transport parser.
func NewGenericL3Parser() *GenericL3Parser { return &GenericL3Parser{} }

func (p *GenericL3Parser) ParseSequence(data []byte) (*models.SequenceInfo, error) {
	if !p.Matches(data) {
		return nil, nil
	}

	if len(data) < genericMinLen {
		return nil, models.NewPacketTooShort(p.ProtocolName())
	}

	ihl := int(data[14]&0x0f) * 4
	ipHeaderEnd := 14 + ihl
	if len(data) < ipHeaderEnd+4 {
		return nil, models.NewPacketTooShort(p.ProtocolName())
	}

	proto := data[23]
	srcIP := netip.AddrFrom4([4]byte(data[26:30]))
	dstIP := netip.AddrFrom4([4]byte(data[30:34]))

	transport := data[ipHeaderEnd:]
	srcPort := binary.BigEndian.Uint16(transport[0:2])
	dstPort := binary.BigEndian.Uint16(transport[2:4])

	// Bytes past the transport header, for byte-count statistics.
	payloadLen := 0
	switch proto {
	case models.ProtoTCP:
		// Honor the TCP data offset nibble; assume the default
		// 20-byte header when the frame is truncated before it.
		tcpHeaderLen := 20
		if len(transport) > 12 {
			tcpHeaderLen = int(transport[12]>>4) * 4
		}
		if len(transport) > tcpHeaderLen {
			payloadLen = len(transport) - tcpHeaderLen
		}
	case models.ProtoUDP:
		if len(transport) > 8 {
			payloadLen = len(transport) - 8
		}
	}

	return &models.SequenceInfo{
		// Synthetic: the tracker skips gap detection for GenericL3.
		SequenceNumber: 0,
		FlowID: models.GenericL3Flow{
			SrcIP:   srcIP,
			DstIP:   dstIP,
			SrcPort: srcPort,
			DstPort: dstPort,
			IPProto: proto,
		},
		PayloadLength: payloadLen,
	}, nil
}

func (p *GenericL3Parser) Matches(data []byte) bool {
	if len(data) < genericMinLen {
		return false
	}
	if binary.BigEndian.Uint16(data[12:14]) != EtherTypeIPv4 {
		return false
	}
	proto := data[23]
	return proto == models.ProtoTCP || proto == models.ProtoUDP
}

func (p *GenericL3Parser) ProtocolName() string { return "Generic-L3" }
