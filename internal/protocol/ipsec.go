/**
 * IPsec ESP Parser.
 *
 * Extracts the SPI and sequence number from the ESP header of IPv4
 * packets carrying IP protocol 50. The ESP header sits immediately
 * after the IPv4 header, whose length comes from the IHL nibble.
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

// ESP protocol number in the IPv4 header.
const ipProtocolESP = 50

// Minimum frame: Ethernet (14) + IPv4 (20) + ESP header (8).
const espMinLen = 42

// Parses ESP-over-IPv4 frames.
type IPsecParser struct{}

// NewIPsecParser creates an ESP parser.
func NewIPsecParser() *IPsecParser { return &IPsecParser{} }

func (p *IPsecParser) ParseSequence(data []byte) (*models.SequenceInfo, error) {
	if !p.Matches(data) {
		return nil, nil
	}

	if len(data) < espMinLen {
		return nil, models.NewPacketTooShort(p.ProtocolName())
	}

	// IPv4 header length from the IHL nibble.
	ihl := int(data[14]&0x0f) * 4
	ipHeaderEnd := 14 + ihl
	if len(data) < ipHeaderEnd+8 {
		return nil, models.NewPacketTooShort(p.ProtocolName())
	}

	dstIP := netip.AddrFrom4([4]byte(data[30:34]))

	esp := data[ipHeaderEnd:]
	spi := binary.BigEndian.Uint32(esp[0:4])
	seq := binary.BigEndian.Uint32(esp[4:8])

	// Everything after the 8-byte ESP header: encrypted payload,
	// trailer, and ICV.
	payloadLen := len(esp) - 8

	return &models.SequenceInfo{
		SequenceNumber: seq,
		FlowID:         models.IPsecFlow{SPI: spi, DstIP: dstIP},
		PayloadLength:  payloadLen,
	}, nil
}

func (p *IPsecParser) Matches(data []byte) bool {
	if len(data) < espMinLen {
		return false
	}
	if binary.BigEndian.Uint16(data[12:14]) != EtherTypeIPv4 {
		return false
	}
	// IP protocol field at offset 23 (14 Ethernet + 9 into IPv4).
	return data[23] == ipProtocolESP
}

func (p *IPsecParser) ProtocolName() string { return "IPsec-ESP" }
