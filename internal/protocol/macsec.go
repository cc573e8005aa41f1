/**
 * MACsec Parser.
 *
 * Parses the MACsec Security Tag (SecTag) to extract the Packet Number
 * and Secure Channel Identifier.
 *
 * Frame layout:
 *   0-5    destination MAC
 *   6-11   source MAC
 *   12-13  EtherType (0x88E5)
 *   14     TCI/AN flags
 *   15     Short Length
 *   16-19  Packet Number (big-endian)
 *   20-27  SCI (big-endian)
 *   28+    encrypted payload
 *   last N ICV
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package protocol

import (
	"encoding/binary"

	"github.com/kleaSCM/gapscope/internal/models"
)

// Minimum frame: Ethernet (14) + SecTag flags (2) + PN (4) + SCI (8).
const macsecMinLen = 28

// Default ICV length for GCM-AES-128/256 cipher suites.
const DefaultICVLength = 16

// Parses MACsec frames (EtherType 0x88E5).
type MACsecParser struct {
	icvLen int
}

// NewMACsecParser creates a parser assuming the standard 16-byte ICV.
func NewMACsecParser() *MACsecParser {
	return &MACsecParser{icvLen: DefaultICVLength}
}

// NewMACsecParserWithICV creates a parser for cipher suites with a
// non-standard ICV length, which shifts the computed payload length.
func NewMACsecParserWithICV(icvLen int) *MACsecParser {
	return &MACsecParser{icvLen: icvLen}
}

func (p *MACsecParser) ParseSequence(data []byte) (*models.SequenceInfo, error) {
	if !p.Matches(data) {
		return nil, nil
	}

	if len(data) < macsecMinLen {
		return nil, models.NewPacketTooShort(p.ProtocolName())
	}

	pn := binary.BigEndian.Uint32(data[16:20])
	sci := binary.BigEndian.Uint64(data[20:28])

	// Payload is everything between the SecTag and the trailing ICV.
	payloadLen := 0
	if len(data) > 28+p.icvLen {
		payloadLen = len(data) - 28 - p.icvLen
	}

	return &models.SequenceInfo{
		SequenceNumber: pn,
		FlowID:         models.MACsecFlow{SCI: sci},
		PayloadLength:  payloadLen,
	}, nil
}

func (p *MACsecParser) Matches(data []byte) bool {
	if len(data) < 14 {
		return false
	}
	return binary.BigEndian.Uint16(data[12:14]) == EtherTypeMACsec
}

func (p *MACsecParser) ProtocolName() string { return "MACsec" }
