/**
 * Test Frame Builders.
 *
 * Constructs synthetic MACsec, ESP, TCP, and UDP frames at the byte
 * level for the parser and registry tests.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package protocol

import (
	"encoding/binary"
)

// buildMACsecFrame builds Ethernet + SecTag + payload + ICV.
func buildMACsecFrame(pn uint32, sci uint64, payloadLen, icvLen int) []byte {
	frame := make([]byte, 0, 28+payloadLen+icvLen)

	frame = append(frame, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55) // dst MAC
	frame = append(frame, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB) // src MAC
	frame = append(frame, 0x88, 0xE5)                         // EtherType MACsec

	frame = append(frame, 0x2F, 0x2E) // TCI/AN, SL
	frame = binary.BigEndian.AppendUint32(frame, pn)
	frame = binary.BigEndian.AppendUint64(frame, sci)

	frame = append(frame, make([]byte, payloadLen)...)
	frame = append(frame, make([]byte, icvLen)...)
	return frame
}

// buildIPv4Header appends a 20-byte IPv4 header.
func buildIPv4Header(frame []byte, proto uint8, srcIP, dstIP [4]byte, payloadLen int) []byte {
	frame = append(frame, 0x45, 0x00) // version 4, IHL 5, DSCP
	frame = binary.BigEndian.AppendUint16(frame, uint16(20+payloadLen))
	frame = append(frame, 0x00, 0x00, 0x00, 0x00) // identification, flags
	frame = append(frame, 64, proto, 0x00, 0x00)  // TTL, protocol, checksum
	frame = append(frame, srcIP[:]...)
	frame = append(frame, dstIP[:]...)
	return frame
}

func ethernetIPv4Prefix() []byte {
	frame := make([]byte, 0, 64)
	frame = append(frame, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55)
	frame = append(frame, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB)
	frame = append(frame, 0x08, 0x00) // EtherType IPv4
	return frame
}

// buildESPFrame builds Ethernet + IPv4(proto 50) + ESP + payload.
func buildESPFrame(spi, seq uint32, dstIP [4]byte, payloadLen int) []byte {
	frame := ethernetIPv4Prefix()
	frame = buildIPv4Header(frame, 50, [4]byte{192, 168, 1, 1}, dstIP, 8+payloadLen)
	frame = binary.BigEndian.AppendUint32(frame, spi)
	frame = binary.BigEndian.AppendUint32(frame, seq)
	frame = append(frame, make([]byte, payloadLen)...)
	return frame
}

// buildTCPFrame builds Ethernet + IPv4(proto 6) + TCP + payload. The
// data offset encodes a 20-byte header.
func buildTCPFrame(srcIP, dstIP [4]byte, srcPort, dstPort uint16, seq uint32, payloadLen int) []byte {
	frame := ethernetIPv4Prefix()
	frame = buildIPv4Header(frame, 6, srcIP, dstIP, 20+payloadLen)

	frame = binary.BigEndian.AppendUint16(frame, srcPort)
	frame = binary.BigEndian.AppendUint16(frame, dstPort)
	frame = binary.BigEndian.AppendUint32(frame, seq)
	frame = append(frame, 0x00, 0x00, 0x00, 0x00) // ACK
	frame = append(frame, 0x50, 0x00)             // data offset 5, flags
	frame = append(frame, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00)

	frame = append(frame, make([]byte, payloadLen)...)
	return frame
}

// buildUDPFrame builds Ethernet + IPv4(proto 17) + UDP + payload.
func buildUDPFrame(srcIP, dstIP [4]byte, srcPort, dstPort uint16, payloadLen int) []byte {
	frame := ethernetIPv4Prefix()
	frame = buildIPv4Header(frame, 17, srcIP, dstIP, 8+payloadLen)

	frame = binary.BigEndian.AppendUint16(frame, srcPort)
	frame = binary.BigEndian.AppendUint16(frame, dstPort)
	frame = binary.BigEndian.AppendUint16(frame, uint16(8+payloadLen))
	frame = append(frame, 0x00, 0x00) // checksum

	frame = append(frame, make([]byte, payloadLen)...)
	return frame
}
