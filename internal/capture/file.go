/**
 * File Capture Source.
 *
 * Reads Ethernet frames from a classic PCAP file in a single pass,
 * preserving the recorded capture timestamps.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package capture

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/pcapgo"

	"github.com/kleaSCM/gapscope/internal/models"
)

// Reads packets from a PCAP file.
type FileCapture struct {
	file        *os.File
	reader      *pcapgo.Reader
	packetsRead uint64
}

// OpenFile opens a PCAP file for one-pass reading.
func OpenFile(path string) (*FileCapture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header of %s: %w", path, err)
	}

	return &FileCapture{file: f, reader: reader}, nil
}

func (c *FileCapture) NextPacket(ctx context.Context) (*models.RawPacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ci, err := c.reader.ReadPacketData()
	if err == io.EOF {
		return nil, models.ErrNoMorePackets
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read packet: %w", err)
	}

	c.packetsRead++
	return &models.RawPacket{
		Data:       data,
		Timestamp:  ci.Timestamp,
		WireLength: ci.Length,
	}, nil
}

func (c *FileCapture) Stats() models.CaptureStats {
	// File captures never drop.
	return models.CaptureStats{PacketsReceived: c.packetsRead}
}

// Close releases the underlying file.
func (c *FileCapture) Close() error {
	return c.file.Close()
}
