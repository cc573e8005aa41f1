/**
 * Live Capture Source.
 *
 * Captures from a network interface via libpcap. The handle is built
 * from an inactive handle so snaplen, promiscuous mode, timeout, and
 * kernel buffer size can be configured before activation.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package capture

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"

	"github.com/kleaSCM/gapscope/internal/models"
)

// Holds configuration for a live capture handle.
type LiveConfig struct {
	Interface   string
	SnapLen     int32
	Promiscuous bool
	Timeout     time.Duration
	BufferMB    int
	BPFFilter   string
}

// DefaultLiveConfig returns a sensible default configuration for the
// given interface (promiscuous, full snaplen, 32 MB kernel buffer).
func DefaultLiveConfig(iface string) *LiveConfig {
	return &LiveConfig{
		Interface:   iface,
		SnapLen:     65536,
		Promiscuous: true,
		Timeout:     time.Second,
		BufferMB:    32,
	}
}

// Captures packets from a live interface.
type LiveCapture struct {
	handle      *pcap.Handle
	iface       string
	packetsRead atomic.Uint64
	log         *zap.Logger
}

// OpenLive validates the interface and activates a capture handle.
func OpenLive(cfg *LiveConfig, log *zap.Logger) (*LiveCapture, error) {
	if cfg == nil {
		return nil, fmt.Errorf("open live capture: %w: config cannot be nil", models.ErrInvalidConfig)
	}

	if _, err := FindInterface(cfg.Interface); err != nil {
		return nil, fmt.Errorf("open live capture: %w", err)
	}

	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to create inactive handle: %w", err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(cfg.SnapLen)); err != nil {
		return nil, fmt.Errorf("failed to set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("failed to set promiscuous mode: %w", err)
	}
	if err := inactive.SetTimeout(cfg.Timeout); err != nil {
		return nil, fmt.Errorf("failed to set timeout: %w", err)
	}

	// Larger kernel buffer minimizes drops on high-throughput links.
	if cfg.BufferMB > 0 {
		if err := inactive.SetBufferSize(cfg.BufferMB * 1024 * 1024); err != nil {
			log.Warn("failed to set buffer size", zap.Error(err))
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate handle: %w", err)
	}

	lc := &LiveCapture{handle: handle, iface: cfg.Interface, log: log}

	if cfg.BPFFilter != "" {
		if err := lc.SetFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, err
		}
		log.Info("applied BPF filter", zap.String("filter", cfg.BPFFilter))
	}

	log.Info("live capture started",
		zap.String("interface", cfg.Interface),
		zap.Bool("promiscuous", cfg.Promiscuous))

	return lc, nil
}

func (c *LiveCapture) NextPacket(ctx context.Context) (*models.RawPacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, ci, err := c.handle.ReadPacketData()
	switch {
	case err == nil:
	case err == pcap.NextErrorTimeoutExpired:
		// Benign boundary: lets the loop observe shutdown.
		return nil, nil
	case err == io.EOF || err == pcap.NextErrorNoMorePackets:
		return nil, models.ErrNoMorePackets
	default:
		return nil, fmt.Errorf("failed to read packet: %w", err)
	}

	c.packetsRead.Add(1)
	return &models.RawPacket{
		Data:       data,
		Timestamp:  ci.Timestamp,
		WireLength: ci.Length,
	}, nil
}

func (c *LiveCapture) Stats() models.CaptureStats {
	stats := models.CaptureStats{PacketsReceived: c.packetsRead.Load()}
	if pcapStats, err := c.handle.Stats(); err == nil {
		stats.PacketsDropped = uint64(pcapStats.PacketsDropped)
	}
	return stats
}

// SetFilter installs a kernel-level BPF filter.
func (c *LiveCapture) SetFilter(filter string) error {
	if err := c.handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("failed to set BPF filter: %w", err)
	}
	return nil
}

// Close releases the capture handle.
func (c *LiveCapture) Close() {
	c.handle.Close()
	c.log.Info("live capture stopped", zap.String("interface", c.iface))
}
