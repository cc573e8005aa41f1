/**
 * Replay Capture Source.
 *
 * Loads a PCAP file into memory and replays it through the capture
 * contract with a configurable timing discipline. Used for load
 * testing the detection and tracking pipeline with deterministic,
 * reproducible packet sequences.
 *
 * When looping is enabled, reaching end-of-file yields a single
 * (nil, nil) loop-boundary signal before the replay resumes from the
 * first packet with a fresh timing origin.
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
	"sync"
	"time"

	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/kleaSCM/gapscope/internal/models"
)

// Replay timing disciplines.
type ReplayMode int

const (
	// Emit packets as fast as possible.
	ReplayFast ReplayMode = iota
	// Respect original inter-packet intervals from the PCAP.
	ReplayOriginalTiming
	// Emit at a fixed packets-per-second rate.
	ReplayFixedRate
	// Scale original intervals by a speed multiplier.
	ReplaySpeedMultiplier
)

func (m ReplayMode) String() string {
	switch m {
	case ReplayFast:
		return "fast"
	case ReplayOriginalTiming:
		return "original"
	case ReplayFixedRate:
		return "fixed"
	case ReplaySpeedMultiplier:
		return "speed"
	default:
		return "unknown"
	}
}

// Holds replay configuration. PPS applies to ReplayFixedRate,
// Multiplier to ReplaySpeedMultiplier.
type ReplayConfig struct {
	Mode       ReplayMode
	PPS        uint64
	Multiplier float64
	Loop       bool
}

// Validate checks the mode parameters eagerly, before any file I/O.
func (c ReplayConfig) Validate() error {
	switch c.Mode {
	case ReplayFixedRate:
		if c.PPS == 0 {
			return fmt.Errorf("%w: fixed rate requires pps > 0", models.ErrInvalidConfig)
		}
	case ReplaySpeedMultiplier:
		if !(c.Multiplier > 0) {
			return fmt.Errorf("%w: speed multiplier must be > 0", models.ErrInvalidConfig)
		}
	}
	return nil
}

func (c ReplayConfig) String() string {
	switch c.Mode {
	case ReplayFixedRate:
		return fmt.Sprintf("fixed (%d pps)", c.PPS)
	case ReplaySpeedMultiplier:
		return fmt.Sprintf("speed (%gx)", c.Multiplier)
	default:
		return c.Mode.String()
	}
}

// Statistics about replay progress.
type ReplayStats struct {
	PacketsReplayed uint64
	LoopsCompleted  uint64
	TotalPackets    uint64
}

// Per-call timing of NextPacket, for performance analysis in debug
// mode.
type ioTiming struct {
	totalUS int64
	calls   uint64
	minUS   int64
	maxUS   int64
}

// Replays an in-memory packet list with timing control.
type ReplayCapture struct {
	packets []models.RawPacket
	cfg     ReplayConfig
	log     *zap.Logger

	index            int
	pendingLoopReset bool
	firstPacketTime  time.Time
	replayStart      time.Time

	packetsReplayed uint64
	loopsCompleted  uint64

	ioMu sync.Mutex
	io   ioTiming
}

// OpenReplay loads a PCAP file for replay. Configuration errors and
// empty files fail here, before the analyzer starts.
func OpenReplay(path string, cfg ReplayConfig, log *zap.Logger) (*ReplayCapture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to open replay of %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rc, err := NewReplayFromReader(f, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	log.Info("replay loaded",
		zap.String("file", path),
		zap.Int("packets", len(rc.packets)),
		zap.String("mode", cfg.String()),
		zap.Bool("loop", cfg.Loop))

	return rc, nil
}

// NewReplayFromReader loads PCAP data from an arbitrary reader.
func NewReplayFromReader(r io.Reader, cfg ReplayConfig, log *zap.Logger) (*ReplayCapture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	var packets []models.RawPacket
	for {
		data, ci, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			if len(packets) == 0 {
				return nil, fmt.Errorf("failed to read packets: %w", err)
			}
			log.Warn("truncated pcap, replaying prefix",
				zap.Int("packets", len(packets)), zap.Error(err))
			break
		}
		packets = append(packets, models.RawPacket{
			Data:       data,
			Timestamp:  ci.Timestamp,
			WireLength: ci.Length,
		})
	}

	if len(packets) == 0 {
		return nil, fmt.Errorf("pcap contains no packets")
	}

	return &ReplayCapture{
		packets:         packets,
		cfg:             cfg,
		log:             log,
		firstPacketTime: packets[0].Timestamp,
		io:              ioTiming{minUS: -1},
	}, nil
}

func (c *ReplayCapture) NextPacket(ctx context.Context) (*models.RawPacket, error) {
	ioStart := time.Now()
	defer c.recordIOTime(ioStart)

	// Resume from index 0 after a loop boundary, with a fresh timing
	// origin.
	if c.pendingLoopReset {
		c.pendingLoopReset = false
		c.index = 0
		c.replayStart = time.Now()
	}

	if c.index >= len(c.packets) {
		if !c.cfg.Loop {
			return nil, models.ErrNoMorePackets
		}
		c.loopsCompleted++
		c.pendingLoopReset = true
		c.log.Debug("replay loop complete",
			zap.Uint64("loop", c.loopsCompleted),
			zap.Uint64("packets_replayed", c.packetsReplayed))
		// Loop-boundary signal; the analyzer keeps going.
		return nil, nil
	}

	pkt := &c.packets[c.index]

	if c.replayStart.IsZero() {
		c.replayStart = time.Now()
	}

	if err := c.applyTimingDelay(ctx, pkt); err != nil {
		return nil, err
	}

	c.index++
	c.packetsReplayed++

	// Rewrite the timestamp to now so downstream inter-arrival
	// measurements reflect replay wall time, not the PCAP clock.
	out := models.RawPacket{
		Data:       pkt.Data,
		Timestamp:  time.Now(),
		WireLength: pkt.WireLength,
	}
	return &out, nil
}

func (c *ReplayCapture) Stats() models.CaptureStats {
	// Replay never drops.
	return models.CaptureStats{PacketsReceived: c.packetsReplayed}
}

// ReplayProgress returns replay-specific counters.
func (c *ReplayCapture) ReplayProgress() ReplayStats {
	return ReplayStats{
		PacketsReplayed: c.packetsReplayed,
		LoopsCompleted:  c.loopsCompleted,
		TotalPackets:    uint64(len(c.packets)),
	}
}

// applyTimingDelay sleeps according to the replay mode. Sleeps are
// cancellation-safe: a shutdown signal interrupts them.
func (c *ReplayCapture) applyTimingDelay(ctx context.Context, pkt *models.RawPacket) error {
	switch c.cfg.Mode {
	case ReplayFast:
		return nil

	case ReplayFixedRate:
		return sleepCtx(ctx, time.Second/time.Duration(c.cfg.PPS))

	case ReplayOriginalTiming:
		offset := pkt.Timestamp.Sub(c.firstPacketTime)
		return c.sleepUntilOffset(ctx, offset)

	case ReplaySpeedMultiplier:
		offset := pkt.Timestamp.Sub(c.firstPacketTime)
		scaled := time.Duration(float64(offset) / c.cfg.Multiplier)
		return c.sleepUntilOffset(ctx, scaled)
	}
	return nil
}

// sleepUntilOffset aligns the packet's offset from the first packet
// against wall time since replay start; when behind schedule, proceeds
// immediately.
func (c *ReplayCapture) sleepUntilOffset(ctx context.Context, offset time.Duration) error {
	elapsed := time.Since(c.replayStart)
	if wait := offset - elapsed; wait > 0 {
		return sleepCtx(ctx, wait)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *ReplayCapture) recordIOTime(start time.Time) {
	elapsedUS := time.Since(start).Microseconds()
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	c.io.totalUS += elapsedUS
	c.io.calls++
	if c.io.minUS < 0 || elapsedUS < c.io.minUS {
		c.io.minUS = elapsedUS
	}
	if elapsedUS > c.io.maxUS {
		c.io.maxUS = elapsedUS
	}
}

// ReportIOStats prints replay I/O timing for debug runs.
func (c *ReplayCapture) ReportIOStats() {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	if c.io.calls == 0 {
		return
	}
	avg := float64(c.io.totalUS) / float64(c.io.calls)
	fmt.Println()
	fmt.Println("=== PCAP I/O Statistics ===")
	fmt.Printf("Total I/O time:     %.1fms\n", float64(c.io.totalUS)/1000.0)
	fmt.Printf("Calls:              %d\n", c.io.calls)
	fmt.Printf("Avg time/call:      %.3fus\n", avg)
	fmt.Printf("Min time/call:      %d us\n", c.io.minUS)
	fmt.Printf("Max time/call:      %d us\n", c.io.maxUS)
}
