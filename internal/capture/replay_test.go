/**
 * Replay Capture Tests.
 *
 * Verifies eager configuration validation, drain and loop-boundary
 * semantics, timestamp rewriting, and timing behavior using PCAP data
 * constructed in memory.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package capture

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/kleaSCM/gapscope/internal/models"
)

// writePCAP serializes frames into an in-memory classic PCAP.
func writePCAP(t *testing.T, frames [][]byte, timestamps []time.Time) *bytes.Reader {
	t.Helper()

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader failed: %v", err)
	}

	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     timestamps[i],
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatalf("WritePacket failed: %v", err)
		}
	}

	return bytes.NewReader(buf.Bytes())
}

func testFrames(n int) ([][]byte, []time.Time) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	frames := make([][]byte, n)
	timestamps := make([]time.Time, n)
	for i := range frames {
		frame := make([]byte, 60)
		frame[12] = 0x88
		frame[13] = 0xE5
		frame[19] = byte(i + 1) // PN low byte
		frames[i] = frame
		timestamps[i] = base.Add(time.Duration(i) * time.Millisecond)
	}
	return frames, timestamps
}

func TestReplayConfigValidation(t *testing.T) {
	cases := []ReplayConfig{
		{Mode: ReplayFixedRate, PPS: 0},
		{Mode: ReplaySpeedMultiplier, Multiplier: 0},
		{Mode: ReplaySpeedMultiplier, Multiplier: -1},
	}

	for _, cfg := range cases {
		if err := cfg.Validate(); !errors.Is(err, models.ErrInvalidConfig) {
			t.Errorf("Expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}

	// Validation happens before any file I/O.
	_, err := OpenReplay("does-not-exist.pcap", ReplayConfig{Mode: ReplayFixedRate}, zap.NewNop())
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Errorf("Expected eager config error, got %v", err)
	}
}

func TestReplayFastDrain(t *testing.T) {
	frames, timestamps := testFrames(3)
	rc, err := NewReplayFromReader(writePCAP(t, frames, timestamps), ReplayConfig{Mode: ReplayFast}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReplayFromReader failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		pkt, err := rc.NextPacket(ctx)
		if err != nil {
			t.Fatalf("NextPacket %d failed: %v", i, err)
		}
		if pkt == nil {
			t.Fatalf("NextPacket %d returned nil without looping", i)
		}
		if pkt.Data[19] != byte(i+1) {
			t.Errorf("Packet %d out of order", i)
		}
		// Timestamps are rewritten to replay wall time.
		if time.Since(pkt.Timestamp) > time.Minute {
			t.Errorf("Timestamp not rewritten: %v", pkt.Timestamp)
		}
	}

	if _, err := rc.NextPacket(ctx); !errors.Is(err, models.ErrNoMorePackets) {
		t.Errorf("Expected ErrNoMorePackets, got %v", err)
	}

	if stats := rc.Stats(); stats.PacketsReceived != 3 || stats.PacketsDropped != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestReplayLoopBoundary(t *testing.T) {
	frames, timestamps := testFrames(2)
	rc, err := NewReplayFromReader(writePCAP(t, frames, timestamps),
		ReplayConfig{Mode: ReplayFast, Loop: true}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReplayFromReader failed: %v", err)
	}

	ctx := context.Background()

	// Drain the first pass.
	for i := 0; i < 2; i++ {
		if pkt, err := rc.NextPacket(ctx); err != nil || pkt == nil {
			t.Fatalf("First pass packet %d: (%v, %v)", i, pkt, err)
		}
	}

	// End of file with looping: one nil boundary signal, not an error.
	pkt, err := rc.NextPacket(ctx)
	if err != nil || pkt != nil {
		t.Fatalf("Expected loop boundary (nil, nil), got (%v, %v)", pkt, err)
	}
	if progress := rc.ReplayProgress(); progress.LoopsCompleted != 1 {
		t.Errorf("Expected 1 loop completed, got %d", progress.LoopsCompleted)
	}

	// The next call resumes from the first packet.
	pkt, err = rc.NextPacket(ctx)
	if err != nil || pkt == nil {
		t.Fatalf("Expected resume after boundary, got (%v, %v)", pkt, err)
	}
	if pkt.Data[19] != 1 {
		t.Errorf("Expected replay to resume at packet 1, got PN byte %d", pkt.Data[19])
	}
}

func TestReplayEmptyFileRejected(t *testing.T) {
	_, err := NewReplayFromReader(writePCAP(t, nil, nil), ReplayConfig{Mode: ReplayFast}, zap.NewNop())
	if err == nil {
		t.Fatal("Expected error for empty pcap")
	}
}

func TestReplayFixedRatePacing(t *testing.T) {
	frames, timestamps := testFrames(3)
	rc, err := NewReplayFromReader(writePCAP(t, frames, timestamps),
		ReplayConfig{Mode: ReplayFixedRate, PPS: 1000}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReplayFromReader failed: %v", err)
	}

	ctx := context.Background()
	start := time.Now()
	var previous time.Time
	for i := 0; i < 3; i++ {
		pkt, err := rc.NextPacket(ctx)
		if err != nil || pkt == nil {
			t.Fatalf("NextPacket %d: (%v, %v)", i, pkt, err)
		}
		if i > 0 {
			// Roughly 1 ms apart, allowing scheduler jitter.
			delta := pkt.Timestamp.Sub(previous)
			if delta < 500*time.Microsecond || delta > 100*time.Millisecond {
				t.Errorf("Inter-arrival %d out of range: %v", i, delta)
			}
		}
		previous = pkt.Timestamp
	}

	if elapsed := time.Since(start); elapsed < 3*time.Millisecond {
		t.Errorf("Fixed rate replay finished too fast: %v", elapsed)
	}
}

func TestReplaySleepIsCancellable(t *testing.T) {
	frames, timestamps := testFrames(2)
	rc, err := NewReplayFromReader(writePCAP(t, frames, timestamps),
		ReplayConfig{Mode: ReplayFixedRate, PPS: 1}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReplayFromReader failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = rc.NextPacket(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Cancellation did not interrupt the timing sleep")
	}
}
