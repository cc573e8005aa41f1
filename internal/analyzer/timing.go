/**
 * Timing Statistics.
 *
 * Accumulates per-packet detection and tracking latencies collected in
 * debug mode. The accumulator is shared between the capture loop and
 * the shutdown reporter.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package analyzer

import (
	"fmt"
	"sync"

	"github.com/kleaSCM/gapscope/internal/models"
)

// Aggregates processing-time measurements across packets.
type TimingStats struct {
	mu            sync.Mutex
	totalDetectUS int64
	totalTrackUS  int64
	totalUS       int64
	packets       uint64
}

// NewTimingStats creates an empty accumulator.
func NewTimingStats() *TimingStats {
	return &TimingStats{}
}

// Record accumulates metrics from a single packet.
func (t *TimingStats) Record(m models.ProcessMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalDetectUS += m.DetectUS
	t.totalTrackUS += m.TrackUS
	t.totalUS += m.TotalUS
	t.packets++
}

// Averages returns the mean detect, track, and total processing times
// in microseconds.
func (t *TimingStats) Averages() (detectUS, trackUS, totalUS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.packets == 0 {
		return 0, 0, 0
	}
	n := float64(t.packets)
	return float64(t.totalDetectUS) / n, float64(t.totalTrackUS) / n, float64(t.totalUS) / n
}

// Report prints the accumulated averages.
func (t *TimingStats) Report() {
	detect, track, total := t.Averages()
	t.mu.Lock()
	packets := t.packets
	t.mu.Unlock()
	if packets == 0 {
		return
	}
	fmt.Println()
	fmt.Println("=== Processing Timing (debug) ===")
	fmt.Printf("Packets measured:   %d\n", packets)
	fmt.Printf("Avg detect:         %.3fus\n", detect)
	fmt.Printf("Avg track:          %.3fus\n", track)
	fmt.Printf("Avg total:          %.3fus\n", total)
}
