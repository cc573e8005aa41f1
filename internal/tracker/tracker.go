/**
 * Flow Tracker.
 *
 * Maintains per-flow sequence state for gap detection. Each flow keeps
 * the expected next sequence, the highest sequence observed, a bounded
 * reorder buffer for late arrivals, and running traffic statistics.
 * Sequence arithmetic is modulo 2^32; wrap-around is part of the
 * domain.
 *
 * The flow map is a concurrent map with one mutex per flow, so a
 * statistics snapshot can run while the capture loop keeps feeding
 * packets: read-modify-write of one flow is atomic.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package tracker

import (
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/kleaSCM/gapscope/internal/models"
)

// DefaultReorderWindow bounds the per-flow reorder buffer.
const DefaultReorderWindow = 32

// Tracks packet sequences for multiple flows with reordering support.
type FlowTracker struct {
	flows         *haxmap.Map[string, *flowState]
	reorderWindow int
}

// Internal state for a single flow. All sequence fields are valid only
// when seqInit is set; they become set together on the first packet of
// a non-GenericL3 flow.
type flowState struct {
	mu sync.Mutex

	flowID models.FlowID
	window int

	seqInit          bool
	firstSequence    uint32
	lastSequence     uint32
	highestSequence  uint32
	expectedSequence uint32

	// Out-of-order packets awaiting the hole they fill, keyed by
	// sequence number and bounded by the reorder window.
	reorderBuffer map[uint32]models.AnalyzedPacket

	gaps   []models.SequenceGap
	minGap uint32
	maxGap uint32

	packetsReceived uint64
	totalBytes      uint64
	firstTimestamp  time.Time
	lastTimestamp   time.Time

	minInterUS    uint64
	maxInterUS    uint64
	totalInterUS  uint64
	interCount    uint64
	protocolDist  map[uint8]uint64
}

func newFlowState(id models.FlowID, window int) *flowState {
	return &flowState{
		flowID:        id,
		window:        window,
		reorderBuffer: make(map[uint32]models.AnalyzedPacket),
		protocolDist:  make(map[uint8]uint64),
	}
}

// NewFlowTracker creates a tracker with the default reorder window.
func NewFlowTracker() *FlowTracker {
	return NewFlowTrackerWithWindow(DefaultReorderWindow)
}

// NewFlowTrackerWithWindow creates a tracker with a custom reorder
// window size.
func NewFlowTrackerWithWindow(window int) *FlowTracker {
	if window <= 0 {
		window = DefaultReorderWindow
	}
	return &FlowTracker{
		flows:         haxmap.New[string, *flowState](),
		reorderWindow: window,
	}
}

// seqGreater reports a > b modulo 2^32: the forward distance from b
// to a lies in the lower half of the sequence space. Under this
// ordering, 1 follows u32 max as a forward step of 2.
func seqGreater(a, b uint32) bool {
	return a != b && a-b < 1<<31
}

// ProcessPacket ingests one analyzed packet and returns the gap it
// exposed, if any. Calls for a single flow must come from one
// producer; calls across flows may interleave freely.
func (t *FlowTracker) ProcessPacket(pkt models.AnalyzedPacket) *models.SequenceGap {
	key := pkt.FlowID.String()

	state, ok := t.flows.Get(key)
	if !ok {
		state, _ = t.flows.GetOrSet(key, newFlowState(pkt.FlowID, t.reorderWindow))
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	state.packetsReceived++
	state.totalBytes += uint64(pkt.PayloadLength)

	// Inter-arrival time, guarded against capture clocks stepping
	// backwards.
	if !state.lastTimestamp.IsZero() && !pkt.Timestamp.Before(state.lastTimestamp) {
		deltaUS := uint64(pkt.Timestamp.Sub(state.lastTimestamp).Microseconds())
		if state.interCount == 0 || deltaUS < state.minInterUS {
			state.minInterUS = deltaUS
		}
		if state.interCount == 0 || deltaUS > state.maxInterUS {
			state.maxInterUS = deltaUS
		}
		state.totalInterUS += deltaUS
		state.interCount++
	}

	if state.firstTimestamp.IsZero() {
		state.firstTimestamp = pkt.Timestamp
	}
	state.lastTimestamp = pkt.Timestamp

	// GenericL3 flows carry a synthetic sequence: collect the
	// protocol distribution, then skip all sequence logic.
	if generic, ok := pkt.FlowID.(models.GenericL3Flow); ok {
		state.protocolDist[generic.IPProto]++
		return nil
	}

	// First packet of the flow.
	if !state.seqInit {
		state.seqInit = true
		state.firstSequence = pkt.SequenceNumber
		state.lastSequence = pkt.SequenceNumber
		state.highestSequence = pkt.SequenceNumber
		state.expectedSequence = pkt.SequenceNumber + 1
		return nil
	}

	seq := pkt.SequenceNumber
	state.lastSequence = seq

	// In order.
	if seq == state.expectedSequence {
		state.expectedSequence = seq + 1
		state.highestSequence = seq
		return nil
	}

	if seqGreater(seq, state.highestSequence) {
		// Forward jump past the expected sequence: one gap for the
		// whole missing region.
		gap := models.SequenceGap{
			FlowID:     pkt.FlowID,
			Expected:   state.expectedSequence,
			Received:   seq,
			GapSize:    seq - state.expectedSequence,
			DetectedAt: time.Now(),
		}
		state.expectedSequence = seq + 1
		state.highestSequence = seq
		state.buffer(seq, pkt)
		state.recordGap(gap)
		return &gap
	}

	// Duplicate of the highest sequence: it was already consumed on
	// the in-order path and never buffered, so drop it outright.
	if seq == state.highestSequence {
		return nil
	}

	// Late arrival. Duplicates (already buffered) are dropped.
	if _, dup := state.reorderBuffer[seq]; !dup {
		if seq == state.expectedSequence {
			state.expectedSequence = seq + 1
		}
		state.buffer(seq, pkt)
	}

	return nil
}

// buffer inserts a sequence into the reorder buffer, evicting the
// lowest-keyed entry when the window overflows. An evicted sequence
// stays counted as lost: its gap was already reported.
func (s *flowState) buffer(seq uint32, pkt models.AnalyzedPacket) {
	s.reorderBuffer[seq] = pkt
	if len(s.reorderBuffer) <= s.window {
		return
	}

	first := true
	var lowest uint32
	for buffered := range s.reorderBuffer {
		if first || buffered < lowest {
			lowest = buffered
			first = false
		}
	}
	delete(s.reorderBuffer, lowest)
}

func (s *flowState) recordGap(gap models.SequenceGap) {
	if len(s.gaps) == 0 || gap.GapSize < s.minGap {
		s.minGap = gap.GapSize
	}
	if len(s.gaps) == 0 || gap.GapSize > s.maxGap {
		s.maxGap = gap.GapSize
	}
	s.gaps = append(s.gaps, gap)
}

// Stats returns an independent snapshot of every flow's statistics.
func (t *FlowTracker) Stats() []models.FlowStats {
	var out []models.FlowStats
	t.flows.ForEach(func(_ string, state *flowState) bool {
		state.mu.Lock()
		out = append(out, state.snapshot())
		state.mu.Unlock()
		return true
	})
	return out
}

// Gaps returns all gaps recorded so far, across flows.
func (t *FlowTracker) Gaps() []models.SequenceGap {
	var out []models.SequenceGap
	t.flows.ForEach(func(_ string, state *flowState) bool {
		state.mu.Lock()
		out = append(out, state.gaps...)
		state.mu.Unlock()
		return true
	})
	return out
}

// FlowCount returns the number of flows seen so far.
func (t *FlowTracker) FlowCount() int {
	return int(t.flows.Len())
}

// snapshot projects the state into an immutable FlowStats. Caller
// holds the state mutex.
func (s *flowState) snapshot() models.FlowStats {
	stats := models.FlowStats{
		FlowID:          s.flowID,
		PacketsReceived: s.packetsReceived,
		GapsDetected:    uint64(len(s.gaps)),
		TotalBytes:      s.totalBytes,
		FirstTimestamp:  s.firstTimestamp,
		LastTimestamp:   s.lastTimestamp,
	}

	for _, gap := range s.gaps {
		stats.TotalLostPackets += uint64(gap.GapSize)
	}

	if s.seqInit {
		first, last := s.firstSequence, s.lastSequence
		stats.FirstSequence = &first
		stats.LastSequence = &last
	}
	if len(s.gaps) > 0 {
		minGap, maxGap := s.minGap, s.maxGap
		stats.MinGap = &minGap
		stats.MaxGap = &maxGap
	}
	if s.interCount > 0 {
		minIA := time.Duration(s.minInterUS) * time.Microsecond
		maxIA := time.Duration(s.maxInterUS) * time.Microsecond
		avgIA := time.Duration(s.totalInterUS/s.interCount) * time.Microsecond
		stats.MinInterArrival = &minIA
		stats.MaxInterArrival = &maxIA
		stats.AvgInterArrival = &avgIA
	}
	if len(s.protocolDist) > 0 {
		stats.ProtocolDistribution = make(map[uint8]uint64, len(s.protocolDist))
		for proto, count := range s.protocolDist {
			stats.ProtocolDistribution[proto] = count
		}
	}

	return stats
}
