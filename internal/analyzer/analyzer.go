/**
 * Analyzer Loop.
 *
 * Drives the capture -> detect -> track pipeline. Parse errors skip
 * the packet; capture errors other than end-of-stream terminate the
 * loop, but the final snapshot and report still run. Periodic
 * snapshots are handed to a persistence worker so the hot path never
 * blocks on I/O.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kleaSCM/gapscope/internal/capture"
	"github.com/kleaSCM/gapscope/internal/models"
	"github.com/kleaSCM/gapscope/internal/protocol"
	"github.com/kleaSCM/gapscope/internal/storage"
	"github.com/kleaSCM/gapscope/internal/tracker"
)

// Defaults for periodic persistence.
const (
	DefaultPersistInterval        = 30 * time.Second
	DefaultPersistPacketThreshold = 100000
)

// Holds analyzer configuration.
type Config struct {
	PersistInterval        time.Duration
	PersistPacketThreshold uint64
	Debug                  bool
}

// snapshot pairs the tracker's projections for the persistence worker.
type snapshot struct {
	stats []models.FlowStats
	gaps  []models.SequenceGap
}

// Coordinates one analysis run over a capture source.
type Analyzer struct {
	source   capture.PacketSource
	registry *protocol.Registry
	tracker  *tracker.FlowTracker
	store    storage.Store
	cfg      Config
	log      *zap.Logger

	runID  string
	timing *TimingStats

	packetCount uint64
	gapCount    uint64
	startTime   time.Time
}

// New creates an analyzer. store may be nil for capture-only runs.
func New(source capture.PacketSource, registry *protocol.Registry,
	flowTracker *tracker.FlowTracker, store storage.Store,
	cfg Config, log *zap.Logger) *Analyzer {

	if cfg.PersistInterval <= 0 {
		cfg.PersistInterval = DefaultPersistInterval
	}
	if cfg.PersistPacketThreshold == 0 {
		cfg.PersistPacketThreshold = DefaultPersistPacketThreshold
	}

	return &Analyzer{
		source:   source,
		registry: registry,
		tracker:  flowTracker,
		store:    store,
		cfg:      cfg,
		log:      log,
		runID:    uuid.NewString(),
		timing:   NewTimingStats(),
	}
}

// RunID returns this run's identifier, recorded with every snapshot.
func (a *Analyzer) RunID() string { return a.runID }

// Run drives the pipeline until the source is exhausted or the
// context is cancelled, then persists a final snapshot and prints the
// analysis report.
func (a *Analyzer) Run(ctx context.Context) error {
	a.startTime = time.Now()
	a.log.Info("analysis started", zap.String("run_id", a.runID))

	// Persistence worker: absorbs periodic snapshots off-thread.
	snapshots := make(chan snapshot, 4)
	var workerWG sync.WaitGroup
	workerWG.Add(1)
	go func() {
		defer workerWG.Done()
		for snap := range snapshots {
			a.persist(snap)
		}
	}()

	lastPersist := time.Now()
	var loopErr error

loop:
	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received, flushing")
			break loop
		default:
		}

		pkt, err := a.source.NextPacket(ctx)
		switch {
		case errors.Is(err, models.ErrNoMorePackets):
			break loop
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			a.log.Info("shutdown signal received, flushing")
			break loop
		case err != nil:
			a.log.Error("capture error, terminating", zap.Error(err))
			loopErr = err
			break loop
		case pkt == nil:
			// Benign boundary: read timeout or replay loop reset.
			continue
		}

		a.packetCount++
		a.processPacket(pkt)

		// Periodic snapshot, by time or by packet count.
		if a.store != nil &&
			(time.Since(lastPersist) >= a.cfg.PersistInterval ||
				a.packetCount%a.cfg.PersistPacketThreshold == 0) {
			select {
			case snapshots <- snapshot{stats: a.tracker.Stats(), gaps: a.tracker.Gaps()}:
			default:
				// Worker is behind; the next snapshot supersedes
				// this one anyway.
				a.log.Warn("persistence worker busy, snapshot skipped")
			}
			lastPersist = time.Now()
		}
	}

	close(snapshots)
	workerWG.Wait()

	// Final synchronous snapshot.
	if a.store != nil {
		a.persist(snapshot{stats: a.tracker.Stats(), gaps: a.tracker.Gaps()})
	}

	a.printReport()
	if a.cfg.Debug {
		a.timing.Report()
		if replay, ok := a.source.(*capture.ReplayCapture); ok {
			replay.ReportIOStats()
		}
	}

	return loopErr
}

// processPacket runs detection and tracking for one packet. Parse
// errors are per-packet, never fatal.
func (a *Analyzer) processPacket(pkt *models.RawPacket) {
	var metrics models.ProcessMetrics
	var detectStart time.Time

	if a.cfg.Debug {
		detectStart = time.Now()
	}

	info, err := a.registry.DetectAndParse(pkt.Data)
	if a.cfg.Debug {
		metrics.DetectUS = time.Since(detectStart).Microseconds()
	}
	if err != nil {
		a.log.Debug("parse error, packet skipped", zap.Error(err))
		return
	}
	if info == nil {
		return
	}
	metrics.Detected = true

	analyzed := models.AnalyzedPacket{
		SequenceNumber: info.SequenceNumber,
		FlowID:         info.FlowID,
		Timestamp:      pkt.Timestamp,
		PayloadLength:  info.PayloadLength,
	}

	var trackStart time.Time
	if a.cfg.Debug {
		trackStart = time.Now()
	}
	gap := a.tracker.ProcessPacket(analyzed)
	if a.cfg.Debug {
		metrics.TrackUS = time.Since(trackStart).Microseconds()
		metrics.TotalUS = time.Since(detectStart).Microseconds()
	}

	if gap != nil {
		metrics.GapDetected = true
		a.gapCount++
		a.log.Debug("sequence gap detected",
			zap.String("flow", gap.FlowID.String()),
			zap.Uint32("expected", gap.Expected),
			zap.Uint32("received", gap.Received),
			zap.Uint32("gap_size", gap.GapSize))
	}

	if a.cfg.Debug {
		a.timing.Record(metrics)
	}
}

// persist writes one snapshot. Persistence failures are logged and the
// snapshot dropped; the hot path is unaffected.
func (a *Analyzer) persist(snap snapshot) {
	if err := a.store.PersistStatsAndGaps(a.runID, snap.stats, snap.gaps); err != nil {
		a.log.Error("failed to persist snapshot, dropped", zap.Error(err))
	}
}

// printReport writes the final analysis summary.
func (a *Analyzer) printReport() {
	elapsed := time.Since(a.startTime)
	pps := 0.0
	if elapsed > 0 {
		pps = float64(a.packetCount) / elapsed.Seconds()
	}

	fmt.Println()
	fmt.Println("=== Analysis Complete ===")
	fmt.Printf("Total packets analyzed: %d\n", a.packetCount)
	fmt.Printf("Total gaps detected: %d\n", a.gapCount)
	fmt.Printf("Elapsed time: %.2fs\n", elapsed.Seconds())
	fmt.Printf("Packet rate: %.0f pps\n", pps)

	captureStats := a.source.Stats()
	if captureStats.PacketsDropped > 0 {
		fmt.Printf("Capture drops: %d\n", captureStats.PacketsDropped)
	}

	registryStats := a.registry.Stats()
	fmt.Printf("Detection: fast-path=%d cache-hits=%d cache-misses=%d unknown=%d\n",
		registryStats.EthertypeFastPath, registryStats.CacheHits,
		registryStats.CacheMisses, registryStats.UnknownProtocol)

	stats := a.tracker.Stats()
	fmt.Printf("Flows analyzed: %d\n", len(stats))
	if len(stats) == 0 {
		return
	}

	fmt.Println()
	fmt.Printf("%-50s %15s %15s %10s %14s\n", "Flow ID", "Packets", "Bytes", "Gaps", "Bandwidth")
	fmt.Println(strings.Repeat("-", 110))

	for i := range stats {
		flow := &stats[i]
		fmt.Printf("%-50s %15d %15d %10d %9.2f Mbps\n",
			flow.FlowID.String(), flow.PacketsReceived, flow.TotalBytes,
			flow.GapsDetected, flow.BandwidthMbps())
	}
}
