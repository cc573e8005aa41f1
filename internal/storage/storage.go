/**
 * Storage Interface.
 *
 * Defines the persistence contract consumed by the analyzer and the
 * query surface consumed by the REST API. Snapshot persistence must be
 * idempotent: the analyzer may submit the same snapshot twice on
 * retry.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package storage

import (
	"time"

	"github.com/kleaSCM/gapscope/internal/models"
)

// Absorbs snapshots of flow statistics and gaps. Called from the
// analyzer's persistence worker, never from the hot path.
type Store interface {
	PersistStatsAndGaps(runID string, stats []models.FlowStats, gaps []models.SequenceGap) error
}

// Represents a persisted flow row as served by the query surface.
type FlowRecord struct {
	FlowID           string     `json:"flow_id"`
	RunID            string     `json:"run_id"`
	Protocol         string     `json:"protocol"`
	PacketsReceived  uint64     `json:"packets_received"`
	GapsDetected     uint64     `json:"gaps_detected"`
	TotalLostPackets uint64     `json:"total_lost_packets"`
	TotalBytes       uint64     `json:"total_bytes"`
	FirstSequence    *uint32    `json:"first_sequence,omitempty"`
	LastSequence     *uint32    `json:"last_sequence,omitempty"`
	MinGap           *uint32    `json:"min_gap,omitempty"`
	MaxGap           *uint32    `json:"max_gap,omitempty"`
	FirstSeen        *time.Time `json:"first_seen,omitempty"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
	AvgInterUS       *int64     `json:"avg_inter_arrival_us,omitempty"`
	DstCountry       string     `json:"dst_country,omitempty"`
	DstASN           string     `json:"dst_asn,omitempty"`
}

// Represents a persisted gap row.
type GapRecord struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	FlowID     string    `json:"flow_id"`
	Expected   uint32    `json:"expected"`
	Received   uint32    `json:"received"`
	GapSize    uint32    `json:"gap_size"`
	DetectedAt time.Time `json:"detected_at"`
}

// Summarizes the database contents for the status endpoint.
type StatusSummary struct {
	Runs  int64 `json:"runs"`
	Flows int64 `json:"flows"`
	Gaps  int64 `json:"gaps"`
}

// Full storage contract: persistence plus the read surface.
type Storage interface {
	Store
	RecentFlows(limit int) ([]FlowRecord, error)
	RecentGaps(limit int) ([]GapRecord, error)
	GapsForFlow(flowID string, limit int) ([]GapRecord, error)
	Status() (StatusSummary, error)
	Close() error
}
