/**
 * SQLite Implementation.
 *
 * Implements the Storage interface using SQLite3, suitable for
 * standalone and embedded deployment scenarios. A file lock guards
 * against two analyzers writing the same database; transient write
 * failures are retried before the snapshot is dropped.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package storage

import (
	"database/sql"
	"fmt"
	"net/netip"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kleaSCM/gapscope/internal/enricher"
	"github.com/kleaSCM/gapscope/internal/models"
)

const (
	persistAttempts = 3
	persistDelay    = 100 * time.Millisecond
)

// Implements the Storage interface for SQLite.
type SQLiteStorage struct {
	db    *sql.DB
	lock  *flock.Flock
	geoIP *enricher.GeoIPService
	log   *zap.Logger
}

// NewSQLiteStorage opens (or creates) the database, takes the writer
// lock, and applies the schema. geoIP may be nil; enrichment is then
// skipped.
func NewSQLiteStorage(dbPath string, geoIP *enricher.GeoIPService, log *zap.Logger) (*SQLiteStorage, error) {
	lock := flock.New(dbPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock database: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("database %s is locked by another analyzer", dbPath)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLiteStorage{db: db, lock: lock, geoIP: geoIP, log: log}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteReader opens the database read-only (no writer lock), for
// the REST query surface.
func NewSQLiteReader(dbPath string, log *zap.Logger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLiteStorage{db: db, log: log}, nil
}

// migrate applies the schema to the database.
func (s *SQLiteStorage) migrate() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database and releases the writer lock.
func (s *SQLiteStorage) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		s.lock.Unlock()
	}
	return err
}

// PersistStatsAndGaps writes one snapshot, retrying transient
// failures. The snapshot is idempotent: flows upsert by (id, run) and
// gaps dedup on (run, flow, expected, received).
func (s *SQLiteStorage) PersistStatsAndGaps(runID string, stats []models.FlowStats, gaps []models.SequenceGap) error {
	err := retry.Do(
		func() error { return s.persistOnce(runID, stats, gaps) },
		retry.Attempts(persistAttempts),
		retry.Delay(persistDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("snapshot persist retry",
				zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to persist snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) persistOnce(runID string, stats []models.FlowStats, gaps []models.SequenceGap) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	_, err = tx.Exec(`
	INSERT INTO runs (id, started_at, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at;
	`, runID, now, now)
	if err != nil {
		return err
	}

	flowStmt, err := tx.Prepare(`
	INSERT INTO flows (id, run_id, protocol, first_sequence, last_sequence,
	    packets_received, gaps_detected, total_lost_packets, min_gap, max_gap,
	    total_bytes, first_seen, last_seen, min_inter_us, max_inter_us,
	    avg_inter_us, dst_country, dst_asn, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id, run_id) DO UPDATE SET
	    first_sequence = excluded.first_sequence,
	    last_sequence = excluded.last_sequence,
	    packets_received = excluded.packets_received,
	    gaps_detected = excluded.gaps_detected,
	    total_lost_packets = excluded.total_lost_packets,
	    min_gap = excluded.min_gap,
	    max_gap = excluded.max_gap,
	    total_bytes = excluded.total_bytes,
	    first_seen = excluded.first_seen,
	    last_seen = excluded.last_seen,
	    min_inter_us = excluded.min_inter_us,
	    max_inter_us = excluded.max_inter_us,
	    avg_inter_us = excluded.avg_inter_us,
	    dst_country = excluded.dst_country,
	    dst_asn = excluded.dst_asn,
	    updated_at = excluded.updated_at;
	`)
	if err != nil {
		return err
	}
	defer flowStmt.Close()

	for i := range stats {
		flow := &stats[i]
		country, asn := s.lookupGeo(flow.FlowID)

		_, err = flowStmt.Exec(
			flow.FlowID.String(), runID, flow.FlowID.Protocol(),
			seqValue(flow.FirstSequence), seqValue(flow.LastSequence),
			flow.PacketsReceived, flow.GapsDetected, flow.TotalLostPackets,
			seqValue(flow.MinGap), seqValue(flow.MaxGap),
			flow.TotalBytes,
			timeValue(flow.FirstTimestamp), timeValue(flow.LastTimestamp),
			durValue(flow.MinInterArrival), durValue(flow.MaxInterArrival),
			durValue(flow.AvgInterArrival),
			country, asn, now,
		)
		if err != nil {
			return err
		}
	}

	gapStmt, err := tx.Prepare(`
	INSERT OR IGNORE INTO sequence_gaps
	    (run_id, flow_id, expected_sequence, received_sequence, gap_size, detected_at)
	VALUES (?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return err
	}
	defer gapStmt.Close()

	for _, gap := range gaps {
		_, err = gapStmt.Exec(runID, gap.FlowID.String(),
			gap.Expected, gap.Received, gap.GapSize, gap.DetectedAt.UTC())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Implemented by flow identifiers that carry a destination address
// (IPsec and GenericL3; MACsec channels have no L3 endpoint).
type dstAddressed interface {
	DstAddr() netip.Addr
}

// lookupGeo resolves country/ASN for flows that carry a destination
// address. Enrichment is best effort and never fails the snapshot.
func (s *SQLiteStorage) lookupGeo(id models.FlowID) (country, asn string) {
	if s.geoIP == nil {
		return "", ""
	}
	flow, ok := id.(dstAddressed)
	if !ok {
		return "", ""
	}
	location := s.geoIP.LocateDst(flow.DstAddr())
	return location.Country, location.ASN
}

func seqValue(v *uint32) interface{} {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func timeValue(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func durValue(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return d.Microseconds()
}
