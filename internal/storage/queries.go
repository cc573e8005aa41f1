/**
 * Storage Queries.
 *
 * Read queries over the analysis database, backing the REST query
 * surface.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// RecentFlows returns the most recently updated flow rows.
func (s *SQLiteStorage) RecentFlows(limit int) ([]FlowRecord, error) {
	rows, err := s.db.Query(`
	SELECT id, run_id, protocol, first_sequence, last_sequence,
	       packets_received, gaps_detected, total_lost_packets,
	       min_gap, max_gap, total_bytes, first_seen, last_seen,
	       avg_inter_us, dst_country, dst_asn
	FROM flows
	ORDER BY updated_at DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []FlowRecord
	for rows.Next() {
		var f FlowRecord
		var firstSeq, lastSeq, minGap, maxGap, avgInter sql.NullInt64
		var firstSeen, lastSeen sql.NullTime
		var country, asn sql.NullString

		err := rows.Scan(&f.FlowID, &f.RunID, &f.Protocol,
			&firstSeq, &lastSeq,
			&f.PacketsReceived, &f.GapsDetected, &f.TotalLostPackets,
			&minGap, &maxGap, &f.TotalBytes,
			&firstSeen, &lastSeen, &avgInter, &country, &asn)
		if err != nil {
			return nil, err
		}

		f.FirstSequence = nullSeq(firstSeq)
		f.LastSequence = nullSeq(lastSeq)
		f.MinGap = nullSeq(minGap)
		f.MaxGap = nullSeq(maxGap)
		f.FirstSeen = nullTime(firstSeen)
		f.LastSeen = nullTime(lastSeen)
		if avgInter.Valid {
			us := avgInter.Int64
			f.AvgInterUS = &us
		}
		f.DstCountry = country.String
		f.DstASN = asn.String

		flows = append(flows, f)
	}
	return flows, rows.Err()
}

// RecentGaps returns the most recently detected gaps across all flows.
func (s *SQLiteStorage) RecentGaps(limit int) ([]GapRecord, error) {
	return s.queryGaps(`
	SELECT id, run_id, flow_id, expected_sequence, received_sequence,
	       gap_size, detected_at
	FROM sequence_gaps
	ORDER BY detected_at DESC
	LIMIT ?`, limit)
}

// GapsForFlow returns gaps recorded for one flow, newest first.
func (s *SQLiteStorage) GapsForFlow(flowID string, limit int) ([]GapRecord, error) {
	return s.queryGaps(`
	SELECT id, run_id, flow_id, expected_sequence, received_sequence,
	       gap_size, detected_at
	FROM sequence_gaps
	WHERE flow_id = ?
	ORDER BY detected_at DESC
	LIMIT ?`, flowID, limit)
}

func (s *SQLiteStorage) queryGaps(query string, args ...interface{}) ([]GapRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query gaps: %w", err)
	}
	defer rows.Close()

	var gaps []GapRecord
	for rows.Next() {
		var g GapRecord
		if err := rows.Scan(&g.ID, &g.RunID, &g.FlowID,
			&g.Expected, &g.Received, &g.GapSize, &g.DetectedAt); err != nil {
			return nil, err
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// Status counts the database contents.
func (s *SQLiteStorage) Status() (StatusSummary, error) {
	var summary StatusSummary
	row := s.db.QueryRow(`
	SELECT (SELECT COUNT(*) FROM runs),
	       (SELECT COUNT(*) FROM flows),
	       (SELECT COUNT(*) FROM sequence_gaps)`)
	if err := row.Scan(&summary.Runs, &summary.Flows, &summary.Gaps); err != nil {
		return summary, fmt.Errorf("failed to query status: %w", err)
	}
	return summary, nil
}

func nullSeq(v sql.NullInt64) *uint32 {
	if !v.Valid {
		return nil
	}
	seq := uint32(v.Int64)
	return &seq
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
