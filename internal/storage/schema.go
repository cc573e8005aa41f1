/**
 * Database Schema.
 *
 * DDL for the analysis database: runs, flow statistics, and sequence
 * gaps. Flow rows are keyed by the textual FlowID, which round-trips
 * through models.ParseFlowID. The unique constraint on sequence_gaps
 * makes snapshot persistence idempotent.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package storage

// Contains the SQL statements to create the database tables.
const Schema = `
-- Analysis Runs Table
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

-- Flow Statistics Table
CREATE TABLE IF NOT EXISTS flows (
    id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    protocol TEXT NOT NULL,
    first_sequence INTEGER,
    last_sequence INTEGER,
    packets_received INTEGER NOT NULL DEFAULT 0,
    gaps_detected INTEGER NOT NULL DEFAULT 0,
    total_lost_packets INTEGER NOT NULL DEFAULT 0,
    min_gap INTEGER,
    max_gap INTEGER,
    total_bytes INTEGER NOT NULL DEFAULT 0,
    first_seen TIMESTAMP,
    last_seen TIMESTAMP,
    min_inter_us INTEGER,
    max_inter_us INTEGER,
    avg_inter_us INTEGER,
    dst_country TEXT,
    dst_asn TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, run_id),
    FOREIGN KEY (run_id) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_flows_run ON flows(run_id);
CREATE INDEX IF NOT EXISTS idx_flows_updated ON flows(updated_at);

-- Sequence Gaps Table
CREATE TABLE IF NOT EXISTS sequence_gaps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    flow_id TEXT NOT NULL,
    expected_sequence INTEGER NOT NULL,
    received_sequence INTEGER NOT NULL,
    gap_size INTEGER NOT NULL,
    detected_at TIMESTAMP NOT NULL,
    UNIQUE (run_id, flow_id, expected_sequence, received_sequence),
    FOREIGN KEY (run_id) REFERENCES runs(id)
);
CREATE INDEX IF NOT EXISTS idx_gaps_flow ON sequence_gaps(flow_id);
CREATE INDEX IF NOT EXISTS idx_gaps_detected ON sequence_gaps(detected_at);
`
