/**
 * Packet Model.
 *
 * Defines the raw and analyzed packet representations that move through
 * the capture -> detect -> track pipeline, plus the per-packet metrics
 * collected in debug mode.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package models

import (
	"time"
)

// Represents a raw frame as delivered by a capture source.
type RawPacket struct {
	Data      []byte
	Timestamp time.Time
	// Original length on the wire; may exceed len(Data) when the
	// capture snaplen truncated the frame.
	WireLength int
}

// Represents the registry's output for one sequenced packet.
type SequenceInfo struct {
	SequenceNumber uint32
	FlowID         FlowID
	PayloadLength  int
}

// Represents a packet annotated with sequence and flow information,
// forming the flow tracker's input.
type AnalyzedPacket struct {
	SequenceNumber uint32
	FlowID         FlowID
	Timestamp      time.Time
	PayloadLength  int
}

// Represents statistics reported by a capture source.
type CaptureStats struct {
	PacketsReceived uint64
	PacketsDropped  uint64
}

// Represents timing metrics from processing a single packet.
// The microsecond fields are only populated in debug mode.
type ProcessMetrics struct {
	Detected    bool
	GapDetected bool
	DetectUS    int64
	TrackUS     int64
	TotalUS     int64
}
