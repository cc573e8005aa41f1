/**
 * Sequence Parser Contract.
 *
 * Abstraction over protocols that carry a per-packet sequence number.
 * Implementations are registered with the protocol registry and tried
 * in priority order during full detection.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package protocol

import (
	"github.com/kleaSCM/gapscope/internal/models"
)

// EtherTypes understood by the built-in parsers.
const (
	EtherTypeMACsec = 0x88E5
	EtherTypeIPv4   = 0x0800
)

// Extracts sequence numbers and flow identity from raw Ethernet frames.
type SequenceParser interface {
	// ParseSequence parses a raw frame. Returns (nil, nil) when the
	// frame is not for this protocol, a *models.ParseError when the
	// frame matches this protocol's framing but is inconsistent.
	ParseSequence(data []byte) (*models.SequenceInfo, error)

	// Matches performs a quick protocol check before full parsing.
	Matches(data []byte) bool

	// ProtocolName returns the parser's name for metrics and reports.
	ProtocolName() string
}
