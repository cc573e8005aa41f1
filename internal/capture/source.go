/**
 * Capture Source Contract.
 *
 * Abstraction over packet producers (live interface, PCAP file, replay
 * engine) so the analyzer can drive any of them without knowing the
 * details.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package capture

import (
	"context"

	"github.com/kleaSCM/gapscope/internal/models"
)

// Produces raw packets for the analysis pipeline.
type PacketSource interface {
	// NextPacket blocks until a packet is available.
	//
	// Returns (packet, nil) for a packet, (nil, nil) for a benign
	// boundary such as a read timeout or a replay loop reset,
	// models.ErrNoMorePackets when the stream is exhausted, and any
	// other error when the source failed terminally.
	NextPacket(ctx context.Context) (*models.RawPacket, error)

	// Stats returns receive/drop counters from the source.
	Stats() models.CaptureStats
}

// Implemented by sources that support kernel-level packet filters.
type FilterSource interface {
	SetFilter(filter string) error
}
