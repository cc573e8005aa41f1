/**
 * Protocol Registry.
 *
 * Classifies raw Ethernet frames with a three-tier strategy:
 *   1. EtherType pre-filter: MACsec frames go straight to the MACsec
 *      parser; anything that is neither MACsec nor IPv4 is unknown.
 *   2. Flow cache: a provisional FlowID derived from the IPv4 header
 *      alone selects the parser that worked for this flow before.
 *   3. Full detection: parsers are tried in descending priority and
 *      the winner is cached for the flow.
 *
 * The parser list is fixed at construction; the cache and counters are
 * safe for concurrent use.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package protocol

import (
	"encoding/binary"
	"net/netip"
	"sort"
	"sync/atomic"

	"github.com/alphadose/haxmap"
	"github.com/kleaSCM/gapscope/internal/models"
)

// Parser priorities; higher is tried first during full detection.
const (
	PriorityMACsec    = 30
	PriorityIPsec     = 20
	PriorityGenericL3 = 10
)

type parserEntry struct {
	parser   SequenceParser
	priority int
	name     string
}

// Detects protocols and dispatches frames to the matching parser.
type Registry struct {
	// Sorted by priority, highest first; immutable after construction.
	parsers []parserEntry

	// Provisional FlowID (textual) -> index into parsers.
	flowCache *haxmap.Map[string, int]

	cacheHits         atomic.Uint64
	cacheMisses       atomic.Uint64
	ethertypeFastPath atomic.Uint64
	unknownProtocol   atomic.Uint64
}

// Represents a snapshot of the registry's detection counters.
type RegistryStats struct {
	CacheHits         uint64
	CacheMisses       uint64
	EthertypeFastPath uint64
	UnknownProtocol   uint64
	CacheSize         int
}

// NewRegistry creates a registry with the built-in parsers
// (MACsec, IPsec-ESP, Generic-L3).
func NewRegistry() *Registry {
	return newRegistry([]parserEntry{
		{parser: NewMACsecParser(), priority: PriorityMACsec, name: "MACsec"},
		{parser: NewIPsecParser(), priority: PriorityIPsec, name: "IPsec-ESP"},
		{parser: NewGenericL3Parser(), priority: PriorityGenericL3, name: "Generic-L3"},
	})
}

func newRegistry(entries []parserEntry) *Registry {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority > entries[j].priority
	})
	return &Registry{
		parsers:   entries,
		flowCache: haxmap.New[string, int](),
	}
}

// DetectAndParse classifies a raw frame and extracts its sequence
// information.
//
// Returns (info, nil) when a parser matched, (nil, nil) when the frame
// is well-formed but unsupported, and (nil, err) when a parser matched
// the framing but found it inconsistent.
func (r *Registry) DetectAndParse(data []byte) (*models.SequenceInfo, error) {
	if len(data) < 14 {
		return nil, nil
	}

	// Tier 1: EtherType pre-filter.
	ethertype := binary.BigEndian.Uint16(data[12:14])
	if ethertype == EtherTypeMACsec {
		r.ethertypeFastPath.Add(1)
		return r.parsers[0].parser.ParseSequence(data)
	}
	if ethertype != EtherTypeIPv4 {
		r.unknownProtocol.Add(1)
		return nil, nil
	}

	// Tier 2: flow cache keyed by a provisional FlowID from the IPv4
	// header. The provisional id may differ from the parser's final
	// id; a declining cached parser is evicted and detection falls
	// through.
	if flowID, ok := provisionalFlowID(data); ok {
		key := flowID.String()
		if idx, hit := r.flowCache.Get(key); hit {
			info, err := r.parsers[idx].parser.ParseSequence(data)
			if err != nil {
				return nil, err
			}
			if info != nil {
				r.cacheHits.Add(1)
				return info, nil
			}
			r.flowCache.Del(key)
		}
	}

	// Tier 3: full detection in priority order.
	r.cacheMisses.Add(1)
	for idx, entry := range r.parsers {
		info, err := entry.parser.ParseSequence(data)
		if err != nil {
			return nil, err
		}
		if info != nil {
			r.flowCache.Set(info.FlowID.String(), idx)
			return info, nil
		}
	}

	r.unknownProtocol.Add(1)
	return nil, nil
}

// provisionalFlowID derives a cache key from the IPv4 header alone,
// without validating the full packet.
func provisionalFlowID(data []byte) (models.FlowID, bool) {
	// Ethernet (14) + IPv4 (20).
	if len(data) < 34 {
		return nil, false
	}

	ihl := int(data[14]&0x0f) * 4
	ipHeaderEnd := 14 + ihl
	if len(data) < ipHeaderEnd+4 {
		return nil, false
	}

	switch proto := data[23]; proto {
	case ipProtocolESP:
		dstIP := netip.AddrFrom4([4]byte(data[30:34]))
		spi := binary.BigEndian.Uint32(data[ipHeaderEnd : ipHeaderEnd+4])
		return models.IPsecFlow{SPI: spi, DstIP: dstIP}, true

	case models.ProtoTCP, models.ProtoUDP:
		srcIP := netip.AddrFrom4([4]byte(data[26:30]))
		dstIP := netip.AddrFrom4([4]byte(data[30:34]))
		transport := data[ipHeaderEnd:]
		srcPort := binary.BigEndian.Uint16(transport[0:2])
		dstPort := binary.BigEndian.Uint16(transport[2:4])
		return models.GenericL3Flow{
			SrcIP:   srcIP,
			DstIP:   dstIP,
			SrcPort: srcPort,
			DstPort: dstPort,
			IPProto: proto,
		}, true
	}

	return nil, false
}

// Stats returns a snapshot of the detection counters. Safe to call
// concurrently with DetectAndParse.
func (r *Registry) Stats() RegistryStats {
	return RegistryStats{
		CacheHits:         r.cacheHits.Load(),
		CacheMisses:       r.cacheMisses.Load(),
		EthertypeFastPath: r.ethertypeFastPath.Load(),
		UnknownProtocol:   r.unknownProtocol.Load(),
		CacheSize:         int(r.flowCache.Len()),
	}
}

// ClearCache drops all cached flow-to-parser associations. Used by
// tests and for memory control on long captures.
func (r *Registry) ClearCache() {
	var keys []string
	r.flowCache.ForEach(func(key string, _ int) bool {
		keys = append(keys, key)
		return true
	})
	r.flowCache.Del(keys...)
}
