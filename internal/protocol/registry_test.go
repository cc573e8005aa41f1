/**
 * Protocol Registry Tests.
 *
 * Verifies the three-tier dispatch: the MACsec EtherType fast path,
 * flow-cache hits on repeat packets, full detection with priority
 * ordering, and single-shot eviction when a cached parser declines.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package protocol

import (
	"testing"

	"github.com/kleaSCM/gapscope/internal/models"
)

func TestRegistryMACsecFastPath(t *testing.T) {
	registry := NewRegistry()
	frame := buildMACsecFrame(7, 0x001122334455AABB, 46, 16)

	info, err := registry.DetectAndParse(frame)
	if err != nil {
		t.Fatalf("DetectAndParse failed: %v", err)
	}
	if info == nil {
		t.Fatal("Expected SequenceInfo, got nil")
	}
	if info.SequenceNumber != 7 {
		t.Errorf("Expected sequence 7, got %d", info.SequenceNumber)
	}

	stats := registry.Stats()
	if stats.EthertypeFastPath != 1 {
		t.Errorf("Expected fast path counter 1, got %d", stats.EthertypeFastPath)
	}
	if stats.CacheHits != 0 || stats.CacheMisses != 0 {
		t.Errorf("Fast path must not touch the cache: %+v", stats)
	}
}

func TestRegistryCacheHitOnSecondPacket(t *testing.T) {
	registry := NewRegistry()
	frame := buildTCPFrame([4]byte{192, 168, 1, 10}, [4]byte{10, 0, 0, 1}, 12345, 80, 1000, 10)

	// First packet: full detection, cache miss.
	if _, err := registry.DetectAndParse(frame); err != nil {
		t.Fatalf("First DetectAndParse failed: %v", err)
	}
	stats := registry.Stats()
	if stats.CacheMisses != 1 || stats.CacheHits != 0 {
		t.Fatalf("Expected 1 miss 0 hits, got %+v", stats)
	}

	// Second packet of the same flow: served from the cache.
	if _, err := registry.DetectAndParse(frame); err != nil {
		t.Fatalf("Second DetectAndParse failed: %v", err)
	}
	stats = registry.Stats()
	if stats.CacheMisses != 1 || stats.CacheHits != 1 {
		t.Errorf("Expected 1 miss 1 hit, got %+v", stats)
	}
}

func TestRegistryESPDetection(t *testing.T) {
	registry := NewRegistry()
	frame := buildESPFrame(0x12345678, 42, [4]byte{10, 0, 0, 1}, 16)

	info, err := registry.DetectAndParse(frame)
	if err != nil || info == nil {
		t.Fatalf("Expected detection, got (%v, %v)", info, err)
	}
	if _, ok := info.FlowID.(models.IPsecFlow); !ok {
		t.Errorf("Expected IPsec flow, got %v", info.FlowID)
	}
}

func TestRegistryUnknownEtherType(t *testing.T) {
	registry := NewRegistry()
	frame := make([]byte, 20)
	frame[12] = 0x08 // ARP (0x0806)
	frame[13] = 0x06

	info, err := registry.DetectAndParse(frame)
	if err != nil || info != nil {
		t.Fatalf("Expected (nil, nil), got (%v, %v)", info, err)
	}

	if stats := registry.Stats(); stats.UnknownProtocol != 1 {
		t.Errorf("Expected unknown counter 1, got %d", stats.UnknownProtocol)
	}
}

func TestRegistryRuntFrame(t *testing.T) {
	registry := NewRegistry()
	info, err := registry.DetectAndParse(make([]byte, 10))
	if err != nil || info != nil {
		t.Errorf("Expected (nil, nil) for runt frame, got (%v, %v)", info, err)
	}
}

func TestRegistryClearCache(t *testing.T) {
	registry := NewRegistry()
	frame := buildTCPFrame([4]byte{192, 168, 1, 10}, [4]byte{10, 0, 0, 1}, 12345, 80, 1000, 10)

	registry.DetectAndParse(frame)
	if stats := registry.Stats(); stats.CacheSize == 0 {
		t.Fatal("Expected populated cache")
	}

	registry.ClearCache()
	if stats := registry.Stats(); stats.CacheSize != 0 {
		t.Errorf("Expected empty cache, got size %d", stats.CacheSize)
	}
}

func TestRegistryStatsIsolation(t *testing.T) {
	registry1 := NewRegistry()
	registry2 := NewRegistry()
	frame := buildMACsecFrame(1, 0x1, 10, 16)

	registry1.DetectAndParse(frame)

	if stats := registry2.Stats(); stats.EthertypeFastPath != 0 {
		t.Errorf("Counters leaked between registries: %+v", stats)
	}
}

// Declines every parse after the first, to exercise eviction.
type flakyParser struct {
	inner    *GenericL3Parser
	parses   int
	declines bool
}

func (p *flakyParser) ParseSequence(data []byte) (*models.SequenceInfo, error) {
	if p.declines {
		return nil, nil
	}
	p.parses++
	if p.parses >= 1 {
		p.declines = true
	}
	return p.inner.ParseSequence(data)
}

func (p *flakyParser) Matches(data []byte) bool      { return p.inner.Matches(data) }
func (p *flakyParser) ProtocolName() string          { return "Flaky-L3" }

func TestRegistrySingleShotEviction(t *testing.T) {
	// A cached parser that declines is evicted and detection falls
	// through to the full cascade.
	flaky := &flakyParser{inner: NewGenericL3Parser()}
	registry := newRegistry([]parserEntry{
		{parser: flaky, priority: PriorityGenericL3, name: flaky.ProtocolName()},
	})

	frame := buildTCPFrame([4]byte{192, 168, 1, 10}, [4]byte{10, 0, 0, 1}, 12345, 80, 1000, 10)

	// First packet populates the cache.
	info, err := registry.DetectAndParse(frame)
	if err != nil || info == nil {
		t.Fatalf("Expected detection, got (%v, %v)", info, err)
	}
	if stats := registry.Stats(); stats.CacheSize != 1 {
		t.Fatalf("Expected cached flow, got %+v", stats)
	}

	// Second packet: the cached parser declines, the entry is
	// evicted, and with every parser declining the packet is
	// unsupported rather than an error.
	info, err = registry.DetectAndParse(frame)
	if err != nil || info != nil {
		t.Fatalf("Expected (nil, nil) after decline, got (%v, %v)", info, err)
	}

	stats := registry.Stats()
	if stats.CacheSize != 0 {
		t.Errorf("Expected evicted cache entry, got size %d", stats.CacheSize)
	}
	if stats.CacheHits != 0 {
		t.Errorf("A declining cached parser must not count as a hit, got %d", stats.CacheHits)
	}
	if stats.UnknownProtocol != 1 {
		t.Errorf("Expected unknown counter 1, got %d", stats.UnknownProtocol)
	}
}
