/**
 * Flow Destination Enrichment.
 *
 * Resolves country and ASN context for the destination addresses of
 * IPsec and transport flows, using MaxMind GeoLite2 databases. The
 * same destinations recur in every persistence snapshot, so resolved
 * locations are cached per address, including negative results.
 * Enrichment is best effort: a flow without a resolvable destination
 * is persisted without location columns.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package enricher

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Location context persisted alongside a flow's statistics.
type FlowLocation struct {
	Country string
	ASN     string
}

// IsZero reports whether the lookup produced nothing to persist.
func (l FlowLocation) IsZero() bool {
	return l.Country == "" && l.ASN == ""
}

// Resolves flow destination addresses to locations.
type GeoIPService struct {
	cityDB *geoip2.Reader
	asnDB  *geoip2.Reader

	mu    sync.Mutex
	cache map[netip.Addr]FlowLocation
}

// NewGeoIPService opens the configured databases. cityPath and
// asnPath point at .mmdb files; either may be empty to skip that
// database.
func NewGeoIPService(cityPath, asnPath string) (*GeoIPService, error) {
	service := &GeoIPService{cache: make(map[netip.Addr]FlowLocation)}

	if cityPath != "" {
		db, err := geoip2.Open(cityPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open City DB: %w", err)
		}
		service.cityDB = db
	}

	if asnPath != "" {
		db, err := geoip2.Open(asnPath)
		if err != nil {
			if service.cityDB != nil {
				service.cityDB.Close()
			}
			return nil, fmt.Errorf("failed to open ASN DB: %w", err)
		}
		service.asnDB = db
	}

	return service, nil
}

// Close releases the database readers.
func (s *GeoIPService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cityDB != nil {
		s.cityDB.Close()
	}
	if s.asnDB != nil {
		s.asnDB.Close()
	}
}

// LocateDst resolves the location for a flow destination address.
// Never fails: unresolvable addresses yield a zero location, which is
// cached so snapshots do not repeat the miss.
func (s *GeoIPService) LocateDst(addr netip.Addr) FlowLocation {
	if !addr.IsValid() {
		return FlowLocation{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if location, ok := s.cache[addr]; ok {
		return location
	}

	ip := net.IP(addr.AsSlice())
	var location FlowLocation

	if s.cityDB != nil {
		if record, err := s.cityDB.City(ip); err == nil {
			location.Country = record.Country.IsoCode
		}
	}
	if s.asnDB != nil {
		if record, err := s.asnDB.ASN(ip); err == nil && record.AutonomousSystemNumber != 0 {
			location.ASN = fmt.Sprintf("AS%d", record.AutonomousSystemNumber)
		}
	}

	s.cache[addr] = location
	return location
}
