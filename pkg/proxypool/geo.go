package proxypool

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoSource wraps a Source and fills in missing proxy countries from a
// MaxMind country database.
type GeoSource struct {
	Source
	db *geoip2.Reader
}

func NewGeoSource(src Source, dbPath string) (*GeoSource, error) {
	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &GeoSource{Source: src, db: db}, nil
}

func (g *GeoSource) Fetch(ctx context.Context) ([]Proxy, error) {
	proxies, err := g.Source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	g.annotate(proxies)
	return proxies, nil
}

func (g *GeoSource) annotate(proxies []Proxy) {
	for i := range proxies {
		if proxies[i].Country != "" {
			continue
		}
		ip := net.ParseIP(proxies[i].Host)
		if ip == nil || g.db == nil {
			continue
		}
		rec, err := g.db.Country(ip)
		if err != nil {
			continue
		}
		proxies[i].Country = rec.Country.IsoCode
	}
}

func (g *GeoSource) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}
