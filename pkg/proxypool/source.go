package proxypool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Source yields the proxies a pool starts with
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Proxy, error)
}

type SourceConfig struct {
	Timeout   time.Duration
	UserAgent string
}

func (c SourceConfig) client() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// TextListSource reads a newline-delimited proxy list over HTTP. Bare
// host:port lines take the list's type, read from a "type" or "protocol"
// query parameter of its URL and defaulting to http.
type TextListSource struct {
	url       string
	listType  string
	client    *http.Client
	userAgent string
}

func NewTextListSource(rawURL string, config SourceConfig) *TextListSource {
	return &TextListSource{
		url:       rawURL,
		listType:  TypeFromURL(rawURL),
		client:    config.client(),
		userAgent: config.UserAgent,
	}
}

// TypeFromURL reads the proxy type a list URL advertises
func TypeFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "http"
	}
	query := u.Query()
	for _, key := range []string{"type", "protocol"} {
		switch t := strings.ToLower(query.Get(key)); t {
		case "http", "https", "socks4", "socks5":
			return t
		}
	}
	return "http"
}

func (s *TextListSource) Name() string {
	return s.url
}

func (s *TextListSource) Fetch(ctx context.Context) ([]Proxy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proxy list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch proxy list: HTTP %d", resp.StatusCode)
	}

	return parseListAs(resp.Body, s.listType)
}

// ParseList parses one proxy per line, skipping lines ParseLine rejects
func ParseList(r io.Reader) ([]Proxy, error) {
	return parseListAs(r, "http")
}

func parseListAs(r io.Reader, defaultScheme string) ([]Proxy, error) {
	var proxies []Proxy
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if proxy, ok := parseLineAs(scanner.Text(), defaultScheme); ok {
			proxies = append(proxies, proxy)
		}
	}
	return proxies, scanner.Err()
}

// GeonodeSource reads the geonode JSON proxy API
type GeonodeSource struct {
	url       string
	client    *http.Client
	userAgent string
}

type geonodeResponse struct {
	Data []geonodeProxy `json:"data"`
}

type geonodeProxy struct {
	IP        string   `json:"ip"`
	Port      string   `json:"port"`
	Protocols []string `json:"protocols"`
	Country   string   `json:"country"`
}

func NewGeonodeSource(url string, config SourceConfig) *GeonodeSource {
	return &GeonodeSource{
		url:       url,
		client:    config.client(),
		userAgent: config.UserAgent,
	}
}

func (g *GeonodeSource) Name() string {
	return "geonode"
}

func (g *GeonodeSource) Fetch(ctx context.Context) ([]Proxy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var body geonodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var proxies []Proxy
	for _, gp := range body.Data {
		port, err := strconv.Atoi(gp.Port)
		if err != nil {
			continue
		}
		// one entry per protocol; the pool keeps the first for each address
		for _, protocol := range gp.Protocols {
			switch protocol {
			case "http", "https", "socks4", "socks5":
				proxies = append(proxies, Proxy{Host: gp.IP, Port: port, Type: protocol, Country: gp.Country})
			}
		}
	}
	return proxies, nil
}

// MultiSource unions several sources, deduplicating by address. It fails
// only when every source fails.
type MultiSource struct {
	sources []Source
	log     zerolog.Logger
}

func NewMultiSource(log zerolog.Logger, sources ...Source) *MultiSource {
	return &MultiSource{sources: sources, log: log}
}

func (m *MultiSource) Name() string {
	return "multi"
}

func (m *MultiSource) Fetch(ctx context.Context) ([]Proxy, error) {
	var (
		all  []Proxy
		errs []error
		seen = make(map[string]bool)
	)

	for _, src := range m.sources {
		proxies, err := src.Fetch(ctx)
		if err != nil {
			m.log.Warn().Err(err).Str("source", src.Name()).Msg("Proxy source failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}

		unique := 0
		for _, proxy := range proxies {
			key := proxy.Address()
			if !seen[key] {
				seen[key] = true
				all = append(all, proxy)
				unique++
			}
		}
		m.log.Info().Str("source", src.Name()).Int("total", len(proxies)).Int("unique", unique).Msg("Proxy source collected")
	}

	if len(errs) == len(m.sources) && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return all, nil
}
