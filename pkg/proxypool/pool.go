package proxypool

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"
)

var ErrEmpty = errors.New("no proxy available")

// Validator probes a proxy and reports whether it is usable
type Validator interface {
	Validate(ctx context.Context, proxy Proxy) bool
}

// ValidatorFunc adapts a plain function to Validator
type ValidatorFunc func(ctx context.Context, proxy Proxy) bool

func (f ValidatorFunc) Validate(ctx context.Context, proxy Proxy) bool {
	return f(ctx, proxy)
}

// Pool is the shrink-only set of live proxies shared by every worker.
// Proxies leave the pool when a probe or a fetch through them fails and are
// never added back during a run.
type Pool struct {
	mu        sync.RWMutex
	proxies   []Proxy
	index     map[string]int
	loaded    int
	removed   int
	validator Validator
	log       zerolog.Logger
}

type Stats struct {
	Total     int            `json:"total"`
	Loaded    int            `json:"loaded"`
	Removed   int            `json:"removed"`
	ByType    map[string]int `json:"by_type"`
	ByCountry map[string]int `json:"by_country"`
}

func New(validator Validator, log zerolog.Logger) *Pool {
	return &Pool{
		index:     make(map[string]int),
		validator: validator,
		log:       log,
	}
}

// Initialize loads the pool from src. A failing source leaves the pool empty
// and is logged; the run continues proxyless.
func (p *Pool) Initialize(ctx context.Context, src Source) int {
	proxies, err := src.Fetch(ctx)
	if err != nil {
		p.log.Error().Err(err).Str("source", src.Name()).Msg("Failed to fetch proxy list, continuing with an empty pool")
		p.Load(nil)
		return 0
	}

	n := p.Load(proxies)
	p.log.Info().Str("source", src.Name()).Int("proxies", n).Msg("Proxy pool initialized")
	return n
}

// Load replaces the pool contents, dropping duplicate addresses
func (p *Pool) Load(proxies []Proxy) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.proxies = make([]Proxy, 0, len(proxies))
	p.index = make(map[string]int, len(proxies))
	p.removed = 0
	for _, proxy := range proxies {
		addr := proxy.Address()
		if _, dup := p.index[addr]; dup {
			continue
		}
		p.index[addr] = len(p.proxies)
		p.proxies = append(p.proxies, proxy)
	}
	p.loaded = len(p.proxies)
	return p.loaded
}

// Draw returns a uniformly random live proxy, or ErrEmpty
func (p *Pool) Draw() (Proxy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.proxies) == 0 {
		return Proxy{}, ErrEmpty
	}
	return p.proxies[rand.IntN(len(p.proxies))], nil
}

// Remove drops proxy from the pool. Removing an absent proxy is a no-op
// and reports false.
func (p *Pool) Remove(proxy Proxy) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	addr := proxy.Address()
	i, ok := p.index[addr]
	if !ok {
		return false
	}

	last := len(p.proxies) - 1
	if i != last {
		p.proxies[i] = p.proxies[last]
		p.index[p.proxies[i].Address()] = i
	}
	p.proxies = p.proxies[:last]
	delete(p.index, addr)
	p.removed++

	p.log.Debug().Str("proxy", addr).Int("remaining", len(p.proxies)).Msg("Removed proxy")
	return true
}

// Validate probes proxy through the configured validator. It takes no lock.
func (p *Pool) Validate(ctx context.Context, proxy Proxy) bool {
	if p.validator == nil {
		return true
	}
	return p.validator.Validate(ctx, proxy)
}

func (p *Pool) Contains(proxy Proxy) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.index[proxy.Address()]
	return ok
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.proxies)
}

// Snapshot copies the live proxies
func (p *Pool) Snapshot() []Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Proxy, len(p.proxies))
	copy(out, p.proxies)
	return out
}

func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		Total:     len(p.proxies),
		Loaded:    p.loaded,
		Removed:   p.removed,
		ByType:    make(map[string]int),
		ByCountry: make(map[string]int),
	}
	for _, proxy := range p.proxies {
		stats.ByType[proxy.Type]++
		if proxy.Country != "" {
			stats.ByCountry[proxy.Country]++
		}
	}
	return stats
}
