package session

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"harvester/pkg/proxypool"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	UserAgent          string
}

// Keeper maps worker identities to sessions. A session is reused while its
// last request is within one pacing interval (60s / rate) and it has served
// fewer than rate requests; otherwise it is recycled with a fresh proxy.
//
// mu guards the session map and per-session bookkeeping. It is never held
// across a validation probe or while the pool's own lock is taken.
type Keeper struct {
	mu       sync.Mutex
	sessions map[Identity]*Session
	limiters map[Identity]*rate.Limiter
	pool     *proxypool.Pool
	config   Config
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

func NewKeeper(pool *proxypool.Pool, config Config, log zerolog.Logger) *Keeper {
	if config.RateLimitPerMinute <= 0 {
		config.RateLimitPerMinute = 30
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	return &Keeper{
		sessions: make(map[Identity]*Session),
		limiters: make(map[Identity]*rate.Limiter),
		pool:     pool,
		config:   config,
		interval: time.Minute / time.Duration(config.RateLimitPerMinute),
		now:      time.Now,
		log:      log,
	}
}

// Interval is the minimum spacing between requests of one identity
func (k *Keeper) Interval() time.Duration {
	return k.interval
}

// GetSession returns the session for id, creating or recycling it as needed.
// With useProxy set, a recycled session is bound to a validated proxy; when
// no proxy validates it falls back to a direct session.
func (k *Keeper) GetSession(ctx context.Context, id Identity, useProxy bool) (*Session, *proxypool.Proxy) {
	now := k.now()

	k.mu.Lock()
	if s, ok := k.sessions[id]; ok && now.Sub(s.lastUsed) < k.interval && s.count < k.config.RateLimitPerMinute {
		s.lastUsed = now
		s.count++
		k.mu.Unlock()
		return s, s.Proxy()
	}
	k.mu.Unlock()

	var proxy *proxypool.Proxy
	if useProxy {
		if p, ok := k.acquire(ctx, id, nil); ok {
			proxy = &p
		} else {
			k.log.Warn().Str("identity", string(id)).Msg("No valid proxy available, using a direct session")
		}
	}

	s := newSession(id, k.config, k.limiter(id))
	if err := s.bind(proxy); err != nil {
		k.log.Warn().Err(err).Str("identity", string(id)).Str("proxy", proxy.Address()).Msg("Failed to bind proxy, using a direct session")
		k.pool.Remove(*proxy)
		proxy = nil
		_ = s.bind(nil)
	}
	s.lastUsed = now
	s.count = 1

	k.mu.Lock()
	old := k.sessions[id]
	k.sessions[id] = s
	k.mu.Unlock()

	if old != nil {
		old.close()
		k.log.Debug().Str("identity", string(id)).Str("proxy", s.ProxyLabel()).Msg("Recycled session")
	}
	return s, s.Proxy()
}

// ReplaceProxy binds id's session to the next proxy that passes validation,
// removing every rejected candidate from the pool. It does nothing when id
// has no session or no proxy validates.
func (k *Keeper) ReplaceProxy(ctx context.Context, id Identity) (proxypool.Proxy, bool) {
	s := k.lookup(id)
	if s == nil {
		k.log.Warn().Str("identity", string(id)).Msg("Replace requested for unknown session")
		return proxypool.Proxy{}, false
	}

	p, ok := k.acquire(ctx, id, s.Proxy())
	if !ok {
		k.log.Warn().Str("identity", string(id)).Msg("No valid proxy left to replace with")
		return proxypool.Proxy{}, false
	}
	if !k.rebind(id, s, &p) {
		return proxypool.Proxy{}, false
	}
	return p, true
}

// DiscardProxy removes the proxy bound to id's session from the pool and
// leaves the session direct. It reports false when nothing was bound.
func (k *Keeper) DiscardProxy(id Identity) (proxypool.Proxy, bool) {
	s := k.lookup(id)
	if s == nil {
		return proxypool.Proxy{}, false
	}
	bound := s.Proxy()
	if bound == nil {
		return proxypool.Proxy{}, false
	}

	k.pool.Remove(*bound)
	k.rebind(id, s, nil)
	return *bound, true
}

// DrawProxy binds id's session to a freshly drawn proxy without probing it
func (k *Keeper) DrawProxy(id Identity) (proxypool.Proxy, bool) {
	s := k.lookup(id)
	if s == nil {
		return proxypool.Proxy{}, false
	}
	p, err := k.pool.Draw()
	if err != nil {
		return proxypool.Proxy{}, false
	}
	if !k.rebind(id, s, &p) {
		return proxypool.Proxy{}, false
	}
	return p, true
}

// Release drops id's session, typically when its worker exits
func (k *Keeper) Release(id Identity) {
	k.mu.Lock()
	s := k.sessions[id]
	delete(k.sessions, id)
	delete(k.limiters, id)
	k.mu.Unlock()

	if s != nil {
		s.close()
	}
}

// Len is the number of live sessions
func (k *Keeper) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sessions)
}

// limiter returns id's pacing bucket. Recycled sessions share it, so the
// minimum spacing holds across a recycle.
func (k *Keeper) limiter(id Identity) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Every(k.interval), 1)
		k.limiters[id] = l
	}
	return l
}

func (k *Keeper) lookup(id Identity) *Session {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.sessions[id]
}

// rebind swaps the session's proxy and starts a fresh rate window
func (k *Keeper) rebind(id Identity, s *Session, proxy *proxypool.Proxy) bool {
	if err := s.bind(proxy); err != nil {
		k.log.Warn().Err(err).Str("identity", string(id)).Str("proxy", proxy.Address()).Msg("Failed to bind proxy")
		k.pool.Remove(*proxy)
		return false
	}

	now := k.now()
	k.mu.Lock()
	s.lastUsed = now
	s.count = 0
	k.mu.Unlock()
	return true
}

// acquire tries the pool's proxies in random order until one validates,
// removing each that fails. Proxies removed by other workers meanwhile are
// skipped.
func (k *Keeper) acquire(ctx context.Context, id Identity, skip *proxypool.Proxy) (proxypool.Proxy, bool) {
	candidates := k.pool.Snapshot()
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, p := range candidates {
		if ctx.Err() != nil {
			return proxypool.Proxy{}, false
		}
		if skip != nil && p.Address() == skip.Address() {
			continue
		}
		if !k.pool.Contains(p) {
			continue
		}

		if k.pool.Validate(ctx, p) {
			return p, true
		}
		k.pool.Remove(p)
		k.log.Debug().Str("identity", string(id)).Str("proxy", p.Address()).Msg("Proxy rejected by validation")
	}
	return proxypool.Proxy{}, false
}

// Rotation exposes one identity's proxy rotation to a retry loop
type Rotation struct {
	keeper *Keeper
	id     Identity
}

func (k *Keeper) Rotation(id Identity) Rotation {
	return Rotation{keeper: k, id: id}
}

func (r Rotation) DiscardProxy() (proxypool.Proxy, bool) {
	return r.keeper.DiscardProxy(r.id)
}

func (r Rotation) DrawProxy() (proxypool.Proxy, bool) {
	return r.keeper.DrawProxy(r.id)
}
