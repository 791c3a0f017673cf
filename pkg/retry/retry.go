package retry

import (
	"context"
	"errors"
	"time"

	"harvester/pkg/proxypool"

	"github.com/rs/zerolog"
)

// Rotator swaps the proxy behind the operation being retried
type Rotator interface {
	// DiscardProxy removes the bound proxy from the pool. It reports false
	// when nothing was bound.
	DiscardProxy() (proxypool.Proxy, bool)
	// DrawProxy binds a fresh proxy from the pool
	DrawProxy() (proxypool.Proxy, bool)
}

type Policy struct {
	MaxAttempts int
	// Unit scales the backoff: the wait before retry n is 2^n units
	Unit time.Duration
	// MaxBackoff caps a single wait; zero leaves it uncapped
	MaxBackoff time.Duration
	// Sleep waits for d or until ctx ends. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Unit: time.Second}
}

// Backoff is the delay before retry attempt n (1-indexed)
func (p Policy) Backoff(n int) time.Duration {
	unit := p.Unit
	if unit <= 0 {
		unit = time.Second
	}
	if n < 1 {
		n = 1
	}

	var d time.Duration
	if n >= 62 || unit > time.Duration(1<<62)>>n {
		d = time.Duration(1<<63 - 1)
	} else {
		d = unit << n
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op until it succeeds or the policy's attempts are spent. Every
// failure burns the bound proxy; if one was bound, a fresh one is drawn
// before the next attempt. On exhaustion or cancellation Do returns false
// rather than an error so one item never aborts its batch. No attempt starts
// once ctx is done, and an attempt that only reports ctx's own error burns
// nothing.
func Do[T any](ctx context.Context, policy Policy, rot Rotator, log zerolog.Logger, op func(ctx context.Context, attempt int) (T, error)) (T, bool) {
	var zero T
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("Run cancelled, attempt skipped")
			return zero, false
		}

		v, err := op(ctx, attempt)
		if err == nil {
			return v, true
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			log.Debug().Err(err).Int("attempt", attempt).Msg("Attempt cancelled")
			return zero, false
		}

		var (
			burned    proxypool.Proxy
			hadProxy  bool
			proxyName = "direct"
		)
		if rot != nil {
			burned, hadProxy = rot.DiscardProxy()
		}
		if hadProxy {
			proxyName = burned.Address()
		}

		if attempt >= maxAttempts {
			log.Error().Err(err).Int("attempt", attempt).Str("proxy", proxyName).Msg("Retries exhausted")
			return zero, false
		}

		delay := policy.Backoff(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Str("proxy", proxyName).Dur("backoff", delay).Msg("Attempt failed, rotating proxy")

		if err := policy.sleep(ctx, delay); err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Retry abandoned")
			return zero, false
		}

		if hadProxy {
			if next, ok := rot.DrawProxy(); ok {
				log.Debug().Int("attempt", attempt+1).Str("proxy", next.Address()).Msg("Retrying through new proxy")
			} else {
				log.Warn().Int("attempt", attempt+1).Msg("Proxy pool exhausted, retrying direct")
			}
		}
	}
}
