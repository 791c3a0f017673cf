package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"harvester/pkg/proxypool"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRotator hands out proxies from a queue and records discards
type fakeRotator struct {
	bound     *proxypool.Proxy
	queue     []proxypool.Proxy
	discarded []string
}

func (f *fakeRotator) DiscardProxy() (proxypool.Proxy, bool) {
	if f.bound == nil {
		return proxypool.Proxy{}, false
	}
	p := *f.bound
	f.discarded = append(f.discarded, p.Address())
	f.bound = nil
	return p, true
}

func (f *fakeRotator) DrawProxy() (proxypool.Proxy, bool) {
	if len(f.queue) == 0 {
		return proxypool.Proxy{}, false
	}
	p := f.queue[0]
	f.queue = f.queue[1:]
	f.bound = &p
	return p, true
}

func instantPolicy(attempts int, slept *[]time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Unit:        time.Second,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if slept != nil {
				*slept = append(*slept, d)
			}
			return nil
		},
	}
}

func proxies(addrs ...string) []proxypool.Proxy {
	var out []proxypool.Proxy
	for _, a := range addrs {
		out = append(out, proxypool.MustParse(a))
	}
	return out
}

func TestDoSucceedsFirstTry(t *testing.T) {
	first := proxypool.MustParse("1.1.1.1:80")
	rot := &fakeRotator{bound: &first}

	v, ok := Do(context.Background(), instantPolicy(5, nil), rot, zerolog.Nop(), func(ctx context.Context, attempt int) (string, error) {
		return "page", nil
	})

	require.True(t, ok)
	assert.Equal(t, "page", v)
	assert.Empty(t, rot.discarded, "a successful attempt must not burn its proxy")
}

func TestDoRotatesOnFailure(t *testing.T) {
	first := proxypool.MustParse("1.1.1.1:80")
	rot := &fakeRotator{bound: &first, queue: proxies("2.2.2.2:80")}

	var seen []string
	v, ok := Do(context.Background(), instantPolicy(5, nil), rot, zerolog.Nop(), func(ctx context.Context, attempt int) (int, error) {
		seen = append(seen, rot.bound.Address())
		if attempt == 1 {
			return 0, errors.New("connection reset")
		}
		return 42, nil
	})

	require.True(t, ok)
	assert.Equal(t, 42, v)
	assert.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:80"}, seen)
	assert.Equal(t, []string{"1.1.1.1:80"}, rot.discarded)
}

func TestDoExhaustsAfterMaxAttempts(t *testing.T) {
	for _, n := range []int{1, 3, 5} {
		first := proxypool.MustParse("10.0.0.1:80")
		rot := &fakeRotator{bound: &first, queue: proxies("10.0.0.2:80", "10.0.0.3:80", "10.0.0.4:80", "10.0.0.5:80", "10.0.0.6:80")}

		calls := 0
		var slept []time.Duration
		_, ok := Do(context.Background(), instantPolicy(n, &slept), rot, zerolog.Nop(), func(ctx context.Context, attempt int) (struct{}, error) {
			calls++
			return struct{}{}, errors.New("HTTP 429")
		})

		assert.False(t, ok)
		assert.Equal(t, n, calls, "max attempts %d", n)
		assert.Len(t, rot.discarded, n, "one proxy burned per failed attempt")
		assert.Len(t, slept, n-1)
	}
}

func TestDoWithoutProxyNeverDraws(t *testing.T) {
	rot := &fakeRotator{queue: proxies("2.2.2.2:80")}

	_, ok := Do(context.Background(), instantPolicy(3, nil), rot, zerolog.Nop(), func(ctx context.Context, attempt int) (int, error) {
		return 0, errors.New("boom")
	})

	assert.False(t, ok)
	assert.Nil(t, rot.bound)
	assert.Len(t, rot.queue, 1)
}

func TestDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := Policy{MaxAttempts: 5, Unit: time.Hour}

	done := make(chan bool)
	go func() {
		_, ok := Do(ctx, policy, nil, zerolog.Nop(), func(ctx context.Context, attempt int) (int, error) {
			calls++
			cancel()
			return 0, errors.New("boom")
		})
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.False(t, ok)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestDoSkipsAttemptWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, ok := Do(ctx, instantPolicy(3, nil), nil, zerolog.Nop(), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 1, nil
	})

	assert.False(t, ok)
	assert.Zero(t, calls)
}

func TestDoCancelledAttemptKeepsProxy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bound := proxypool.MustParse("1.1.1.1:8080")
	rot := &fakeRotator{bound: &bound, queue: proxies("2.2.2.2:8080")}

	_, ok := Do(ctx, instantPolicy(3, nil), rot, zerolog.Nop(), func(ctx context.Context, attempt int) (int, error) {
		cancel()
		return 0, ctx.Err()
	})

	assert.False(t, ok)
	assert.Empty(t, rot.discarded)
	require.NotNil(t, rot.bound)
	assert.Equal(t, "1.1.1.1:8080", rot.bound.Address())
}

func TestBackoffStrictlyIncreases(t *testing.T) {
	p := Policy{Unit: time.Second}
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 32*time.Second, p.Backoff(5))

	for n := 1; n < 20; n++ {
		assert.Greater(t, p.Backoff(n+1), p.Backoff(n), "n=%d", n)
	}
}

func TestBackoffCapAndOverflow(t *testing.T) {
	capped := Policy{Unit: time.Second, MaxBackoff: 10 * time.Second}
	assert.Equal(t, 8*time.Second, capped.Backoff(3))
	assert.Equal(t, 10*time.Second, capped.Backoff(4))

	huge := Policy{Unit: time.Hour}
	assert.Positive(t, huge.Backoff(40))
	assert.Positive(t, huge.Backoff(100))
}

func TestBackoffPassedToSleep(t *testing.T) {
	var slept []time.Duration
	_, _ = Do(context.Background(), instantPolicy(4, &slept), nil, zerolog.Nop(), func(ctx context.Context, attempt int) (int, error) {
		return 0, errors.New("boom")
	})

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, slept)
}
