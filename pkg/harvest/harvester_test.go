package harvest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"harvester/pkg/fetcher"
	"harvester/pkg/proxypool"
	"harvester/pkg/record"
	"harvester/pkg/retry"
	"harvester/pkg/session"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFetch = errors.New("connection reset")

// fakeFetchers answers every page with a small fragment unless the test's
// hook says otherwise
type fakeFetchers struct {
	fail  func(page, id string, g fetcher.Getter) error
	calls sync.Map
}

func (f *fakeFetchers) hit(page, id string, g fetcher.Getter) error {
	n, _ := f.calls.LoadOrStore(page+"/"+id, new(atomic.Int32))
	n.(*atomic.Int32).Add(1)
	if f.fail != nil {
		return f.fail(page, id, g)
	}
	return nil
}

func (f *fakeFetchers) count(page, id string) int {
	n, ok := f.calls.Load(page + "/" + id)
	if !ok {
		return 0
	}
	return int(n.(*atomic.Int32).Load())
}

func (f *fakeFetchers) Detail(ctx context.Context, g fetcher.Getter, id string) (*record.DetailFragment, error) {
	if err := f.hit("detail", id, g); err != nil {
		return nil, err
	}
	have := 1
	return &record.DetailFragment{Have: &have}, nil
}

func (f *fakeFetchers) Stats(ctx context.Context, g fetcher.Getter, id string) (*record.StatsFragment, error) {
	if err := f.hit("stats", id, g); err != nil {
		return nil, err
	}
	return &record.StatsFragment{Have: []string{"a"}, Want: []string{}}, nil
}

func (f *fakeFetchers) Sellers(ctx context.Context, g fetcher.Getter, id string) (*record.SellerFragment, error) {
	if err := f.hit("sellers", id, g); err != nil {
		return nil, err
	}
	return &record.SellerFragment{Listings: []record.Listing{}}, nil
}

func noSleep() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Unit:        time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	}
}

func newTestHarvester(pool *proxypool.Pool, f Fetchers, workers int, useProxy bool) *Harvester {
	if pool == nil {
		pool = proxypool.New(nil, zerolog.Nop())
	}
	keeper := session.NewKeeper(pool, session.Config{RateLimitPerMinute: 600, UserAgent: "test-agent/1.0"}, zerolog.Nop())
	return New(keeper, f, Config{Workers: workers, UseProxy: useProxy, Retry: noSleep()}, nil, zerolog.Nop())
}

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}

func keys(records []*record.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ReleaseID)
	}
	return out
}

func TestRunAllSucceed(t *testing.T) {
	h := newTestHarvester(nil, &fakeFetchers{}, 3, false)

	records := h.Run(context.Background(), ids(7))

	assert.ElementsMatch(t, ids(7), keys(records))
	for _, r := range records {
		assert.NotNil(t, r.Detail)
		assert.NotNil(t, r.Stats)
		assert.NotNil(t, r.Sellers)
		assert.False(t, r.ScrapedAt.IsZero())
	}
	snap := h.Progress().Snapshot()
	assert.Equal(t, int64(7), snap.Items)
	assert.Equal(t, int64(7), snap.Records)
	assert.Zero(t, snap.Dropped)
}

func TestRunAllFailReturnsEmpty(t *testing.T) {
	f := &fakeFetchers{fail: func(page, id string, g fetcher.Getter) error { return errFetch }}
	h := newTestHarvester(nil, f, 2, false)

	records := h.Run(context.Background(), ids(4))

	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.Equal(t, int64(4), h.Progress().Snapshot().Dropped)
	assert.Equal(t, 3, f.count("detail", "1"), "each sub-fetch spends its retries")
}

func TestRunMixedReturnsSuccessfulSubset(t *testing.T) {
	f := &fakeFetchers{fail: func(page, id string, g fetcher.Getter) error {
		n, _ := strconv.Atoi(id)
		if n%2 == 0 {
			return errFetch
		}
		return nil
	}}
	h := newTestHarvester(nil, f, 3, false)

	records := h.Run(context.Background(), ids(9))

	assert.ElementsMatch(t, []string{"1", "3", "5", "7", "9"}, keys(records))
}

func TestRunKeepsPartialRecord(t *testing.T) {
	f := &fakeFetchers{fail: func(page, id string, g fetcher.Getter) error {
		if page == "stats" {
			return &fetcher.ParseError{URL: "stats/" + id, Reason: "stats groups not found"}
		}
		return nil
	}}
	h := newTestHarvester(nil, f, 1, false)

	records := h.Run(context.Background(), []string{"249504"})

	require.Len(t, records, 1)
	rec := records[0]
	assert.NotNil(t, rec.Detail)
	assert.Nil(t, rec.Stats)
	assert.NotNil(t, rec.Sellers)
	assert.True(t, rec.Partial())
	assert.Equal(t, int64(1), h.Progress().Snapshot().Partial)
	assert.Equal(t, 1, f.count("sellers", "249504"), "sequence continues after a failed sub-fetch")
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	var failures atomic.Int32
	f := &fakeFetchers{fail: func(page, id string, g fetcher.Getter) error {
		if page == "detail" && failures.Add(1) <= 2 {
			return errFetch
		}
		return nil
	}}
	h := newTestHarvester(nil, f, 1, false)

	records := h.Run(context.Background(), []string{"42"})

	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Detail)
	assert.Equal(t, 3, f.count("detail", "42"))
	assert.False(t, records[0].Partial())
}

func TestRunIsolatesPanics(t *testing.T) {
	f := &fakeFetchers{fail: func(page, id string, g fetcher.Getter) error {
		if id == "3" {
			panic(fmt.Sprintf("unexpected page for %s", id))
		}
		return nil
	}}
	h := newTestHarvester(nil, f, 2, false)

	records := h.Run(context.Background(), ids(5))

	assert.ElementsMatch(t, []string{"1", "2", "4", "5"}, keys(records))
	assert.Equal(t, int64(1), h.Progress().Snapshot().Dropped)
}

func TestRunCancelledReturnsCompleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeFetchers{fail: func(page, id string, g fetcher.Getter) error {
		if id == "1" && page == "detail" {
			cancel()
		}
		return nil
	}}
	h := newTestHarvester(nil, f, 1, false)

	records := h.Run(ctx, ids(20))

	require.Equal(t, []string{"1"}, keys(records), "no new items after cancel")
	assert.NotNil(t, records[0].Detail, "the request in flight completes")
	assert.Nil(t, records[0].Stats)
	assert.Nil(t, records[0].Sellers)
	assert.Zero(t, f.count("stats", "1"), "no request starts after cancel")
	assert.Zero(t, f.count("sellers", "1"))
}

func TestRunCancelStopsProxyValidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var validations atomic.Int32
	pool := proxypool.New(proxypool.ValidatorFunc(func(ctx context.Context, p proxypool.Proxy) bool {
		validations.Add(1)
		cancel()
		return false
	}), zerolog.Nop())
	var list []proxypool.Proxy
	for i := range 100 {
		list = append(list, proxypool.Proxy{Host: fmt.Sprintf("10.0.0.%d", i+1), Port: 8080, Type: "http"})
	}
	pool.Load(list)

	f := &fakeFetchers{}
	records := newTestHarvester(pool, f, 1, true).Run(ctx, ids(1))

	assert.Empty(t, records)
	assert.Equal(t, int32(1), validations.Load(), "validation stops at cancellation")
	assert.Equal(t, 99, pool.Len(), "only the rejected proxy is removed")
	assert.Zero(t, f.count("detail", "1"))
	assert.Zero(t, f.count("stats", "1"))
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &fakeFetchers{}
	records := newTestHarvester(nil, f, 2, false).Run(ctx, ids(3))

	assert.Empty(t, records)
	assert.Zero(t, f.count("detail", "1"))
}

func TestRunRotatesAwayFromFailingProxy(t *testing.T) {
	pool := proxypool.New(proxypool.ValidatorFunc(func(ctx context.Context, p proxypool.Proxy) bool { return true }), zerolog.Nop())
	pool.Load([]proxypool.Proxy{proxypool.MustParse("1.1.1.1:8080")})

	var viaProxy atomic.Int32
	f := &fakeFetchers{fail: func(page, id string, g fetcher.Getter) error {
		s, ok := g.(*session.Session)
		if ok && s.Proxy() != nil {
			viaProxy.Add(1)
			return errFetch
		}
		return nil
	}}
	h := newTestHarvester(pool, f, 1, true)

	records := h.Run(context.Background(), []string{"7"})

	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Detail)
	assert.Equal(t, int32(1), viaProxy.Load())
	assert.Zero(t, pool.Len(), "failed proxy is removed from the pool")
}

func TestRunEmptyInput(t *testing.T) {
	assert.Empty(t, newTestHarvester(nil, &fakeFetchers{}, 3, false).Run(context.Background(), nil))
}
