package proxypool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(proxies ...string) *Pool {
	p := New(nil, zerolog.Nop())
	var list []Proxy
	for _, s := range proxies {
		list = append(list, MustParse(s))
	}
	p.Load(list)
	return p
}

func TestDrawEmptyPool(t *testing.T) {
	p := newTestPool()

	_, err := p.Draw()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDrawReturnsLiveProxy(t *testing.T) {
	p := newTestPool("1.1.1.1:80", "2.2.2.2:80")

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		proxy, err := p.Draw()
		require.NoError(t, err)
		seen[proxy.Address()] = true
	}
	assert.Equal(t, map[string]bool{"1.1.1.1:80": true, "2.2.2.2:80": true}, seen)
}

func TestRemoveIsIdempotent(t *testing.T) {
	p := newTestPool("1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80")
	target := MustParse("2.2.2.2:80")

	assert.True(t, p.Remove(target))
	assert.False(t, p.Remove(target))
	assert.False(t, p.Remove(MustParse("9.9.9.9:80")))

	assert.Equal(t, 2, p.Len())
	assert.False(t, p.Contains(target))
	assert.True(t, p.Contains(MustParse("1.1.1.1:80")))
	assert.True(t, p.Contains(MustParse("3.3.3.3:80")))

	stats := p.Stats()
	assert.Equal(t, 3, stats.Loaded)
	assert.Equal(t, 1, stats.Removed)
}

func TestRemoveLastThenDraw(t *testing.T) {
	p := newTestPool("1.1.1.1:80")
	p.Remove(MustParse("1.1.1.1:80"))

	_, err := p.Draw()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestConcurrentDrawAndRemove(t *testing.T) {
	var list []string
	for i := 1; i <= 100; i++ {
		list = append(list, "10.0.0."+strconv.Itoa(i)+":8080")
	}
	p := newTestPool(list...)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				proxy, err := p.Draw()
				if errors.Is(err, ErrEmpty) {
					return
				}
				p.Remove(proxy)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 100, p.Stats().Removed)
}

func TestLoadDeduplicates(t *testing.T) {
	p := newTestPool("1.1.1.1:80", "http://1.1.1.1:80", "socks5://2.2.2.2:1080")

	assert.Equal(t, 2, p.Len())
	stats := p.Stats()
	assert.Equal(t, 1, stats.ByType["http"])
	assert.Equal(t, 1, stats.ByType["socks5"])
}

func TestValidateDelegates(t *testing.T) {
	calls := 0
	p := New(ValidatorFunc(func(ctx context.Context, proxy Proxy) bool {
		calls++
		return proxy.Port == 80
	}), zerolog.Nop())

	assert.True(t, p.Validate(context.Background(), MustParse("1.1.1.1:80")))
	assert.False(t, p.Validate(context.Background(), MustParse("1.1.1.1:81")))
	assert.Equal(t, 2, calls)
}

func TestInitializeFromTextList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("proxy1:8080\nproxy2:8080\n"))
	}))
	defer srv.Close()

	p := New(nil, zerolog.Nop())
	n := p.Initialize(context.Background(), NewTextListSource(srv.URL, SourceConfig{}))

	assert.Equal(t, 2, n)
	assert.True(t, p.Contains(Proxy{Host: "proxy1", Port: 8080}))
	assert.True(t, p.Contains(Proxy{Host: "proxy2", Port: 8080}))
}

func TestInitializeFailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestPool("1.1.1.1:80")
	n := p.Initialize(context.Background(), NewTextListSource(srv.URL, SourceConfig{}))

	assert.Equal(t, 0, n)
	assert.Equal(t, 0, p.Len())
	_, err := p.Draw()
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestInitializeUnreachableSource(t *testing.T) {
	p := New(nil, zerolog.Nop())
	n := p.Initialize(context.Background(), NewTextListSource("http://127.0.0.1:1/list.txt", SourceConfig{}))
	assert.Equal(t, 0, n)
}
