package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync/atomic"
	"time"

	"harvester/pkg/proxypool"

	"golang.org/x/time/rate"
)

// Identity names the worker a session belongs to. It is issued by the
// orchestrator and never shared between workers.
type Identity string

const maxBodySize = 8 << 20

// StatusError is returned for any non-200 response. Bot challenges surface
// as 403, 429 or 503 and are treated like any other failed fetch.
type StatusError struct {
	URL        string
	StatusCode int
	Challenge  bool
}

func (e *StatusError) Error() string {
	if e.Challenge {
		return fmt.Sprintf("HTTP %d (challenge) for %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

type binding struct {
	proxy  *proxypool.Proxy
	client *http.Client
}

// Session is an HTTP client bound to at most one proxy plus its pacing state.
// The proxy binding can be swapped in place by the Keeper.
type Session struct {
	identity  Identity
	binding   atomic.Pointer[binding]
	jar       http.CookieJar
	limiter   *rate.Limiter
	userAgent string
	timeout   time.Duration

	// guarded by Keeper.mu
	lastUsed time.Time
	count    int
}

// newSession builds a session paced by limiter, which belongs to the identity
// and outlives any one session
func newSession(id Identity, config Config, limiter *rate.Limiter) *Session {
	jar, _ := cookiejar.New(nil)
	return &Session{
		identity:  id,
		jar:       jar,
		limiter:   limiter,
		userAgent: config.UserAgent,
		timeout:   config.RequestTimeout,
	}
}

// bind points the session at proxy (nil for direct) with a fresh transport
func (s *Session) bind(proxy *proxypool.Proxy) error {
	transport, err := proxypool.NewTransport(proxy, proxypool.TransportConfig{DialTimeout: 10 * time.Second})
	if err != nil {
		return err
	}
	var bound *proxypool.Proxy
	if proxy != nil {
		p := *proxy
		bound = &p
	}
	old := s.binding.Swap(&binding{
		proxy: bound,
		client: &http.Client{
			Transport: transport,
			Timeout:   s.timeout,
			Jar:       s.jar,
		},
	})
	if old != nil {
		old.client.CloseIdleConnections()
	}
	return nil
}

func (s *Session) Identity() Identity {
	return s.identity
}

// Proxy returns the currently bound proxy, or nil for a direct session
func (s *Session) Proxy() *proxypool.Proxy {
	b := s.binding.Load()
	if b == nil || b.proxy == nil {
		return nil
	}
	p := *b.proxy
	return &p
}

// ProxyLabel is the bound proxy address or "direct", for log fields
func (s *Session) ProxyLabel() string {
	if p := s.Proxy(); p != nil {
		return p.Address()
	}
	return "direct"
}

// Get waits for the session's pacing budget and issues one GET. The body is
// returned only for HTTP 200.
func (s *Session) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.binding.Load().client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Challenge:  resp.Header.Get("Cf-Mitigated") == "challenge",
		}
	}
	return body, nil
}

func (s *Session) close() {
	if b := s.binding.Load(); b != nil {
		b.client.CloseIdleConnections()
	}
}
