package checker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"harvester/pkg/proxypool"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

type ProxyStatus int

const (
	StatusUnknown ProxyStatus = iota
	StatusHealthy
	StatusUnhealthy
	StatusTimeout
	StatusError
)

func (s ProxyStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusTimeout:
		return "timeout"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

type CheckResult struct {
	Proxy        proxypool.Proxy
	Status       ProxyStatus
	ResponseTime time.Duration
	Error        error
	CheckedAt    time.Time
}

// Checker probes proxies by fetching an IP-echo endpoint through them
type Checker struct {
	testURL    string
	timeout    time.Duration
	maxWorkers int
	userAgent  string
	log        zerolog.Logger
}

type CheckerConfig struct {
	TestURL    string
	Timeout    time.Duration
	MaxWorkers int
	UserAgent  string
}

const maxProbeTimeout = 5 * time.Second

func NewChecker(config CheckerConfig, log zerolog.Logger) *Checker {
	c := &Checker{
		testURL:    config.TestURL,
		timeout:    config.Timeout,
		maxWorkers: config.MaxWorkers,
		userAgent:  config.UserAgent,
		log:        log,
	}
	if c.testURL == "" {
		c.testURL = "https://httpbin.org/ip"
	}
	if c.timeout <= 0 || c.timeout > maxProbeTimeout {
		c.timeout = maxProbeTimeout
	}
	if c.maxWorkers <= 0 {
		c.maxWorkers = 20
	}
	return c
}

// Validate reports whether a probe through proxy returned HTTP 200 in time
func (c *Checker) Validate(ctx context.Context, proxy proxypool.Proxy) bool {
	result := c.CheckProxy(ctx, proxy)
	if result.Status != StatusHealthy {
		c.log.Debug().Str("proxy", proxy.Address()).Str("status", result.Status.String()).Err(result.Error).Msg("Proxy failed validation")
		return false
	}
	return true
}

func (c *Checker) CheckProxy(ctx context.Context, proxy proxypool.Proxy) CheckResult {
	start := time.Now()
	status, err := c.testProxy(ctx, proxy)
	return CheckResult{
		Proxy:        proxy,
		Status:       status,
		Error:        err,
		ResponseTime: time.Since(start),
		CheckedAt:    start,
	}
}

// CheckProxies probes proxies concurrently with at most maxWorkers in flight
func (c *Checker) CheckProxies(ctx context.Context, proxies []proxypool.Proxy) []CheckResult {
	if len(proxies) == 0 {
		return nil
	}

	workers := min(c.maxWorkers, len(proxies))

	proxyQueue := make(chan proxypool.Proxy, len(proxies))
	resultQueue := make(chan CheckResult, len(proxies))

	var wg conc.WaitGroup
	for range workers {
		wg.Go(func() {
			for proxy := range proxyQueue {
				if ctx.Err() != nil {
					return
				}
				resultQueue <- c.CheckProxy(ctx, proxy)
			}
		})
	}

	for _, proxy := range proxies {
		proxyQueue <- proxy
	}
	close(proxyQueue)

	go func() {
		wg.Wait()
		close(resultQueue)
	}()

	var results []CheckResult
	failures := make(map[string]int)
	for result := range resultQueue {
		results = append(results, result)
		if result.Status != StatusHealthy {
			failures[result.Status.String()]++
		}
	}

	c.log.Info().
		Int("checked", len(results)).
		Int("healthy", len(results)-sumCounts(failures)).
		Interface("failures", failures).
		Msg("Proxy check finished")

	return results
}

// Prune probes every proxy in pool and removes the ones that fail. It
// returns the number removed.
func (c *Checker) Prune(ctx context.Context, pool *proxypool.Pool) int {
	removed := 0
	for _, result := range c.CheckProxies(ctx, pool.Snapshot()) {
		if result.Status != StatusHealthy && pool.Remove(result.Proxy) {
			removed++
		}
	}
	return removed
}

func (c *Checker) testProxy(ctx context.Context, proxy proxypool.Proxy) (ProxyStatus, error) {
	transport, err := proxypool.NewTransport(&proxy, proxypool.TransportConfig{
		DialTimeout:       c.timeout,
		DisableKeepAlives: true,
	})
	if err != nil {
		return StatusError, err
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.testURL, nil)
	if err != nil {
		return StatusError, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/plain, application/json")

	resp, err := client.Do(req)
	if err != nil {
		if isTimeoutError(err) {
			return StatusTimeout, err
		}
		if isConnectionError(err) {
			return StatusUnhealthy, err
		}
		return StatusError, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode == http.StatusOK {
		return StatusHealthy, nil
	}
	return StatusUnhealthy, fmt.Errorf("HTTP %d", resp.StatusCode)
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isConnectionError(err error) bool {
	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no route to host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "connection reset")
}

func sumCounts(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
