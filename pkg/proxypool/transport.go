package proxypool

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	netproxy "golang.org/x/net/proxy"
)

type TransportConfig struct {
	DialTimeout       time.Duration
	DisableKeepAlives bool
}

// NewTransport builds an http.Transport that routes through proxy. A nil
// proxy yields a direct transport that ignores HTTP_PROXY settings.
func NewTransport(proxy *Proxy, config TransportConfig) (*http.Transport, error) {
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		DisableKeepAlives:     config.DisableKeepAlives,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: 20 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxy == nil {
		return transport, nil
	}

	if proxy.IsSOCKS() {
		// SOCKS4 servers commonly answer the SOCKS5 handshake too
		socks, err := netproxy.SOCKS5("tcp", proxy.Address(), nil, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS dialer: %w", err)
		}
		if cd, ok := socks.(netproxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return socks.Dial(network, addr)
			}
		}
		return transport, nil
	}

	transport.Proxy = http.ProxyURL(proxy.URL())
	return transport, nil
}
