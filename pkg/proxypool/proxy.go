package proxypool

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Proxy is an upstream address. Its identity is Address().
type Proxy struct {
	Host    string
	Port    int
	Type    string
	Country string
}

func (p Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL returns the proxy as scheme://host:port, defaulting to http
func (p Proxy) URL() *url.URL {
	scheme := p.Type
	switch scheme {
	case "socks4", "socks5":
	default:
		scheme = "http"
	}
	return &url.URL{Scheme: scheme, Host: p.Address()}
}

func (p Proxy) String() string {
	return p.URL().String()
}

// IsSOCKS reports whether the proxy must be dialed through a SOCKS handshake
func (p Proxy) IsSOCKS() bool {
	return p.Type == "socks4" || p.Type == "socks5"
}

// ParseLine parses "host:port" or "scheme://host:port". Blank lines, comments
// and malformed entries return ok=false.
func ParseLine(line string) (Proxy, bool) {
	return parseLineAs(line, "http")
}

// parseLineAs is ParseLine with the scheme bare "host:port" lines take
func parseLineAs(line, defaultScheme string) (Proxy, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Proxy{}, false
	}

	scheme := defaultScheme
	if before, after, found := strings.Cut(line, "://"); found {
		scheme = strings.ToLower(before)
		line = after
	}
	switch scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return Proxy{}, false
	}

	host, portStr, err := net.SplitHostPort(line)
	if err != nil || host == "" {
		return Proxy{}, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Proxy{}, false
	}

	return Proxy{Host: host, Port: port, Type: scheme}, true
}

// MustParse is ParseLine for literals in tests and fixtures
func MustParse(line string) Proxy {
	p, ok := ParseLine(line)
	if !ok {
		panic(fmt.Sprintf("proxypool: invalid proxy %q", line))
	}
	return p
}
