package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/dnscache"
	xproxy "golang.org/x/net/proxy"
)

const (
	connectTimeout = 10 * time.Second
	overallTimeout = 60 * time.Second
)

// Fixed headers attached to every upstream call. The per-credential
// user_agent is bound at creation time but intentionally not sent here;
// upstream calls always carry this hard-coded UA.
const (
	headerFeature  = "chat"
	headerLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
	headerUA       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"
)

// SetCommonHeaders applies the fixed upstream headers to an outbound request.
func SetCommonHeaders(h http.Header) {
	h.Set("Content-Type", "application/json")
	h.Set("x-amp-feature", headerFeature)
	h.Set("Accept-Language", headerLanguage)
	h.Set("User-Agent", headerUA)
}

// ClientFactory builds HTTP clients routed through an optional egress proxy.
// Clients are cached per proxy URL so connection pools are reused across
// requests; the empty URL is the direct client with a cached-DNS dialer.
type ClientFactory struct {
	mu       sync.Mutex
	clients  map[string]*http.Client
	resolver *dnscache.Resolver
}

// NewClientFactory returns a ClientFactory with DNS caching for direct
// connections.
func NewClientFactory() *ClientFactory {
	return &ClientFactory{
		clients:  make(map[string]*http.Client),
		resolver: &dnscache.Resolver{},
	}
}

// Client returns an HTTP client with a 10s connect timeout and 60s overall
// deadline. proxyURL may be empty (direct), or an http, https, or socks5 URL.
func (f *ClientFactory) Client(proxyURL string) (*http.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[proxyURL]; ok {
		return c, nil
	}

	t, err := f.newTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	c := &http.Client{Transport: t, Timeout: overallTimeout}
	f.clients[proxyURL] = c
	return c, nil
}

func (f *ClientFactory) newTransport(proxyURL string) (*http.Transport, error) {
	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	if proxyURL == "" {
		t.DialContext = f.cachedDial
		return t, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
		t.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	case "socks5", "socks5h":
		d, err := xproxy.FromURL(u, &net.Dialer{Timeout: connectTimeout})
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		cd, ok := d.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer: no context support")
		}
		t.DialContext = cd.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return t, nil
}

// cachedDial resolves hosts through the shared DNS cache before dialing.
func (f *ClientFactory) cachedDial(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := f.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	d := net.Dialer{Timeout: connectTimeout}
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
}
