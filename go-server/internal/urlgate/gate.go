package urlgate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrInvalidDestination is the single user-facing class for rejected URLs.
	ErrInvalidDestination = errors.New("invalid destination URL")

	ErrEmptyInput        = fmt.Errorf("%w: empty input", ErrInvalidDestination)
	ErrMalformedURL      = fmt.Errorf("%w: malformed URL", ErrInvalidDestination)
	ErrUnresolvableHost  = fmt.Errorf("%w: host does not resolve", ErrInvalidDestination)
	ErrDisallowedAddress = fmt.Errorf("%w: disallowed address", ErrInvalidDestination)
)

const (
	DefaultScheme     = "https"
	MaxURLLength      = 2048
	defaultDNSTimeout = 2 * time.Second
)

// HostResolver looks up the addresses of a host name. *net.Resolver satisfies it.
type HostResolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Gate normalizes raw destinations and rejects anything that is malformed or
// points into private, loopback or otherwise reserved address space.
type Gate struct {
	resolver   HostResolver
	dnsTimeout time.Duration
	logger     *zap.Logger
}

type Option func(*Gate)

// WithResolver replaces the host resolver, net.DefaultResolver by default.
func WithResolver(r HostResolver) Option {
	return func(g *Gate) { g.resolver = r }
}

// WithDNSTimeout bounds each name resolution.
func WithDNSTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.dnsTimeout = d
		}
	}
}

func New(opts ...Option) *Gate {
	g := &Gate{
		resolver:   net.DefaultResolver,
		dnsTimeout: defaultDNSTimeout,
		logger:     zap.L().With(zap.String("component", "URLGate")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prepare returns the canonical form of raw once it has passed syntactic and
// address-safety validation. It resolves the host name, so ctx should carry
// the caller's deadline.
func (g *Gate) Prepare(ctx context.Context, raw string) (string, error) {
	normalized, host, err := Normalize(raw)
	if err != nil {
		g.logger.Debug("Rejected destination", zap.String("url", raw), zap.Error(err))
		return "", err
	}

	if err := g.checkHost(ctx, host); err != nil {
		g.logger.Info("Rejected destination",
			zap.String("url", normalized),
			zap.String("host", host),
			zap.Error(err),
		)
		return "", err
	}

	return normalized, nil
}

// Normalize canonicalizes raw without any network access. It returns the
// canonical URL and the bare host name (no port, no brackets).
func Normalize(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ErrEmptyInput
	}
	if len(raw) > MaxURLLength {
		return "", "", fmt.Errorf("%w: longer than %d bytes", ErrMalformedURL, MaxURLLength)
	}

	if !strings.Contains(raw, "://") {
		raw = DefaultScheme + "://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, u.Scheme)
	}
	if u.User != nil {
		return "", "", fmt.Errorf("%w: credentials in URL", ErrMalformedURL)
	}
	if u.Opaque != "" {
		return "", "", fmt.Errorf("%w: opaque URL", ErrMalformedURL)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", "", fmt.Errorf("%w: missing host", ErrMalformedURL)
	}
	if !validHost(host) {
		return "", "", fmt.Errorf("%w: invalid host %q", ErrMalformedURL, host)
	}

	port := u.Port()
	if port != "" && !validPort(port) {
		return "", "", fmt.Errorf("%w: invalid port %q", ErrMalformedURL, port)
	}
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	u.Host = joinHost(host, port)

	if u.Path == "" {
		u.Path = "/"
		u.RawPath = ""
	}

	normalized := u.String()
	if len(normalized) > MaxURLLength {
		return "", "", fmt.Errorf("%w: longer than %d bytes", ErrMalformedURL, MaxURLLength)
	}
	return normalized, host, nil
}

func (g *Gate) checkHost(ctx context.Context, host string) error {
	if addr, err := netip.ParseAddr(host); err == nil {
		if disallowed(addr) {
			return fmt.Errorf("%w: %s", ErrDisallowedAddress, addr)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.dnsTimeout)
	defer cancel()

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnresolvableHost, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: no addresses for %s", ErrUnresolvableHost, host)
	}
	for _, addr := range addrs {
		if disallowed(addr) {
			return fmt.Errorf("%w: %s resolves to %s", ErrDisallowedAddress, host, addr)
		}
	}
	return nil
}

func joinHost(host, port string) string {
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return host
	}
	return host + ":" + port
}

func validPort(port string) bool {
	if len(port) > 5 {
		return false
	}
	n := 0
	for _, c := range port {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
	}
	return n > 0 && n <= 65535
}

// validHost accepts IP literals and RFC 1123 host names with at least one dot.
func validHost(host string) bool {
	if _, err := netip.ParseAddr(host); err == nil {
		return true
	}
	if len(host) > 253 {
		return false
	}
	host = strings.TrimSuffix(host, ".")
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
			default:
				return false
			}
		}
	}
	return true
}
