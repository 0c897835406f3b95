package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/Suhaibinator/SKernel/pkg/common"
)

// IPSourceType defines the source for client IP addresses
type IPSourceType string

const (
	// IPSourceRemoteAddr uses the request's RemoteAddr field
	IPSourceRemoteAddr IPSourceType = "remote_addr"

	// IPSourceXForwardedFor uses the X-Forwarded-For header
	IPSourceXForwardedFor IPSourceType = "x_forwarded_for"

	// IPSourceXRealIP uses the X-Real-IP header
	IPSourceXRealIP IPSourceType = "x_real_ip"

	// IPSourceCustomHeader uses a custom header specified in the configuration
	IPSourceCustomHeader IPSourceType = "custom_header"
)

// IPConfig defines configuration for IP extraction
type IPConfig struct {
	// Source specifies where to extract the client IP from
	Source IPSourceType

	// CustomHeader is the name of the header to use when Source is IPSourceCustomHeader
	CustomHeader string

	// TrustProxy enables proxy headers. When false, RemoteAddr is always used.
	TrustProxy bool

	// TrustedProxies limits TrustProxy to peers inside these CIDRs or addresses.
	// With X-Forwarded-For, trusted hops are skipped from the right and the first
	// untrusted hop is the client. Empty trusts every peer and takes the leftmost hop.
	TrustedProxies []string
}

// DefaultIPConfig returns the default IP configuration
func DefaultIPConfig() *IPConfig {
	return &IPConfig{
		Source:     IPSourceXForwardedFor,
		TrustProxy: true,
	}
}

type contextKey string

// ClientIPKey is the key used to store the client IP in the request context
const ClientIPKey contextKey = "client_ip"

// GetClientIP returns the client IP stored by the ClientIP middleware,
// or an empty string if it did not run.
func GetClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}

// ClientIP extracts the client IP from the request according to config and stores it
// in the request context, where GetClientIP and the rate limiter find it.
// A nil config uses DefaultIPConfig. An invalid TrustedProxies entry fails kernel startup.
func ClientIP(config *IPConfig) *common.Descriptor {
	if config == nil {
		config = DefaultIPConfig()
	}
	return common.Provide("client_ip", common.Singleton, func(common.Resolver) (common.Middleware, error) {
		ex, err := newIPExtractor(config)
		if err != nil {
			return nil, err
		}
		return common.MiddlewareFunc(func(w http.ResponseWriter, r *http.Request, next common.Next) error {
			ctx := context.WithValue(r.Context(), ClientIPKey, ex.clientIP(r))
			return next(w, r.WithContext(ctx))
		}), nil
	})
}

var defaultExtractor = &ipExtractor{config: *DefaultIPConfig()}

// requestIP returns the stored client IP, falling back to the default extraction.
func requestIP(r *http.Request) string {
	if ip := GetClientIP(r); ip != "" {
		return ip
	}
	return defaultExtractor.clientIP(r)
}

type ipExtractor struct {
	config  IPConfig
	trusted []netip.Prefix
}

func newIPExtractor(config *IPConfig) (*ipExtractor, error) {
	ex := &ipExtractor{config: *config}
	for _, p := range config.TrustedProxies {
		prefix, err := parsePrefix(p)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", p, err)
		}
		ex.trusted = append(ex.trusted, prefix)
	}
	if config.Source == IPSourceCustomHeader && config.CustomHeader == "" {
		return nil, fmt.Errorf("custom header source needs a header name")
	}
	return ex, nil
}

func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func (ex *ipExtractor) isTrusted(addr netip.Addr) bool {
	for _, p := range ex.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the client address without port. Header values that are not
// valid addresses are ignored in favor of RemoteAddr.
func (ex *ipExtractor) clientIP(r *http.Request) string {
	remote := cleanIP(r.RemoteAddr)
	if !ex.config.TrustProxy || ex.config.Source == IPSourceRemoteAddr {
		return remote
	}
	if len(ex.trusted) > 0 {
		peer, err := netip.ParseAddr(remote)
		if err != nil || !ex.isTrusted(peer.Unmap()) {
			return remote
		}
	}

	var ip string
	switch ex.config.Source {
	case IPSourceXRealIP:
		ip = headerIP(r.Header.Get("X-Real-IP"))
	case IPSourceCustomHeader:
		ip = headerIP(r.Header.Get(ex.config.CustomHeader))
	default:
		ip = ex.forwardedFor(r.Header.Values("X-Forwarded-For"))
	}
	if ip == "" {
		return remote
	}
	return ip
}

// forwardedFor picks the client hop from X-Forwarded-For. Repeated headers are
// treated as one list.
func (ex *ipExtractor) forwardedFor(values []string) string {
	var hops []string
	for _, v := range values {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	if len(hops) == 0 {
		return ""
	}
	if len(ex.trusted) == 0 {
		return headerIP(hops[0])
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(cleanIP(hops[i]))
		if err != nil {
			return ""
		}
		if !ex.isTrusted(addr.Unmap()) {
			return addr.Unmap().String()
		}
	}
	return ""
}

func headerIP(v string) string {
	addr, err := netip.ParseAddr(cleanIP(strings.TrimSpace(v)))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// cleanIP removes the port and IPv6 brackets from an address. Values that are
// not host:port pairs are returned unchanged.
func cleanIP(ip string) string {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(ip, "["), "]")
}
