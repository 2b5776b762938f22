/*
Package accesscontrol supplies per-client admission checks for an
endpoint: CIDR allow/deny filtering and per-IP request throttling over
golang.org/x/time/rate. This is distinct from pkg/tokenbucket's shared
byte-pacing bucket: that one shapes outbound bytes across all of an
endpoint's connections, this one answers "may this client make another
request right now" per remote IP, with plain Allow()/no-queue
semantics.
*/
package accesscontrol

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"golang.org/x/time/rate"
)

// RateLimitConfig throttles requests per client IP.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// FilterConfig is the CIDR allow/deny lists. Deny takes precedence;
// a non-empty allow list means the client must match at least one
// entry.
type FilterConfig struct {
	AllowedCIDRs []string `yaml:"allowedCIDRs"`
	DeniedCIDRs  []string `yaml:"deniedCIDRs"`
}

// Config parameterizes a Guard. Either section may be omitted.
type Config struct {
	RateLimit *RateLimitConfig `yaml:"rateLimit"`
	Filter    *FilterConfig    `yaml:"filter"`

	// MaxLimiters bounds the per-IP limiter map; when exceeded, the
	// map is cleared wholesale on the next cleanup pass. Zero means
	// 10000.
	MaxLimiters int `yaml:"maxLimiters"`
}

// Guard is one endpoint's admission checker. Limiters are created
// lazily per client IP and cleared when the map grows past
// MaxLimiters.
type Guard struct {
	cfg     Config
	allowed []*net.IPNet
	denied  []*net.IPNet
	logger  telemetry.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New builds a Guard, parsing the configured CIDR lists up front so a
// bad entry fails at config build rather than per request. A bare IP
// (no slash) is accepted as a /32 or /128.
func New(cfg Config, logger telemetry.Logger) (*Guard, error) {
	g := &Guard{
		cfg:      cfg,
		logger:   logger.Sub("service", "accessControl"),
		limiters: make(map[string]*rate.Limiter),
	}
	if g.cfg.MaxLimiters <= 0 {
		g.cfg.MaxLimiters = 10000
	}

	if cfg.Filter != nil {
		var err error
		if g.allowed, err = parseCIDRs(cfg.Filter.AllowedCIDRs); err != nil {
			return nil, err
		}
		if g.denied, err = parseCIDRs(cfg.Filter.DeniedCIDRs); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func parseCIDRs(entries []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		spec := entry
		if !strings.Contains(spec, "/") {
			if strings.Contains(spec, ":") {
				spec += "/128"
			} else {
				spec += "/32"
			}
		}
		_, ipNet, err := net.ParseCIDR(spec)
		if err != nil {
			return nil, fmt.Errorf("accesscontrol: invalid CIDR %q: %w", entry, err)
		}
		out = append(out, ipNet)
	}
	return out, nil
}

// clientIP strips the port off a net-style "host:port" remote
// address; a bare IP passes through.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// CheckAccess reports whether the remote address passes the CIDR
// filter. The string return is a human-readable denial reason, empty
// on allow.
func (g *Guard) CheckAccess(remoteAddr string) (bool, string) {
	if g.cfg.Filter == nil {
		return true, ""
	}

	ip := net.ParseIP(clientIP(remoteAddr))
	if ip == nil {
		return false, "invalid client address"
	}

	for _, cidr := range g.denied {
		if cidr.Contains(ip) {
			g.logger.EmitAt(telemetry.WarnLevel, "accessDenied", map[string]any{"client": ip.String(), "rule": cidr.String()})
			return false, "denied by IP filter"
		}
	}

	if len(g.allowed) > 0 {
		for _, cidr := range g.allowed {
			if cidr.Contains(ip) {
				return true, ""
			}
		}
		g.logger.EmitAt(telemetry.WarnLevel, "accessDenied", map[string]any{"client": ip.String(), "rule": "not-in-allow-list"})
		return false, "denied by IP filter"
	}

	return true, ""
}

// CheckRateLimit reports whether the remote address may make another
// request right now, creating a limiter for the client on first
// sight.
func (g *Guard) CheckRateLimit(remoteAddr string) bool {
	if g.cfg.RateLimit == nil {
		return true
	}

	ip := clientIP(remoteAddr)

	g.mu.Lock()
	limiter, ok := g.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(g.cfg.RateLimit.RequestsPerSecond), g.cfg.RateLimit.Burst)
		g.limiters[ip] = limiter
	}
	g.mu.Unlock()

	allowed := limiter.Allow()
	if !allowed {
		g.logger.EmitAt(telemetry.WarnLevel, "rateLimitExceeded", map[string]any{"client": ip})
	}
	return allowed
}

// Cleanup clears the per-IP limiter map once it grows past
// MaxLimiters. Callers run this periodically; between runs the map
// only grows.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.limiters) > g.cfg.MaxLimiters {
		g.logger.Emit("limitersCleared", map[string]any{"count": len(g.limiters)})
		g.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanupJob runs Cleanup on the given interval (zero means
// hourly) until stopCh closes.
func (g *Guard) StartCleanupJob(interval time.Duration, stopCh <-chan struct{}) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				g.Cleanup()
			}
		}
	}()
}
