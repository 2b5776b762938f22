package accesscontrol

import (
	"testing"

	"github.com/danfuzz/lactoserv-sub005/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

func TestCheckAccessDenyTakesPrecedence(t *testing.T) {
	g, err := New(Config{Filter: &FilterConfig{
		AllowedCIDRs: []string{"10.0.0.0/8"},
		DeniedCIDRs:  []string{"10.1.0.0/16"},
	}}, telemetry.New(nil))
	require.NoError(t, err)

	ok, _ := g.CheckAccess("10.2.3.4:1234")
	require.True(t, ok)

	ok, reason := g.CheckAccess("10.1.3.4:1234")
	require.False(t, ok)
	require.NotEmpty(t, reason)
}

func TestCheckAccessAllowListIsExclusive(t *testing.T) {
	g, err := New(Config{Filter: &FilterConfig{
		AllowedCIDRs: []string{"192.168.0.0/24"},
	}}, telemetry.New(nil))
	require.NoError(t, err)

	ok, _ := g.CheckAccess("192.168.0.7:9")
	require.True(t, ok)

	ok, _ = g.CheckAccess("192.168.1.7:9")
	require.False(t, ok)
}

func TestCheckAccessBareIPEntry(t *testing.T) {
	g, err := New(Config{Filter: &FilterConfig{
		DeniedCIDRs: []string{"1.2.3.4"},
	}}, telemetry.New(nil))
	require.NoError(t, err)

	ok, _ := g.CheckAccess("1.2.3.4:80")
	require.False(t, ok)
	ok, _ = g.CheckAccess("1.2.3.5:80")
	require.True(t, ok)
}

func TestCheckAccessInvalidCIDRFailsAtBuild(t *testing.T) {
	_, err := New(Config{Filter: &FilterConfig{AllowedCIDRs: []string{"not-a-cidr/xx"}}}, telemetry.New(nil))
	require.Error(t, err)
}

func TestCheckRateLimitBurstThenDeny(t *testing.T) {
	g, err := New(Config{RateLimit: &RateLimitConfig{RequestsPerSecond: 1, Burst: 2}}, telemetry.New(nil))
	require.NoError(t, err)

	require.True(t, g.CheckRateLimit("5.6.7.8:1"))
	require.True(t, g.CheckRateLimit("5.6.7.8:2"))
	require.False(t, g.CheckRateLimit("5.6.7.8:3"))

	// A different client gets its own limiter.
	require.True(t, g.CheckRateLimit("5.6.7.9:1"))
}

func TestCleanupClearsOverfullMap(t *testing.T) {
	g, err := New(Config{
		RateLimit:   &RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
		MaxLimiters: 2,
	}, telemetry.New(nil))
	require.NoError(t, err)

	g.CheckRateLimit("1.1.1.1:1")
	g.CheckRateLimit("1.1.1.2:1")
	g.CheckRateLimit("1.1.1.3:1")
	require.Len(t, g.limiters, 3)

	g.Cleanup()
	require.Len(t, g.limiters, 0)
}
