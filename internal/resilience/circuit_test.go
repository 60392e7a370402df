package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-revshare/internal/obs"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock { return &fakeClock{t: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)} }

func TestBreakerOpensAndRecovers(t *testing.T) {
	clock := newClock()
	b := NewBreaker("crm", BreakerConfig{MinRequests: 2, FailureRatio: 0.5, OpenFor: time.Minute, Now: clock.Now})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, b.Allow(ctx))
		b.Report(ctx, false)
	}
	require.Equal(t, Open, b.State())
	require.ErrorIs(t, b.Allow(ctx), ErrOpenCircuit)

	clock.Advance(time.Minute)
	require.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Allow(ctx))
	require.ErrorIs(t, b.Allow(ctx), ErrOpenCircuit, "half-open admits one probe")
	b.Report(ctx, true)
	require.Equal(t, Closed, b.State())
	require.NoError(t, b.Allow(ctx))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clock := newClock()
	b := NewBreaker("crm", BreakerConfig{OpenFor: time.Second, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, b.Allow(ctx))
	b.Report(ctx, false)
	clock.Advance(time.Second)
	require.NoError(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, Open, b.State())
}

func TestBreakerIntervalClearsCounts(t *testing.T) {
	clock := newClock()
	b := NewBreaker("crm", BreakerConfig{MinRequests: 4, FailureRatio: 0.5, Interval: time.Minute, Now: clock.Now})
	ctx := context.Background()

	for _, ok := range []bool{false, true, false} {
		require.NoError(t, b.Allow(ctx))
		b.Report(ctx, ok)
	}
	clock.Advance(time.Minute)
	require.NoError(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, Closed, b.State(), "earlier failures fell out of the window")
}

func TestBreakerGroupIsolatesTargets(t *testing.T) {
	g := NewBreakerGroup(BreakerConfig{OpenFor: time.Hour})
	ctx := context.Background()
	require.NoError(t, g.For("a.example").Allow(ctx))
	g.For("a.example").Report(ctx, false)

	require.Equal(t, Open, g.For("a.example").State())
	require.Equal(t, Closed, g.For("b.example").State())
	require.Same(t, g.For("a.example"), g.For("a.example"))
}

func TestBreakerMetrics(t *testing.T) {
	obs.MustRegisterDomainMetrics("restest", prometheus.NewRegistry())
	if obs.BreakerState == nil {
		t.Skip("domain metrics registered elsewhere")
	}
	clock := newClock()
	b := NewBreaker("metrics-target", BreakerConfig{OpenFor: time.Second, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(obs.BreakerState.WithLabelValues("metrics-target")))

	clock.Advance(time.Second)
	require.NoError(t, b.Allow(ctx))
	require.Equal(t, 2.0, testutil.ToFloat64(obs.BreakerState.WithLabelValues("metrics-target")))
	b.Report(ctx, true)

	require.Equal(t, 0.0, testutil.ToFloat64(obs.BreakerState.WithLabelValues("metrics-target")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.BreakerOpenedTotal.WithLabelValues("metrics-target")))
	for _, tr := range [][2]string{{"closed", "open"}, {"open", "half_open"}, {"half_open", "closed"}} {
		require.Equal(t, 1.0, testutil.ToFloat64(obs.BreakerTransitions.WithLabelValues("metrics-target", tr[0], tr[1])), tr)
	}
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, Backoff(base, 0, 0))
	require.Equal(t, base, Backoff(base, 1, 0))
	require.Equal(t, 4*base, Backoff(base, 3, 0))
	require.Equal(t, time.Hour, Backoff(time.Second, 80, 0))

	for i := 0; i < 50; i++ {
		d := Backoff(base, 2, 0.2)
		require.GreaterOrEqual(t, d, 160*time.Millisecond)
		require.LessOrEqual(t, d, 240*time.Millisecond)
	}
}
