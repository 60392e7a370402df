package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/obs"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker. Zero values pick the defaults noted per field.
type BreakerConfig struct {
	// MinRequests is the sample size before the ratio is evaluated (1).
	MinRequests int
	// FailureRatio opens the breaker when reached (0.5).
	FailureRatio float64
	// OpenFor is the cool-off before a probe is let through (30s).
	OpenFor time.Duration
	// Interval clears closed-state counters periodically (OpenFor * 2).
	Interval time.Duration
	// Probes is how many concurrent calls half-open admits (1).
	Probes int
	Logger zerolog.Logger
	Now    func() time.Time
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MinRequests <= 0 {
		c.MinRequests = 1
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.5
	}
	c.FailureRatio = math.Min(c.FailureRatio, 1)
	if c.OpenFor <= 0 {
		c.OpenFor = 30 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = 2 * c.OpenFor
	}
	if c.Probes <= 0 {
		c.Probes = 1
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker is a failure-ratio circuit breaker for one downstream target.
type Breaker struct {
	cfg    BreakerConfig
	target string

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	windowStart time.Time
	openedAt    time.Time
	inFlight    int
}

// NewBreaker returns a closed breaker for target.
func NewBreaker(target string, cfg BreakerConfig) *Breaker {
	cfg = cfg.withDefaults()
	target = strings.TrimSpace(target)
	if target == "" {
		target = "default"
	}
	b := &Breaker{cfg: cfg, target: target, windowStart: cfg.Now()}
	obs.SetGauge(obs.BreakerState, float64(Closed), target)
	return b
}

// Target names the dependency guarded by b.
func (b *Breaker) Target() string { return b.target }

// State returns the current state, moving Open to HalfOpen once the cool-off
// has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickLocked(context.Background())
	return b.state
}

// Allow admits a call or returns ErrOpenCircuit. Every admitted call must be
// followed by exactly one Report.
func (b *Breaker) Allow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickLocked(ctx)
	switch b.state {
	case Open:
		return ErrOpenCircuit
	case HalfOpen:
		if b.inFlight >= b.cfg.Probes {
			return ErrOpenCircuit
		}
	}
	b.inFlight++
	return nil
}

// Report records the outcome of a call admitted by Allow.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight > 0 {
		b.inFlight--
	}
	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.setLocked(ctx, Closed)
		} else {
			b.setLocked(ctx, Open)
		}
		return
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}
	total := b.successes + b.failures
	if total >= b.cfg.MinRequests && float64(b.failures)/float64(total) >= b.cfg.FailureRatio {
		b.setLocked(ctx, Open)
	}
}

func (b *Breaker) tickLocked(ctx context.Context) {
	now := b.cfg.Now()
	switch b.state {
	case Open:
		if now.Sub(b.openedAt) >= b.cfg.OpenFor {
			b.setLocked(ctx, HalfOpen)
		}
	case Closed:
		if now.Sub(b.windowStart) >= b.cfg.Interval {
			b.failures, b.successes, b.windowStart = 0, 0, now
		}
	}
}

func (b *Breaker) setLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	now := b.cfg.Now()
	b.state = next
	b.failures, b.successes, b.windowStart = 0, 0, now
	switch next {
	case Open:
		b.openedAt = now
		obs.Inc(obs.BreakerOpenedTotal, b.target)
	case Closed:
		b.openedAt = time.Time{}
	}
	if next != HalfOpen {
		b.inFlight = 0
	}
	obs.SetGauge(obs.BreakerState, float64(next), b.target)
	obs.Inc(obs.BreakerTransitions, b.target, prev.String(), next.String())

	logger := obs.Log(ctx, b.cfg.Logger)
	logger.Info().Str("target", b.target).Str("from_state", prev.String()).
		Str("to_state", next.String()).Msg("breaker_transition")
}

// BreakerGroup lazily creates one breaker per target from a shared config.
type BreakerGroup struct {
	Config BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerGroup returns an empty group.
func NewBreakerGroup(cfg BreakerConfig) *BreakerGroup {
	return &BreakerGroup{Config: cfg}
}

// For returns the breaker guarding target.
func (g *BreakerGroup) For(target string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.breakers == nil {
		g.breakers = map[string]*Breaker{}
	}
	b, ok := g.breakers[target]
	if !ok {
		b = NewBreaker(target, g.Config)
		g.breakers[target] = b
	}
	return b
}

// Backoff returns base doubled per attempt after the first, spread by
// +/- jitter (0.2 means 20%). The result never exceeds one hour.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	const ceiling = time.Hour
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	attempt = max(attempt, 1)
	d := base
	for i := 1; i < attempt && d < ceiling; i++ {
		d *= 2
	}
	d = min(d, ceiling)
	if jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * jitter * float64(d))
	}
	return d
}
