package health

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-revshare/internal/common"
)

// Probe checks one dependency within Timeout.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(ctx context.Context) error
}

// Postgres pings the pool.
func Postgres(pool *pgxpool.Pool, timeout time.Duration) Probe {
	return Probe{Name: "db", Timeout: timeout, Check: func(ctx context.Context) error {
		if pool == nil {
			return errors.New("db not configured")
		}
		return pool.Ping(ctx)
	}}
}

// Redis pings the client.
func Redis(client *redis.Client, timeout time.Duration) Probe {
	return Probe{Name: "redis", Timeout: timeout, Check: func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis not configured")
		}
		return client.Ping(ctx).Err()
	}}
}

// Gate reports readiness; Drain flips it off for good.
type Gate struct {
	draining atomic.Bool
}

func (g *Gate) Drain() {
	if g != nil {
		g.draining.Store(true)
	}
}

func (g *Gate) Draining() bool {
	return g != nil && g.draining.Load()
}

// Handler serves /health/live and /health/ready.
type Handler struct {
	Probes []Probe
	Gate   *Gate
}

type checkResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

const defaultProbeTimeout = 500 * time.Millisecond

func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	common.JSON(w, http.StatusOK, report{Status: "ok"})
}

// Ready runs every probe concurrently and answers 503 when any fails, when
// none are configured, or while draining.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Gate.Draining() {
		common.JSON(w, http.StatusServiceUnavailable, report{Status: "draining"})
		return
	}
	if len(h.Probes) == 0 {
		common.JSON(w, http.StatusServiceUnavailable, report{Status: "unconfigured"})
		return
	}

	results := make([]checkResult, len(h.Probes))
	var g errgroup.Group
	for i, p := range h.Probes {
		g.Go(func() error {
			results[i] = run(r.Context(), p)
			return nil
		})
	}
	_ = g.Wait()

	rep := report{Status: "ok", Checks: make(map[string]checkResult, len(results))}
	status := http.StatusOK
	for i, res := range results {
		rep.Checks[h.Probes[i].Name] = res
		if res.Status != "ok" {
			rep.Status, status = "degraded", http.StatusServiceUnavailable
		}
	}
	common.JSON(w, status, rep)
}

func run(ctx context.Context, p Probe) checkResult {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := errors.New("probe not configured")
	if p.Check != nil {
		err = p.Check(ctx)
	}
	res := checkResult{Status: "ok", LatencyMS: time.Since(started).Milliseconds()}
	if err != nil {
		res.Status, res.Error = "down", err.Error()
	}
	return res
}
