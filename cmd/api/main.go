package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-revshare/internal/app"
	"github.com/noah-isme/backend-revshare/internal/audit"
	"github.com/noah-isme/backend-revshare/internal/auth"
	"github.com/noah-isme/backend-revshare/internal/cache"
	"github.com/noah-isme/backend-revshare/internal/common"
	"github.com/noah-isme/backend-revshare/internal/config"
	"github.com/noah-isme/backend-revshare/internal/events"
	"github.com/noah-isme/backend-revshare/internal/health"
	"github.com/noah-isme/backend-revshare/internal/lock"
	"github.com/noah-isme/backend-revshare/internal/notify"
	"github.com/noah-isme/backend-revshare/internal/obs"
	"github.com/noah-isme/backend-revshare/internal/payment"
	"github.com/noah-isme/backend-revshare/internal/payout"
	"github.com/noah-isme/backend-revshare/internal/queue"
	"github.com/noah-isme/backend-revshare/internal/ratelimit"
	"github.com/noah-isme/backend-revshare/internal/revenue"
	"github.com/noah-isme/backend-revshare/internal/security"
	"github.com/noah-isme/backend-revshare/internal/split"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "revshare-api",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, app.Options{
		Name:         "revshare-api",
		RedisMetrics: cfg.MetricsEnabled,
		SlowQuery:    cfg.SlowQuery,
	})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("open dependencies")
	}
	defer deps.Close()

	tokens, err := auth.NewTokens(auth.TokensConfig{
		Secret:          cfg.JWTSecret,
		PreviousSecrets: cfg.JWTPreviousSecrets,
		Issuer:          cfg.JWTIssuer,
		Audience:        cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tokens")
	}
	authMiddleware := auth.Middleware{Tokens: tokens}

	endpoints, err := notify.ParseEndpoints(cfg.NotifyEndpoints)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse notify endpoints")
	}

	taskQueue := queue.Enqueuer{R: deps.Redis, Prefix: cfg.QueuePrefix, DedupTTL: cfg.IdempotencyTTL, MaxAttempts: cfg.ResplitMaxAttempts}
	dispatcher := &notify.Dispatcher{
		Queue:       taskQueue,
		Endpoints:   endpoints,
		Enabled:     cfg.NotifyEnabled,
		MaxAttempts: cfg.NotifyMaxAttempts,
	}
	bus := &events.Bus{
		Store:     events.NewStore(deps.DB),
		Scheduler: dispatcher,
		Notifiers: []events.Notifier{events.LogNotifier{Logger: logger}},
	}

	splitStore := split.NewStore(deps.DB)
	resolver := split.Resolver{Store: splitStore}
	splitHandler := &split.Handler{Store: splitStore, Resolver: resolver}

	revenueSvc := &revenue.Service{
		Store:    revenue.NewStore(deps.DB),
		Resolver: resolver,
		Locker:   lock.Locker{R: deps.Redis, Prefix: cfg.QueuePrefix, MaxWait: cfg.IngestLockTTL},
		LockTTL:  cfg.IngestLockTTL,
		Retrier:  revenue.QueueRetrier{Queue: taskQueue, MaxAttempts: cfg.ResplitMaxAttempts},
		Events:   bus,
		Logger:   logger.With().Str("component", "revenue").Logger(),
	}
	revenueHandler := &revenue.Handler{Svc: revenueSvc}

	payoutSvc := &payout.Service{
		Store:  payout.NewStore(deps.DB),
		Cache:  cache.JSON{R: deps.Redis, TTL: cfg.PayoutCacheTTL, Prefix: cfg.QueuePrefix},
		Logger: logger.With().Str("component", "payout").Logger(),
	}
	payoutHandler := &payout.Handler{Svc: payoutSvc}

	providers := []payment.Provider{}
	if cfg.StripeWebhookSecret != "" {
		providers = append(providers, payment.Stripe{Secret: cfg.StripeWebhookSecret, Tolerance: cfg.StripeTolerance})
	}
	if cfg.HMACWebhookSecret != "" {
		providers = append(providers, payment.HMAC{ProviderName: cfg.HMACProviderName, Secret: cfg.HMACWebhookSecret})
	}
	if cfg.MidtransServerKey != "" {
		providers = append(providers, payment.Midtrans{ServerKey: cfg.MidtransServerKey})
	}
	webhookHandler := payment.Webhook{
		Providers: payment.NewProviders(providers...),
		Revenue:   revenueSvc,
		Replay:    lock.ReplayGuard{Client: deps.Redis, Prefix: cfg.QueuePrefix},
		ReplayTTL: cfg.WebhookReplayTTL,
		Logger:    logger.With().Str("component", "payment-webhook").Logger(),
	}

	auditStore := audit.NewStore(deps.DB)
	auditRecorder := audit.HTTPRecorder{
		Service: &audit.Service{Store: auditStore, Enabled: cfg.AuditEnabled, SampleRate: cfg.AuditSampleRate},
		Logger:  logger.With().Str("component", "audit").Logger(),
	}
	auditHandler := audit.Handler{Store: auditStore}

	queueAdmin := &queue.AdminHandler{Store: queue.NewStore(deps.DB), Queue: taskQueue}

	ingestLimiter, err := ratelimit.NewFixedWindow(deps.Redis, cfg.QueuePrefix+":rl")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise ingest rate limiter")
	}
	ingestWindow, ingestMax, err := ratelimit.ParseRate(cfg.IngestRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Str("rate", cfg.IngestRateLimit).Msg("parse ingest rate limit")
	}
	limiterLogger := logger.With().Str("component", "ratelimit").Logger()
	ingestRate := ratelimit.Handler{
		Limiter: ingestLimiter,
		Config:  ratelimit.Config{Scope: "ingest", Key: ratelimit.BySubject("ingest"), Window: ingestWindow, Max: ingestMax},
		Logger:  limiterLogger,
	}
	webhookRate := ratelimit.Handler{
		Limiter: ratelimit.Sliding{Client: deps.Redis, Prefix: cfg.QueuePrefix + ":rl:sliding:"},
		Config:  ratelimit.Config{Scope: "webhook", Key: ratelimit.ByIP("webhook"), Window: time.Minute, Max: cfg.WebhookRatePerMin},
		Logger:  limiterLogger,
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecureHeaders, EnableHSTS: cfg.IsProduction(), TrustProxies: true}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	gate := &health.Gate{}
	healthHandler := health.Handler{
		Gate: gate,
		Probes: []health.Probe{
			health.Postgres(deps.DB, cfg.ReadyDBTimeout),
			health.Redis(deps.Redis, cfg.ReadyRedisTimeout),
		},
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	bodyLimit := security.BodyLimit{
		Max:       cfg.BodyLimitBytes,
		Overrides: map[string]int64{"/api/v1/webhooks": webhookBodyLimit},
	}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(bodyLimit.Middleware)

		v.Group(func(in chi.Router) {
			in.Use(authMiddleware.RequireAuth)
			in.Use(auth.RequireRole(auth.RoleIngest))
			in.Use(ingestRate.Middleware)
			in.Use(security.RequireJSON)
			in.Use(idem.Middleware)
			in.Post("/revenue/ingest", revenueHandler.Ingest)
		})

		v.Route("/payouts", func(p chi.Router) {
			p.Use(authMiddleware.RequireAuth)
			p.Use(auth.RequireRole(auth.RoleAdmin))
			p.Get("/monthly", payoutHandler.Monthly)
			p.Get("/monthly/{creatorId}", payoutHandler.CreatorMonthly)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.Use(auth.RequireRole(auth.RoleAdmin))
			admin.Get("/split-profiles", splitHandler.ListProfiles)
			admin.Get("/split-mappings", splitHandler.ListMappings)
			admin.Get("/split-resolve", splitHandler.Resolve)
			admin.Post("/split-preview", splitHandler.Preview)
			admin.Get("/revenue/events/{id}", revenueHandler.GetEvent)
			admin.Get("/queue/dlq", queueAdmin.ListDLQ)
			admin.Get("/queue/stats", queueAdmin.Stats)
			admin.Get("/audit-logs", auditHandler.List)
			admin.Group(func(w chi.Router) {
				w.Use(security.RequireJSON)
				w.Use(idem.Middleware)
				w.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "split.profile.create", ResourceType: "split_profile"})).
					Post("/split-profiles", splitHandler.CreateProfile)
				w.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "split.mapping.create", ResourceType: "split_mapping"})).
					Post("/split-mappings", splitHandler.CreateMapping)
				w.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "revenue.resplit", ResourceType: "revenue_event", ResourceIDParam: "id"})).
					Post("/revenue/events/{id}/resplit", revenueHandler.Resplit)
				w.With(auditRecorder.Middleware(audit.HTTPConfig{Action: "queue.dlq.replay", ResourceType: "queue_dlq"})).
					Post("/queue/dlq/replay", queueAdmin.ReplayDLQ)
			})
		})

		v.With(webhookRate.Middleware).Post("/webhooks/payment/{provider}", webhookHandler.Handle)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go drainOnShutdown(ctx, srv, gate, logger, cfg.ShutdownGrace)

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

// webhookBodyLimit caps provider callbacks independently of BODY_LIMIT_BYTES.
const webhookBodyLimit = 256 << 10

func drainOnShutdown(ctx context.Context, srv *http.Server, gate *health.Gate, logger zerolog.Logger, grace time.Duration) {
	<-ctx.Done()
	gate.Drain()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
