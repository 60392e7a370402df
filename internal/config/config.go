package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config is the process configuration. Each field is read from the
// environment variable named by its koanf tag.
type Config struct {
	AppEnv             string `koanf:"APP_ENV"`
	Port               string `koanf:"PORT"`
	DatabaseURL        string `koanf:"DATABASE_URL" validate:"required"`
	RedisURL           string `koanf:"REDIS_URL" validate:"required"`
	DBMaxConns         int    `koanf:"DB_MAX_CONNS" validate:"gt=0"`
	JWTSecret          string `koanf:"JWT_SECRET" validate:"required"`
	JWTIssuer          string `koanf:"JWT_ISSUER"`
	JWTAudience        string `koanf:"JWT_AUDIENCE"`
	CORSAllowedOrigins []string
	JWTPreviousSecrets []string

	IngestRateLimit   string        `koanf:"INGEST_RATE_LIMIT" validate:"required"`
	WebhookRatePerMin int           `koanf:"WEBHOOK_RATE_LIMIT_PER_MIN" validate:"gt=0"`
	BodyLimitBytes    int64         `koanf:"BODY_LIMIT_BYTES" validate:"gt=0"`
	IdempotencyTTL    time.Duration `koanf:"IDEMPOTENCY_TTL" validate:"gt=0"`
	IngestLockTTL     time.Duration `koanf:"INGEST_LOCK_TTL" validate:"gt=0"`

	PayoutCacheTTL  time.Duration `koanf:"PAYOUT_CACHE_TTL"`
	AuditEnabled    bool          `koanf:"AUDIT_ENABLED"`
	AuditSampleRate float64       `koanf:"AUDIT_SAMPLE_RATE" validate:"gte=0,lte=1"`

	StripeWebhookSecret string        `koanf:"STRIPE_WEBHOOK_SECRET"`
	StripeTolerance     time.Duration `koanf:"STRIPE_WEBHOOK_TOLERANCE"`
	HMACWebhookSecret   string        `koanf:"HMAC_WEBHOOK_SECRET"`
	HMACProviderName    string        `koanf:"HMAC_PROVIDER_NAME"`
	MidtransServerKey   string        `koanf:"MIDTRANS_SERVER_KEY"`
	WebhookReplayTTL    time.Duration `koanf:"WEBHOOK_REPLAY_TTL" validate:"gt=0"`

	NotifyEnabled     bool          `koanf:"NOTIFY_ENABLED"`
	NotifyEndpoints   string        `koanf:"NOTIFY_ENDPOINTS"`
	NotifyTimeout     time.Duration `koanf:"NOTIFY_TIMEOUT" validate:"gt=0"`
	NotifyMaxAttempts int           `koanf:"NOTIFY_MAX_ATTEMPTS" validate:"gt=0"`

	BreakerMinRequests  int           `koanf:"BREAKER_MIN_REQUESTS" validate:"gt=0"`
	BreakerFailureRatio float64       `koanf:"BREAKER_FAILURE_RATIO" validate:"gt=0,lte=1"`
	BreakerOpenFor      time.Duration `koanf:"BREAKER_OPEN_FOR" validate:"gt=0"`
	OutboundRetryBase   time.Duration `koanf:"OUTBOUND_RETRY_BASE"`
	OutboundMaxAttempts int           `koanf:"OUTBOUND_MAX_ATTEMPTS" validate:"gt=0"`
	QueueVisibility     time.Duration `koanf:"QUEUE_VISIBILITY_TIMEOUT" validate:"gt=0"`
	QueueRetryBase      time.Duration `koanf:"QUEUE_RETRY_BASE" validate:"gt=0"`
	QueueRetryJitter    float64       `koanf:"QUEUE_RETRY_JITTER" validate:"gte=0,lte=1"`

	QueuePrefix        string `koanf:"QUEUE_PREFIX" validate:"required"`
	ResplitMaxAttempts int    `koanf:"RESPLIT_MAX_ATTEMPTS" validate:"gt=0"`
	WorkerConcurrency  int    `koanf:"WORKER_CONCURRENCY" validate:"gt=0"`

	Observability `koanf:",squash"`
}

// Observability groups the OBS_* and server lifecycle settings.
type Observability struct {
	LogFormat         string        `koanf:"OBS_LOG_FORMAT" validate:"oneof=json console"`
	LogLevel          string        `koanf:"OBS_LOG_LEVEL"`
	MetricsNamespace  string        `koanf:"OBS_METRICS_NAMESPACE" validate:"required"`
	MetricsEnabled    bool          `koanf:"OBS_ENABLE_PROMETHEUS"`
	MetricsBuckets    string        `koanf:"OBS_METRICS_BUCKETS_MS"`
	TracingEnabled    bool          `koanf:"OBS_ENABLE_TRACING"`
	TracingExporter   string        `koanf:"OBS_TRACING_EXPORTER" validate:"oneof=otlp none"`
	OTLPEndpoint      string        `koanf:"OBS_OTLP_ENDPOINT"`
	SamplingRatio     float64       `koanf:"OBS_TRACING_SAMPLING_RATIO" validate:"gte=0,lte=1"`
	SlowQuery         time.Duration `koanf:"OBS_SLOW_QUERY"`
	PprofEnabled      bool          `koanf:"OBS_ENABLE_PPROF"`
	PprofUser         string        `koanf:"SECURE_PPROF_BASIC_AUTH_USER"`
	PprofPass         string        `koanf:"SECURE_PPROF_BASIC_AUTH_PASS"`
	SecureHeaders     bool          `koanf:"SECURE_HEADERS_ENABLED"`
	ReadyDBTimeout    time.Duration `koanf:"HEALTH_READY_DB_TIMEOUT" validate:"gt=0"`
	ReadyRedisTimeout time.Duration `koanf:"HEALTH_READY_REDIS_TIMEOUT" validate:"gt=0"`
	ShutdownGrace     time.Duration `koanf:"SHUTDOWN_GRACE" validate:"gt=0"`
}

var defaults = map[string]any{
	"APP_ENV":              "development",
	"PORT":                 "8080",
	"DATABASE_URL":         "",
	"REDIS_URL":            "",
	"DB_MAX_CONNS":         10,
	"JWT_SECRET":           "",
	"JWT_ISSUER":           "revshare",
	"JWT_AUDIENCE":         "revshare-api",
	"CORS_ALLOWED_ORIGINS": "",
	"JWT_PREVIOUS_SECRETS": "",

	"INGEST_RATE_LIMIT":          "600-M",
	"WEBHOOK_RATE_LIMIT_PER_MIN": 300,
	"BODY_LIMIT_BYTES":           1 << 20,
	"IDEMPOTENCY_TTL":            "24h",
	"INGEST_LOCK_TTL":            "15s",

	"PAYOUT_CACHE_TTL":  "10m",
	"AUDIT_ENABLED":     true,
	"AUDIT_SAMPLE_RATE": 1.0,

	"STRIPE_WEBHOOK_SECRET":    "",
	"STRIPE_WEBHOOK_TOLERANCE": "5m",
	"HMAC_WEBHOOK_SECRET":      "",
	"HMAC_PROVIDER_NAME":       "generic",
	"MIDTRANS_SERVER_KEY":      "",
	"WEBHOOK_REPLAY_TTL":       "24h",

	"NOTIFY_ENABLED":      false,
	"NOTIFY_ENDPOINTS":    "",
	"NOTIFY_TIMEOUT":      "5s",
	"NOTIFY_MAX_ATTEMPTS": 6,

	"BREAKER_MIN_REQUESTS":     10,
	"BREAKER_FAILURE_RATIO":    0.5,
	"BREAKER_OPEN_FOR":         "30s",
	"OUTBOUND_RETRY_BASE":      "200ms",
	"OUTBOUND_MAX_ATTEMPTS":    2,
	"QUEUE_VISIBILITY_TIMEOUT": "30s",
	"QUEUE_RETRY_BASE":         "2s",
	"QUEUE_RETRY_JITTER":       0.2,

	"QUEUE_PREFIX":         "revshare",
	"RESPLIT_MAX_ATTEMPTS": 8,
	"WORKER_CONCURRENCY":   4,

	"OBS_LOG_FORMAT":               "json",
	"OBS_LOG_LEVEL":                "info",
	"OBS_METRICS_NAMESPACE":        "revshare",
	"OBS_ENABLE_PROMETHEUS":        true,
	"OBS_METRICS_BUCKETS_MS":       "",
	"OBS_ENABLE_TRACING":           true,
	"OBS_TRACING_EXPORTER":         "otlp",
	"OBS_OTLP_ENDPOINT":            "",
	"OBS_TRACING_SAMPLING_RATIO":   1.0,
	"OBS_SLOW_QUERY":               "250ms",
	"OBS_ENABLE_PPROF":             false,
	"SECURE_PPROF_BASIC_AUTH_USER": "",
	"SECURE_PPROF_BASIC_AUTH_PASS": "",
	"SECURE_HEADERS_ENABLED":       true,
	"HEALTH_READY_DB_TIMEOUT":      "500ms",
	"HEALTH_READY_REDIS_TIMEOUT":   "300ms",
	"SHUTDOWN_GRACE":               "15s",
}

// mapProvider feeds a flat map into koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

// Load reads configuration from an optional .env file and the environment.
// Unset or blank variables keep their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(mapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	provider := env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		value = strings.TrimSpace(value)
		if _, known := defaults[key]; !known || value == "" {
			return "", nil
		}
		return key, value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.CORSAllowedOrigins = splitAndTrim(k.String("CORS_ALLOWED_ORIGINS"))
	cfg.JWTPreviousSecrets = splitAndTrim(k.String("JWT_PREVIOUS_SECRETS"))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		return name
	})
	var errs []error
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				errs = append(errs, fmt.Errorf("%s is required", fe.Field()))
				continue
			}
			errs = append(errs, fmt.Errorf("%s=%v fails %s", fe.Field(), fe.Value(), tagWithParam(fe)))
		}
	}
	if c.IsProduction() && c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	return errors.Join(errs...)
}

func tagWithParam(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	switch strings.ToLower(strings.TrimSpace(c.AppEnv)) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func splitAndTrim(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadForTests runs Load with the given variables set, restoring the
// previous environment afterwards. Empty values unset the variable.
func LoadForTests(vars map[string]string) (*Config, error) {
	previous := make(map[string]*string, len(vars))
	for key, value := range vars {
		if old, ok := os.LookupEnv(key); ok {
			previous[key] = &old
		} else {
			previous[key] = nil
		}
		if err := setEnv(key, value); err != nil {
			return nil, err
		}
	}
	defer func() {
		for key, old := range previous {
			if old == nil {
				_ = os.Unsetenv(key)
			} else {
				_ = os.Setenv(key, *old)
			}
		}
	}()
	return Load()
}

func setEnv(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}
