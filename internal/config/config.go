package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr         string
	GRPCAddr         string
	ServiceAuthToken string
	LogLevel         string

	RootDomain   string
	CookieDomain string
	CookieSecure bool

	ProfileSecret string
	JWTIssuer     string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ProfileTTL      time.Duration

	RedisAddr      string
	RedisPassword  string
	DatabaseURL    string
	OutboxBackend  string
	SchoolCacheTTL time.Duration
	StateTTL       time.Duration

	SchoolAPIURL    string
	CourseAPIURL    string
	ExamAPIURL      string
	AdminAPIURL     string
	UploadAPIURL    string
	UploadPreset    string
	UpstreamTimeout time.Duration

	PaymentProvider     string
	StripeSecretKey     string
	StripeCurrency      string
	StripeWebhookSecret string
	PublicBaseURL       string

	AssetBackend string
	S3Bucket     string
	S3Region     string
	S3PublicURL  string

	ExamDuration         time.Duration
	ExamType             string
	PassThresholdPercent float64
	SubmitMaxAttempts    int
	SubmitBaseDelay      time.Duration
	SubmitTimeout        time.Duration
	AttemptReapInterval  time.Duration
	AttemptRetention     time.Duration
	SessionEstablishWait time.Duration
	PassedMarkerTTL      time.Duration
	PendingDrainTimeout  time.Duration
	HealthProbeInterval  time.Duration
}

// Load reads an optional dotenv file and then the process environment.
func Load() Config {
	_ = loadDotEnv(getenv("ENV_FILE", ".env"))
	return Config{
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:         getenv("GRPC_ADDR", ":9090"),
		ServiceAuthToken: getenv("SERVICE_AUTH_TOKEN", ""),
		LogLevel:         getenv("LOG_LEVEL", "info"),

		RootDomain:   strings.ToLower(getenv("ROOT_DOMAIN", "eduvia.space")),
		CookieDomain: getenv("COOKIE_DOMAIN", ""),
		CookieSecure: getenvBool("COOKIE_SECURE", true),

		ProfileSecret: getenvKey("PROFILE_SECRET", "dev-profile-secret"),
		JWTIssuer:     getenv("JWT_ISSUER", "eduvia-portal"),

		AccessTokenTTL:  getenvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getenvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		ProfileTTL:      getenvDuration("PROFILE_TTL", 24*time.Hour),

		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		OutboxBackend:  getenv("OUTBOX_BACKEND", "redis"),
		SchoolCacheTTL: getenvDuration("SCHOOL_CACHE_TTL", 5*time.Minute),
		StateTTL:       getenvDuration("STATE_TTL", 30*24*time.Hour),

		SchoolAPIURL:    getenv("SCHOOL_API_URL", "http://127.0.0.1:5001"),
		CourseAPIURL:    getenv("COURSE_API_URL", "http://127.0.0.1:5002"),
		ExamAPIURL:      getenv("EXAM_API_URL", "http://127.0.0.1:5003"),
		AdminAPIURL:     getenv("ADMIN_API_URL", "http://127.0.0.1:5004"),
		UploadAPIURL:    getenv("UPLOAD_API_URL", ""),
		UploadPreset:    getenv("UPLOAD_PRESET", "eduvia"),
		UpstreamTimeout: getenvDuration("UPSTREAM_TIMEOUT", 10*time.Second),

		PaymentProvider:     getenv("PAYMENT_PROVIDER", "course"),
		StripeSecretKey:     getenvKey("STRIPE_SECRET_KEY", ""),
		StripeCurrency:      getenv("STRIPE_CURRENCY", "usd"),
		StripeWebhookSecret: getenvKey("STRIPE_WEBHOOK_SECRET", ""),
		PublicBaseURL:       getenv("PUBLIC_BASE_URL", "https://eduvia.space"),

		AssetBackend: getenv("ASSET_BACKEND", "rest"),
		S3Bucket:     getenv("S3_BUCKET", ""),
		S3Region:     getenv("AWS_REGION", "us-east-1"),
		S3PublicURL:  getenv("S3_PUBLIC_URL", ""),

		ExamDuration:         getenvDuration("EXAM_DURATION", 30*time.Minute),
		ExamType:             getenv("EXAM_TYPE", "final"),
		PassThresholdPercent: getenvFloat("PASS_THRESHOLD_PERCENT", 40),
		SubmitMaxAttempts:    getenvInt("SUBMIT_MAX_ATTEMPTS", 3),
		SubmitBaseDelay:      getenvDuration("SUBMIT_BASE_DELAY", time.Second),
		SubmitTimeout:        getenvDuration("SUBMIT_TIMEOUT", 30*time.Second),
		AttemptReapInterval:  getenvDuration("ATTEMPT_REAP_INTERVAL", time.Minute),
		AttemptRetention:     getenvDuration("ATTEMPT_RETENTION", 2*time.Hour),
		SessionEstablishWait: getenvDuration("SESSION_ESTABLISH_WAIT", 10*time.Second),
		PassedMarkerTTL:      getenvDuration("PASSED_MARKER_TTL", 30*24*time.Hour),
		PendingDrainTimeout:  getenvDuration("PENDING_DRAIN_TIMEOUT", time.Minute),
		HealthProbeInterval:  getenvDuration("HEALTH_PROBE_INTERVAL", 15*time.Second),
	}
}

// loadDotEnv never overrides variables already present in the environment.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvKey(key, fallback string) string {
	if file := os.Getenv(key + "_FILE"); file != "" {
		if data, err := os.ReadFile(file); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	if val := os.Getenv(key); val != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}
