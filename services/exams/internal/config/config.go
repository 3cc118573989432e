package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file.
const ConfigPath = "config.yaml"

// Backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	// Backend is "postgres" (default) or "memory" for local development.
	Backend       string `yaml:"backend"`
	DatabaseURL   string `yaml:"databaseURL"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisPrefix   string `yaml:"redisPrefix"`

	StorageDriver        string `yaml:"storageDriver"`
	StorageEndpoint      string `yaml:"storageEndpoint"`
	StorageRegion        string `yaml:"storageRegion"`
	StorageAccessKey     string `yaml:"storageAccessKey"`
	StorageSecretKey     string `yaml:"storageSecretKey"`
	StorageBucket        string `yaml:"storageBucket"`
	StorageUseSSL        bool   `yaml:"storageUseSSL"`
	StoragePublicBaseURL string `yaml:"storagePublicBaseURL"`
	PresignExpiry        string `yaml:"presignExpiry"`
	MaxUploadBytes       int64  `yaml:"maxUploadBytes"`
	// ListIdleTTL drops a user's cached exam list after this long unused.
	ListIdleTTL string `yaml:"listIdleTTL"`

	SessionSecret string `yaml:"sessionSecret"`
	SessionTTL    string `yaml:"sessionTTL"`
	JWTIssuer     string `yaml:"jwtIssuer"`
	JWTAudience   string `yaml:"jwtAudience"`
	JWTLeeway     string `yaml:"jwtLeeway"`
	ResetURL      string `yaml:"resetURL"`
	ResetTTL      string `yaml:"resetTTL"`

	// Timezone decides which local day the 08:00 reminder falls on.
	Timezone            string `yaml:"timezone"`
	NotifyInterval      string `yaml:"notifyInterval"`
	NotifyConcurrency   int    `yaml:"notifyConcurrency"`
	NotifyQueueStream   string `yaml:"notifyQueueStream"`
	NotifyQueueRetries  int    `yaml:"notifyQueueRetries"`
	NotifyDispatchBatch int    `yaml:"notifyDispatchBatch"`

	AllowedOrigins             []string `yaml:"allowedOrigins"`
	TrustedProxies             []string `yaml:"trustedProxies"`
	SignupRateLimitPerMinute   int      `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	PasswordRateLimitPerMinute int      `yaml:"passwordRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if cfg.Backend == "" {
		cfg.Backend = BackendPostgres
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *FileConfig) {
	strs := map[string]*string{
		"PORT":                    &cfg.Port,
		"LOG_LEVEL":               &cfg.LogLevel,
		"EXAMS_BACKEND":           &cfg.Backend,
		"DATABASE_URL":            &cfg.DatabaseURL,
		"REDIS_ADDR":              &cfg.RedisAddr,
		"REDIS_PASSWORD":          &cfg.RedisPassword,
		"STORAGE_DRIVER":          &cfg.StorageDriver,
		"STORAGE_ENDPOINT":        &cfg.StorageEndpoint,
		"STORAGE_REGION":          &cfg.StorageRegion,
		"STORAGE_ACCESS_KEY":      &cfg.StorageAccessKey,
		"STORAGE_SECRET_KEY":      &cfg.StorageSecretKey,
		"STORAGE_BUCKET":          &cfg.StorageBucket,
		"STORAGE_PUBLIC_BASE_URL": &cfg.StoragePublicBaseURL,
		"SESSION_SECRET":          &cfg.SessionSecret,
		"SESSION_TTL":             &cfg.SessionTTL,
		"JWT_ISSUER":              &cfg.JWTIssuer,
		"JWT_AUDIENCE":            &cfg.JWTAudience,
		"JWT_LEEWAY":              &cfg.JWTLeeway,
		"RESET_URL":               &cfg.ResetURL,
		"EXAMS_TIMEZONE":          &cfg.Timezone,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("STORAGE_USE_SSL"); v != "" {
		cfg.StorageUseSSL = v == "true"
	}
	if v := os.Getenv("EXAMS_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("EXAMS_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("EXAMS_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	ints := map[string]*int{
		"EXAMS_SIGNUP_RATE_LIMIT_PER_MINUTE":   &cfg.SignupRateLimitPerMinute,
		"EXAMS_LOGIN_RATE_LIMIT_PER_MINUTE":    &cfg.LoginRateLimitPerMinute,
		"EXAMS_PASSWORD_RATE_LIMIT_PER_MINUTE": &cfg.PasswordRateLimitPerMinute,
		"EXAMS_NOTIFY_CONCURRENCY":             &cfg.NotifyConcurrency,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.Backend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres backend")
		}
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
	if len(cfg.SessionSecret) < 32 {
		return errors.New("config: sessionSecret must be at least 32 bytes (set SESSION_SECRET)")
	}
	switch strings.ToLower(cfg.StorageDriver) {
	case "", "minio", "s3":
		if cfg.StorageBucket == "" {
			return errors.New("config: storageBucket is required")
		}
		// Attachment and photo URLs are stored with the record, so they
		// must not be presigned links that expire.
		if strings.TrimSpace(cfg.StoragePublicBaseURL) == "" {
			return errors.New("config: storagePublicBaseURL is required for the minio and s3 drivers")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storageDriver %q", cfg.StorageDriver)
	}
	for name, value := range map[string]string{
		"sessionTTL":     cfg.SessionTTL,
		"jwtLeeway":      cfg.JWTLeeway,
		"resetTTL":       cfg.ResetTTL,
		"presignExpiry":  cfg.PresignExpiry,
		"notifyInterval": cfg.NotifyInterval,
		"listIdleTTL":    cfg.ListIdleTTL,
	} {
		if _, err := ParseDuration(name, value); err != nil {
			return err
		}
	}
	if _, err := LoadLocation(cfg.Timezone); err != nil {
		return err
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 || cfg.PasswordRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	return nil
}

// ParseDuration parses an optional duration setting. Blank yields zero.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must be >= 0", name)
	}
	return dur, nil
}

// LoadLocation resolves the reminder timezone. Blank means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("config: invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
