package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all configuration required by the api and worker processes.
// All values must come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Vapi      VapiConfig
	Scheduler SchedulerConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// AutoMigrate applies embedded migrations at process start.
	AutoMigrate bool

	// Pool sizing. Zero keeps the pool defaults.
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig is optional. When Host is empty the dispatcher runs without a
// cross-process concurrency cap.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type VapiConfig struct {
	APIKey        string
	PhoneNumberID string
	BaseURL       string

	// ServerURL is where the provider delivers webhooks for created assistants.
	ServerURL     string
	WebhookSecret string

	Model       string
	Temperature float64
	HTTPTimeout time.Duration
}

type SchedulerConfig struct {
	ScanCron     string
	DispatchCron string

	BatchSize           int
	DispatchConcurrency int
	MaxInFlightCalls    int

	RetryDelay    time.Duration
	DispatchLease time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = intVar(parseErrs, "APP_PORT", true)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intVar(parseErrs, "DB_PORT", true)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.AutoMigrate, parseErrs = boolVar(parseErrs, "DB_AUTO_MIGRATE")
	c.DB.MaxOpenConns, parseErrs = intVar(parseErrs, "DB_MAX_OPEN_CONNS", false)
	c.DB.ConnMaxLifetime, parseErrs = durationVar(parseErrs, "DB_CONN_MAX_LIFETIME")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intVar(parseErrs, "REDIS_PORT", false)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = intVar(parseErrs, "REDIS_DB", false)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = durationVar(parseErrs, "JWT_ACCESS_TTL")

	c.Vapi.APIKey = os.Getenv("VAPI_API_KEY")
	c.Vapi.PhoneNumberID = strings.TrimSpace(os.Getenv("VAPI_PHONE_NUMBER_ID"))
	c.Vapi.BaseURL = strings.TrimSpace(os.Getenv("VAPI_BASE_URL"))
	c.Vapi.ServerURL = strings.TrimSpace(os.Getenv("VAPI_SERVER_URL"))
	c.Vapi.WebhookSecret = os.Getenv("VAPI_WEBHOOK_SECRET")
	c.Vapi.Model = strings.TrimSpace(os.Getenv("VAPI_MODEL"))
	c.Vapi.Temperature, parseErrs = floatVar(parseErrs, "VAPI_TEMPERATURE")
	c.Vapi.HTTPTimeout, parseErrs = durationVar(parseErrs, "VAPI_HTTP_TIMEOUT")

	c.Scheduler.ScanCron = strings.TrimSpace(os.Getenv("SCHEDULER_SCAN_CRON"))
	c.Scheduler.DispatchCron = strings.TrimSpace(os.Getenv("SCHEDULER_DISPATCH_CRON"))
	c.Scheduler.BatchSize, parseErrs = intVar(parseErrs, "SCHEDULER_BATCH_SIZE", false)
	c.Scheduler.DispatchConcurrency, parseErrs = intVar(parseErrs, "SCHEDULER_DISPATCH_CONCURRENCY", false)
	c.Scheduler.MaxInFlightCalls, parseErrs = intVar(parseErrs, "SCHEDULER_MAX_INFLIGHT_CALLS", false)
	c.Scheduler.RetryDelay, parseErrs = durationVar(parseErrs, "SCHEDULER_RETRY_DELAY")
	c.Scheduler.DispatchLease, parseErrs = durationVar(parseErrs, "SCHEDULER_DISPATCH_LEASE")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.DB.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must not be negative, got %d", c.DB.MaxOpenConns))
	}

	if c.Redis.Host != "" {
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if c.Redis.Port < 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Job tokens are minted for cron callers and live longer than user tokens.
		c.Auth.AccessTokenTTL = 24 * time.Hour
	}

	if c.Vapi.APIKey == "" {
		errs = append(errs, errors.New("VAPI_API_KEY is required"))
	}
	if c.Vapi.PhoneNumberID == "" {
		errs = append(errs, errors.New("VAPI_PHONE_NUMBER_ID is required"))
	}
	if c.Vapi.ServerURL == "" {
		errs = append(errs, errors.New("VAPI_SERVER_URL is required"))
	}
	if c.IsProduction() && c.Vapi.WebhookSecret == "" {
		errs = append(errs, errors.New("VAPI_WEBHOOK_SECRET is required in production"))
	}
	if c.Vapi.BaseURL == "" {
		c.Vapi.BaseURL = "https://api.vapi.ai"
	}
	if c.Vapi.Model == "" {
		c.Vapi.Model = "gpt-4o-mini"
	}
	if c.Vapi.Temperature == 0 {
		c.Vapi.Temperature = 0.7
	}
	if c.Vapi.Temperature < 0 || c.Vapi.Temperature > 2 {
		errs = append(errs, fmt.Errorf("VAPI_TEMPERATURE must be within 0..2, got %v", c.Vapi.Temperature))
	}
	if c.Vapi.HTTPTimeout <= 0 {
		c.Vapi.HTTPTimeout = 15 * time.Second
	}

	c.Scheduler.applyDefaults()
	if c.Scheduler.BatchSize < 0 || c.Scheduler.DispatchConcurrency < 0 || c.Scheduler.MaxInFlightCalls < 0 {
		errs = append(errs, errors.New("SCHEDULER_* sizes must not be negative"))
	}
	if _, err := cron.ParseStandard(c.Scheduler.ScanCron); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULER_SCAN_CRON: %w", err))
	}
	if _, err := cron.ParseStandard(c.Scheduler.DispatchCron); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULER_DISPATCH_CRON: %w", err))
	}

	return joinErrors(errs)
}

func (s *SchedulerConfig) applyDefaults() {
	if s.ScanCron == "" {
		s.ScanCron = "0 * * * *"
	}
	if s.DispatchCron == "" {
		s.DispatchCron = "*/5 * * * *"
	}
	if s.BatchSize == 0 {
		s.BatchSize = 10
	}
	if s.DispatchConcurrency == 0 {
		s.DispatchConcurrency = 1
	}
	if s.MaxInFlightCalls == 0 {
		s.MaxInFlightCalls = 20
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = time.Hour
	}
	if s.DispatchLease <= 0 {
		s.DispatchLease = 5 * time.Minute
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisAddr returns "" when Redis is not configured.
func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// intVar parses an integer env var. Missing optional values return 0.
func intVar(errs []error, key string, required bool) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func durationVar(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func floatVar(errs []error, key string) (float64, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a number, got %q", key, v))
	}
	return f, errs
}

func boolVar(errs []error, key string) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
