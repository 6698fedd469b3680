package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Provider  ProviderConfig
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

	// SSLMode is kept explicit for hosted-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ProviderConfig configures the external call-initiation provider (Bolna).
type ProviderConfig struct {
	BaseURL string
	APIKey  string

	// WebhookSecret signs inbound status callbacks (HMAC-SHA256).
	WebhookSecret string

	// PlacementTimeout bounds a single outbound placement request.
	// Exceeding it is a retryable failure, never an indeterminate state.
	PlacementTimeout time.Duration
}

// SchedulerConfig holds the call admission and dispatch knobs.
type SchedulerConfig struct {
	// DispatchInterval is the fixed poll interval of the dispatcher loop.
	// The loop is additionally woken immediately on slot release.
	DispatchInterval time.Duration

	// FeederInterval is how often active campaigns are promoted into the queue.
	FeederInterval time.Duration

	// WatchdogInterval is how often stuck `processing` entries are swept.
	WatchdogInterval time.Duration

	// ProcessingTimeout marks a `processing` entry as stuck (crash mid-placement).
	ProcessingTimeout time.Duration

	// SystemConcurrencyLimit caps in-flight calls across all users.
	SystemConcurrencyLimit int

	// DefaultUserConcurrencyLimit applies to users without an explicit limit.
	DefaultUserConcurrencyLimit int

	// MaxAttempts bounds retries of transient placement failures.
	MaxAttempts int

	// RetryBackoffBase is the first retry delay; doubled per attempt up to RetryBackoffCap.
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration

	// CreditCooldown skips a user after an insufficient-credit denial to
	// avoid a tight retry storm against the credit ledger.
	CreditCooldown time.Duration

	// DirectCallPriority is the priority assigned to interactive one-off calls.
	// Campaign entries enqueue at priority 0 so direct calls win ties.
	DirectCallPriority int

	// EstimatedCallMinutes sizes the upfront credit reservation per call.
	EstimatedCallMinutes int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Provider.BaseURL = strings.TrimSpace(os.Getenv("BOLNA_BASE_URL"))
	c.Provider.APIKey = os.Getenv("BOLNA_API_KEY")
	c.Provider.WebhookSecret = os.Getenv("BOLNA_WEBHOOK_SECRET")
	c.Provider.PlacementTimeout = optDuration("BOLNA_PLACEMENT_TIMEOUT")

	c.Scheduler.DispatchInterval = optDuration("DISPATCH_INTERVAL")
	c.Scheduler.FeederInterval = optDuration("FEEDER_INTERVAL")
	c.Scheduler.WatchdogInterval = optDuration("WATCHDOG_INTERVAL")
	c.Scheduler.ProcessingTimeout = optDuration("PROCESSING_TIMEOUT")
	c.Scheduler.SystemConcurrencyLimit = optInt("SYSTEM_CONCURRENCY_LIMIT")
	c.Scheduler.DefaultUserConcurrencyLimit = optInt("DEFAULT_USER_CONCURRENCY_LIMIT")
	c.Scheduler.MaxAttempts = optInt("DISPATCH_MAX_ATTEMPTS")
	c.Scheduler.RetryBackoffBase = optDuration("RETRY_BACKOFF_BASE")
	c.Scheduler.RetryBackoffCap = optDuration("RETRY_BACKOFF_CAP")
	c.Scheduler.CreditCooldown = optDuration("CREDIT_COOLDOWN")
	c.Scheduler.DirectCallPriority = optInt("DIRECT_CALL_PRIORITY")
	c.Scheduler.EstimatedCallMinutes = optInt("ESTIMATED_CALL_MINUTES")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

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
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
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
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("BOLNA_BASE_URL is required"))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("BOLNA_API_KEY is required"))
	}
	if c.IsProduction() && c.Provider.WebhookSecret == "" {
		errs = append(errs, errors.New("BOLNA_WEBHOOK_SECRET is required in production"))
	}
	if c.Provider.PlacementTimeout <= 0 {
		c.Provider.PlacementTimeout = 15 * time.Second
	}

	if c.Scheduler.DispatchInterval <= 0 {
		c.Scheduler.DispatchInterval = 2 * time.Second
	}
	if c.Scheduler.FeederInterval <= 0 {
		c.Scheduler.FeederInterval = 30 * time.Second
	}
	if c.Scheduler.WatchdogInterval <= 0 {
		c.Scheduler.WatchdogInterval = 30 * time.Second
	}
	if c.Scheduler.ProcessingTimeout <= 0 {
		c.Scheduler.ProcessingTimeout = 2 * time.Minute
	}
	if c.Scheduler.ProcessingTimeout <= c.Provider.PlacementTimeout {
		errs = append(errs, errors.New("PROCESSING_TIMEOUT must be greater than BOLNA_PLACEMENT_TIMEOUT"))
	}
	if c.Scheduler.SystemConcurrencyLimit <= 0 {
		c.Scheduler.SystemConcurrencyLimit = 50
	}
	if c.Scheduler.DefaultUserConcurrencyLimit <= 0 {
		c.Scheduler.DefaultUserConcurrencyLimit = 3
	}
	if c.Scheduler.DefaultUserConcurrencyLimit > c.Scheduler.SystemConcurrencyLimit {
		errs = append(errs, errors.New("DEFAULT_USER_CONCURRENCY_LIMIT must not exceed SYSTEM_CONCURRENCY_LIMIT"))
	}
	if c.Scheduler.MaxAttempts <= 0 {
		c.Scheduler.MaxAttempts = 3
	}
	if c.Scheduler.RetryBackoffBase <= 0 {
		c.Scheduler.RetryBackoffBase = 30 * time.Second
	}
	if c.Scheduler.RetryBackoffCap <= 0 {
		c.Scheduler.RetryBackoffCap = 15 * time.Minute
	}
	if c.Scheduler.RetryBackoffCap < c.Scheduler.RetryBackoffBase {
		errs = append(errs, errors.New("RETRY_BACKOFF_CAP must be >= RETRY_BACKOFF_BASE"))
	}
	if c.Scheduler.CreditCooldown <= 0 {
		c.Scheduler.CreditCooldown = 5 * time.Minute
	}
	if c.Scheduler.DirectCallPriority <= 0 {
		c.Scheduler.DirectCallPriority = 100
	}
	if c.Scheduler.EstimatedCallMinutes <= 0 {
		c.Scheduler.EstimatedCallMinutes = 5
	}

	return joinErrors(errs)
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

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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
