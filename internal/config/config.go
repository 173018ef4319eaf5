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
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	Call  CallConfig
	Push  PushConfig
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

	// SSLMode is kept explicit for AWS-ready posture.
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

// CallConfig controls session lifecycle timing and billing rates.
//
// Rates are milli-coins per second (int64), the money-minor-units convention:
// 200 = 0.2 coins/second. Rates are resolved once at session creation and
// frozen into the session; changing these values never affects live calls.
type CallConfig struct {
	// RingTimeout is how long a recipient may stay in ringing before the
	// session resolves to timeout. Push-notified (offline) recipients get 2x.
	RingTimeout time.Duration

	// StalenessThreshold force-terminates a call whose participants stopped
	// sending liveness signals (device killed without a socket close).
	StalenessThreshold time.Duration

	// ReconnectGrace is how long an offline presence record is retained
	// before the reconciler clears it.
	ReconnectGrace time.Duration

	// LockTTL bounds the recipient ring lock. Must exceed RingTimeout so the
	// lock never expires under a still-ringing session.
	LockTTL time.Duration

	// SweepInterval is the reconciler's period.
	SweepInterval time.Duration

	AudioRateMilli int64
	VideoRateMilli int64

	// RevenueSharePercent of the charged coins credited to the recipient at
	// call end. 0 disables the share. Business policy, not an invariant.
	RevenueSharePercent int

	// MinBalanceSeconds is the minimum affordable call length required of a
	// caller at initiate time.
	MinBalanceSeconds int
}

type PushConfig struct {
	// Endpoint is the push relay URL. Empty disables the alternate
	// reachability channel entirely (offline recipients fail immediately).
	Endpoint string
	APIKey   string
	Timeout  time.Duration
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
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Call.RingTimeout = mustDuration("RING_TIMEOUT")
	c.Call.StalenessThreshold = mustDuration("STALENESS_THRESHOLD")
	c.Call.ReconnectGrace = mustDuration("RECONNECT_GRACE")
	c.Call.LockTTL = mustDuration("LOCK_TTL")
	c.Call.SweepInterval = mustDuration("SWEEP_INTERVAL")
	c.Call.AudioRateMilli = optInt64("AUDIO_RATE_MILLI")
	c.Call.VideoRateMilli = optInt64("VIDEO_RATE_MILLI")
	c.Call.RevenueSharePercent = int(optInt64("REVENUE_SHARE_PERCENT"))
	c.Call.MinBalanceSeconds = int(optInt64("MIN_BALANCE_SECONDS"))

	c.Push.Endpoint = strings.TrimSpace(os.Getenv("PUSH_ENDPOINT"))
	c.Push.APIKey = os.Getenv("PUSH_API_KEY")
	c.Push.Timeout = mustDuration("PUSH_TIMEOUT")

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

	if c.Call.RingTimeout <= 0 {
		c.Call.RingTimeout = 30 * time.Second
	}
	if c.Call.StalenessThreshold <= 0 {
		c.Call.StalenessThreshold = 60 * time.Second
	}
	if c.Call.ReconnectGrace <= 0 {
		c.Call.ReconnectGrace = 30 * time.Second
	}
	if c.Call.LockTTL <= 0 {
		// Lock must outlive the extended (2x) ring window for push-notified
		// recipients, plus slack for resolution side effects.
		c.Call.LockTTL = 2*c.Call.RingTimeout + 15*time.Second
	}
	if c.Call.LockTTL <= c.Call.RingTimeout {
		errs = append(errs, errors.New("LOCK_TTL must be greater than RING_TIMEOUT"))
	}
	if c.Call.SweepInterval <= 0 {
		c.Call.SweepInterval = 10 * time.Second
	}
	if c.Call.AudioRateMilli <= 0 {
		c.Call.AudioRateMilli = 200 // 0.2 coins/second
	}
	if c.Call.VideoRateMilli <= 0 {
		c.Call.VideoRateMilli = 1000 // 1 coin/second
	}
	if c.Call.RevenueSharePercent < 0 || c.Call.RevenueSharePercent > 100 {
		errs = append(errs, fmt.Errorf("REVENUE_SHARE_PERCENT must be within [0,100], got %d", c.Call.RevenueSharePercent))
	}
	if c.Call.MinBalanceSeconds <= 0 {
		c.Call.MinBalanceSeconds = 60
	}

	if c.Push.Timeout <= 0 {
		c.Push.Timeout = 5 * time.Second
	}
	if c.Push.Endpoint != "" && c.Push.APIKey == "" && c.IsProduction() {
		errs = append(errs, errors.New("PUSH_API_KEY is required in production when PUSH_ENDPOINT is set"))
	}

	return joinErrors(errs)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c *Config) PostgresDSN() string {
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

func (c *Config) RedisAddr() string {
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

func optInt64(key string) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
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
