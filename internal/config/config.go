package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "GEOBOARD"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "messages.db"
	defaultReadPoolSize   = 4
	defaultBusyTimeout    = 10 * time.Second
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultCookieName     = "geoboard_session"
	defaultSessionTTL     = 30 * 24 * time.Hour
	defaultCatalogStep    = 64
	defaultQueryLimit     = 50
	defaultMaxLevel       = 1
	defaultRateLimitRPS   = 5.0
	defaultRateLimitBurst = 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	DatabaseReadPoolSize int
	DatabaseBusyTimeout  time.Duration
	LogLevel             string
	LogFormat            string
	SessionSigningSecret string
	SessionCookieName    string
	SessionTTL           time.Duration
	SessionSecureCookie  bool
	CORSAllowedOrigins   []string
	CatalogFile          string
	CatalogStep          int
	QueryDefaultLimit    int
	LocationMaxLevel     int
	RateLimitRPS         float64
	RateLimitBurst       int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.read_pool_size", defaultReadPoolSize)
	configViper.SetDefault("database.busy_timeout", defaultBusyTimeout)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.ttl", defaultSessionTTL)
	configViper.SetDefault("session.secure_cookie", true)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("catalog.file", "")
	configViper.SetDefault("catalog.step", defaultCatalogStep)
	configViper.SetDefault("query.default_limit", defaultQueryLimit)
	configViper.SetDefault("location.max_level", defaultMaxLevel)
	configViper.SetDefault("ratelimit.rps", defaultRateLimitRPS)
	configViper.SetDefault("ratelimit.burst", defaultRateLimitBurst)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseReadPoolSize: configViper.GetInt("database.read_pool_size"),
		DatabaseBusyTimeout:  configViper.GetDuration("database.busy_timeout"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionTTL:           configViper.GetDuration("session.ttl"),
		SessionSecureCookie:  configViper.GetBool("session.secure_cookie"),
		CORSAllowedOrigins:   configViper.GetStringSlice("cors.allowed_origins"),
		CatalogFile:          configViper.GetString("catalog.file"),
		CatalogStep:          configViper.GetInt("catalog.step"),
		QueryDefaultLimit:    configViper.GetInt("query.default_limit"),
		LocationMaxLevel:     configViper.GetInt("location.max_level"),
		RateLimitRPS:         configViper.GetFloat64("ratelimit.rps"),
		RateLimitBurst:       configViper.GetInt("ratelimit.burst"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if c.CatalogStep <= 0 {
		return fmt.Errorf("catalog.step must be positive")
	}
	if c.QueryDefaultLimit <= 0 {
		return fmt.Errorf("query.default_limit must be positive")
	}
	if c.LocationMaxLevel < 0 {
		return fmt.Errorf("location.max_level must not be negative")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("ratelimit.rps and ratelimit.burst must be positive")
	}
	return nil
}
