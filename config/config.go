package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names for the challenge and token stores.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling; every scalar can be set from
// the environment with the IDP_ prefix.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	ChallengeBackend string `mapstructure:"CHALLENGE_BACKEND"`
	TokenBackend     string `mapstructure:"TOKEN_BACKEND"`

	RedisAddr      string `mapstructure:"REDIS_ADDR"`
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	// AdminToken guards the /v1/admin routes. Empty disables them.
	AdminToken string `mapstructure:"ADMIN_TOKEN"`

	StoreTimeout   time.Duration `mapstructure:"STORE_TIMEOUT"`
	TenantCacheTTL time.Duration `mapstructure:"TENANT_CACHE_TTL"`

	Tenants []TenantConfig `mapstructure:"TENANTS"`
	Clients []ClientConfig `mapstructure:"CLIENTS"`
	Scopes  []ScopeConfig  `mapstructure:"SCOPES"`
	Users   []UserConfig   `mapstructure:"USERS"`
}

// TenantConfig is the file representation of a tenant.
type TenantConfig struct {
	ID                 string        `mapstructure:"id"`
	Issuer             string        `mapstructure:"issuer"`
	AuthorizeTTL       time.Duration `mapstructure:"authorize_ttl"`
	AccessTokenExpiry  time.Duration `mapstructure:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `mapstructure:"refresh_token_expiry"`
	IDTokenExpiry      time.Duration `mapstructure:"id_token_expiry"`
	SigningKeyFile     string        `mapstructure:"signing_key_file"`
	KeyID              string        `mapstructure:"key_id"`
	LoginPageURI       string        `mapstructure:"login_page_uri"`
	ConsentPageURI     string        `mapstructure:"consent_page_uri"`
	IDTokenClaims      []string      `mapstructure:"id_token_claims"`
	AccessTokenClaims  []string      `mapstructure:"access_token_claims"`
	UserServiceURL     string        `mapstructure:"user_service_url"`
}

// ClientConfig seeds a client into the in-memory registry.
type ClientConfig struct {
	TenantID      string   `mapstructure:"tenant_id"`
	ID            string   `mapstructure:"id"`
	Name          string   `mapstructure:"name"`
	Secret        string   `mapstructure:"secret"`
	RedirectURIs  []string `mapstructure:"redirect_uris"`
	ResponseTypes []string `mapstructure:"response_types"`
	GrantTypes    []string `mapstructure:"grant_types"`
	Scopes        []string `mapstructure:"scopes"`
	SkipConsent   bool     `mapstructure:"skip_consent"`
}

// ScopeConfig seeds a scope and its claims into the in-memory registry.
type ScopeConfig struct {
	TenantID string   `mapstructure:"tenant_id"`
	Name     string   `mapstructure:"name"`
	Claims   []string `mapstructure:"claims"`
}

// UserConfig seeds the built-in user directory used by tenants without a
// user service URL.
type UserConfig struct {
	TenantID string `mapstructure:"tenant_id"`
	UserID   string `mapstructure:"user_id"`
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	Name     string `mapstructure:"name"`
	Password string `mapstructure:"password"`
}

// Default tenant token settings applied to tenants that leave them unset.
const (
	DefaultAuthorizeTTL       = 10 * time.Minute
	DefaultAccessTokenExpiry  = 15 * time.Minute
	DefaultRefreshTokenExpiry = 30 * 24 * time.Hour
	DefaultIDTokenExpiry      = time.Hour
)

// LoadConfig reads configuration from file, environment variables, and defaults.
// Extra search paths are consulted before the standard locations.
func LoadConfig(paths ...string) (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("/etc/idp/")
	v.AddConfigPath("$HOME/.idp")
	v.AddConfigPath(".")

	v.SetEnvPrefix("IDP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("OTEL_SERVICE_NAME", "idp")
	v.SetDefault("CHALLENGE_BACKEND", BackendRedis)
	v.SetDefault("TOKEN_BACKEND", BackendMongo)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "idp")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "idp")
	v.SetDefault("ADMIN_TOKEN", "")
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("TENANT_CACHE_TTL", "5m")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine: defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	cfg.applyTenantDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *ServerConfig) applyTenantDefaults() {
	for i := range c.Tenants {
		t := &c.Tenants[i]
		if t.AuthorizeTTL == 0 {
			t.AuthorizeTTL = DefaultAuthorizeTTL
		}
		if t.AccessTokenExpiry == 0 {
			t.AccessTokenExpiry = DefaultAccessTokenExpiry
		}
		if t.RefreshTokenExpiry == 0 {
			t.RefreshTokenExpiry = DefaultRefreshTokenExpiry
		}
		if t.IDTokenExpiry == 0 {
			t.IDTokenExpiry = DefaultIDTokenExpiry
		}
		if t.KeyID == "" {
			t.KeyID = t.ID
		}
	}
}

// Validate checks backend names and tenant entries.
func (c *ServerConfig) Validate() error {
	switch c.ChallengeBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported challenge backend %q", c.ChallengeBackend)
	}
	switch c.TokenBackend {
	case BackendMemory, BackendMongo:
	default:
		return fmt.Errorf("unsupported token backend %q", c.TokenBackend)
	}

	seen := make(map[string]struct{}, len(c.Tenants))
	for _, t := range c.Tenants {
		if t.ID == "" {
			return errors.New("tenant id is required")
		}
		if t.Issuer == "" {
			return fmt.Errorf("tenant %s: issuer is required", t.ID)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("tenant %s: duplicate id", t.ID)
		}
		seen[t.ID] = struct{}{}
	}

	return nil
}
