package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	StoreDriver         string        `mapstructure:"STORE_DRIVER"`
	MongoURI            string        `mapstructure:"MONGODB_URI"`
	MongoDatabase       string        `mapstructure:"MONGODB_DATABASE"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	JWTSecret           string        `mapstructure:"JWT_SECRET"`
	TokenTTL            time.Duration `mapstructure:"TOKEN_TTL"`
	BcryptCost          int           `mapstructure:"BCRYPT_COST"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	UploadDir           string        `mapstructure:"UPLOAD_DIR"`
	UploadMaxBytes      int64         `mapstructure:"UPLOAD_MAX_BYTES"`
	BodyLimitBytes      int64         `mapstructure:"BODY_LIMIT_BYTES"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	EmailDomainSuffixes []string      `mapstructure:"EMAIL_DOMAIN_SUFFIXES"`
	ProtectAdmins       bool          `mapstructure:"PROTECT_ADMINS"`
	AllowAdminSignup    bool          `mapstructure:"ALLOW_ADMIN_SIGNUP"`
}

// devSecret signs tokens when ENV=development and JWT_SECRET is unset.
const devSecret = "clinic-development-secret-do-not-use-in-production"

// MinSecretBytes is the shortest JWT_SECRET accepted in production.
const MinSecretBytes = 32

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "MONGODB_URI", "MONGODB_DATABASE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"JWT_SECRET", "TOKEN_TTL", "BCRYPT_COST", "CORS_ORIGINS",
	"UPLOAD_DIR", "UPLOAD_MAX_BYTES", "BODY_LIMIT_BYTES", "REQUEST_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"EMAIL_DOMAIN_SUFFIXES", "PROTECT_ADMINS", "ALLOW_ADMIN_SIGNUP",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverMongo)
	v.SetDefault("MONGODB_DATABASE", "clinic")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("TOKEN_TTL", "168h")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("UPLOAD_DIR", "./uploads")
	v.SetDefault("UPLOAD_MAX_BYTES", 5<<20)
	v.SetDefault("BODY_LIMIT_BYTES", 1<<20)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("EMAIL_DOMAIN_SUFFIXES", ".com,.org,.net,.edu,.gov")
	v.SetDefault("PROTECT_ADMINS", true)
	v.SetDefault("ALLOW_ADMIN_SIGNUP", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.EmailDomainSuffixes = splitList(v.GetString("EMAIL_DOMAIN_SUFFIXES"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if cfg.JWTSecret == "" && cfg.IsDev() {
		cfg.JWTSecret = devSecret
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the selected store is reachable by URL and that the
// token secret is usable.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required when STORE_DRIVER is %q", DriverMongo)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverMongo, DriverPostgres, c.StoreDriver)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required outside development")
	}
	if c.IsProduction() && len(c.JWTSecret) < MinSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production, got %d", MinSecretBytes, len(c.JWTSecret))
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive")
	}
	if c.BodyLimitBytes <= 0 {
		return fmt.Errorf("BODY_LIMIT_BYTES must be positive")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
