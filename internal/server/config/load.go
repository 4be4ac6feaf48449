package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dmitrijs2005/trackauth/internal/flagx"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TRACKAUTH_AUTH_ISSUER.
const EnvPrefix = "TRACKAUTH"

var loadDotenv = func() error {
	path := os.Getenv(EnvPrefix + "_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load builds a validated Config from args (usually os.Args[1:]).
func Load(args []string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := newViper()

	file := flagx.ConfigFile(args)
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Defaults())
	return v
}

// setDefaults registers every scalar key so AutomaticEnv can override it
// during Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("environment", d.Environment)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("grpc_addr", d.GRPCAddr)
	v.SetDefault("database_dsn", d.DatabaseDSN)

	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.audiences", d.Auth.Audiences)
	v.SetDefault("auth.access_token_ttl", d.Auth.AccessTokenTTL)
	v.SetDefault("auth.refresh_token_ttl", d.Auth.RefreshTokenTTL)
	v.SetDefault("auth.clock_skew", d.Auth.ClockSkew)
	v.SetDefault("auth.login_limit_per_minute", d.Auth.LoginLimitPerMinute)
	v.SetDefault("auth.refresh_limit_per_minute", d.Auth.RefreshLimitPerMinute)
	v.SetDefault("auth.revoke_chain_on_reuse", d.Auth.RevokeChainOnReuse)

	v.SetDefault("keys.current_key_id", d.Keys.CurrentKeyID)

	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.access_key", d.S3.AccessKey)
	v.SetDefault("s3.secret_key", d.S3.SecretKey)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.rotation_time", d.Log.RotationTime)
	v.SetDefault("log.max_age", d.Log.MaxAge)
}
