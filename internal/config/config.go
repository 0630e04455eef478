// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ユーザーストアのバックエンド。
const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// OAuth
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Session token
	SecretKey                string `env:"SECRET_KEY,required,notEmpty"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`

	// Store
	StoreBackend string `env:"STORE_BACKEND" envDefault:"dynamodb"`
	DatabaseURL  string `env:"DATABASE_URL"`

	// DynamoDB
	AWSRegion           string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKeyID      string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey  string `env:"AWS_SECRET_ACCESS_KEY"`
	DynamoDBEndpointURL string `env:"DYNAMODB_ENDPOINT_URL"`
	DynamoDBTableUsers  string `env:"DYNAMODB_TABLE_USERS" envDefault:"users"`

	// Server
	ServerPort   string `env:"SERVER_PORT" envDefault:"8080"`
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Debug    bool   `env:"DEBUG" envDefault:"false"`
}

// Load はカレントディレクトリの.envを読み込んだ上で環境変数からConfigを生成する。
// .envが無いのはエラーではない。既に設定済みの環境変数は.envで上書きされない。
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv は環境変数のみからConfigを生成して検証する。
// 不足・不正な変数はまとめて1つのエラーとして返す。
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var errs []error
	if err := env.Parse(cfg); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendDynamoDB:
		if c.DynamoDBTableUsers == "" {
			errs = append(errs, errors.New("DYNAMODB_TABLE_USERS must not be empty"))
		}
	case BackendPostgres, BackendSQLite:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=%s", c.StoreBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of dynamodb, postgres, sqlite: got %q", c.StoreBackend))
	}

	if c.AccessTokenExpireMinutes <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive: got %d", c.AccessTokenExpireMinutes))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("PROVIDER_TIMEOUT must be positive: got %s", c.ProviderTimeout))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// TokenTTL はセッショントークンとCookieの有効期間を返す。
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// SlogLevel はログレベルを返す。DEBUGが有効な場合は常にDebug。
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	level, _ := parseLevel(c.LogLevel)
	return level
}

// IsSQLBackend はSQLデータベースをユーザーストアに使う場合にtrueを返す。
func (c *Config) IsSQLBackend() bool {
	return c.StoreBackend == BackendPostgres || c.StoreBackend == BackendSQLite
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: got %q", s)
	}
	return level, nil
}
