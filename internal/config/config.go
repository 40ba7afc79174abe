// Package config は環境変数からサービスの設定を読み込む。
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ソースの接続方式。
const (
	SourceDriverSQLite   = "sqlite"
	SourceDriverPostgres = "postgres"
	SourceDriverREST     = "rest"
)

// 非表示集合の永続化先。
const (
	DismissalBackendSQLite = "sqlite"
	DismissalBackendRedis  = "redis"
	DismissalBackendGCS    = "gcs"
	DismissalBackendMemory = "memory"
)

// Config はサービス全体の設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string `env:"PORT" envDefault:"8087"`

	// SourceDriver は通知ソースの接続方式。
	SourceDriver string `env:"SOURCE_DRIVER" envDefault:"sqlite"`
	// SourceDSN はSQLソースの接続文字列。
	SourceDSN string `env:"SOURCE_DSN" envDefault:"/data/noticefeed.db"`
	// SourceRESTURL はRESTソースのベースURL。
	SourceRESTURL string `env:"SOURCE_REST_URL"`
	// SourceRESTAPIKey はRESTソースに送るAPIキー。
	SourceRESTAPIKey string `env:"SOURCE_REST_API_KEY"`

	// DismissalBackend は非表示集合の永続化先。
	DismissalBackend string `env:"DISMISSAL_BACKEND" envDefault:"sqlite"`
	// DismissalSQLitePath は永続化先がSQLiteの場合のファイルパス。
	DismissalSQLitePath string `env:"DISMISSAL_SQLITE_PATH" envDefault:"/data/dismissal.db"`
	// RedisURL は永続化先がRedisの場合の接続URL。
	RedisURL string `env:"REDIS_URL"`
	// GCSBucket は永続化先がCloud Storageの場合のバケット名。
	GCSBucket string `env:"GCS_BUCKET"`
	// DismissalKey は非表示集合を保存するキーの接頭辞。クライアントIDを ":" で連結して使う。
	DismissalKey string `env:"DISMISSAL_KEY" envDefault:"dismissed-notifications"`

	// RefreshInterval はフィードの再取得間隔。
	RefreshInterval time.Duration `env:"REFRESH_INTERVAL" envDefault:"60s"`
	// NewsListingPath はニュース通知のリンク先。
	NewsListingPath string `env:"NEWS_LISTING_PATH" envDefault:"/news"`
	// AllowedOrigins はCORSで許可するオリジン。
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	// AuthoringEnabled は運営者向けの作成APIを公開するかどうか。
	// 作成APIは認証を持たないため、プライベートネットワーク内で動かす場合のみ有効にする。
	AuthoringEnabled bool `env:"AUTHORING_ENABLED" envDefault:"false"`
	// LogLevel はログレベル（debug / info / warn / error）。
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Error は設定値の誤りを表す。
type Error struct {
	// Field は誤りのある環境変数名。
	Field string
	// Message は誤りの内容。
	Message string
}

func (e *Error) Error() string {
	return e.Field + ": " + e.Message
}

// Load は .env ファイル（存在する場合）と環境変数から設定を読み込む。
func Load() (*Config, error) {
	_ = godotenv.Load()
	return parse(env.Options{})
}

// FromMap はmapを環境変数とみなして設定を読み込む。
func FromMap(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate は設定値の組み合わせを検証する。
func (c *Config) validate() error {
	if c.Port == "" {
		return &Error{Field: "PORT", Message: "ポート番号は必須です"}
	}

	switch c.SourceDriver {
	case SourceDriverSQLite, SourceDriverPostgres:
		if c.SourceDSN == "" {
			return &Error{Field: "SOURCE_DSN", Message: "SQLソースの接続文字列は必須です"}
		}
	case SourceDriverREST:
		if c.SourceRESTURL == "" {
			return &Error{Field: "SOURCE_REST_URL", Message: "RESTソースのURLは必須です"}
		}
	default:
		return &Error{Field: "SOURCE_DRIVER", Message: fmt.Sprintf("未対応の接続方式です: %q", c.SourceDriver)}
	}

	switch c.DismissalBackend {
	case DismissalBackendSQLite:
		if c.DismissalSQLitePath == "" {
			return &Error{Field: "DISMISSAL_SQLITE_PATH", Message: "SQLiteのパスは必須です"}
		}
	case DismissalBackendRedis:
		if c.RedisURL == "" {
			return &Error{Field: "REDIS_URL", Message: "RedisのURLは必須です"}
		}
	case DismissalBackendGCS:
		if c.GCSBucket == "" {
			return &Error{Field: "GCS_BUCKET", Message: "バケット名は必須です"}
		}
	case DismissalBackendMemory:
	default:
		return &Error{Field: "DISMISSAL_BACKEND", Message: fmt.Sprintf("未対応の永続化先です: %q", c.DismissalBackend)}
	}

	if c.AuthoringEnabled && c.SourceDriver == SourceDriverREST {
		return &Error{Field: "AUTHORING_ENABLED", Message: "作成APIはSQLソースでのみ利用できます"}
	}
	if c.DismissalKey == "" {
		return &Error{Field: "DISMISSAL_KEY", Message: "キーは必須です"}
	}
	if c.RefreshInterval < time.Second {
		return &Error{Field: "REFRESH_INTERVAL", Message: "再取得間隔は1秒以上にしてください"}
	}
	if _, err := c.SlogLevel(); err != nil {
		return &Error{Field: "LOG_LEVEL", Message: err.Error()}
	}
	return nil
}

// SlogLevel はLogLevelをslogのレベルに変換する。
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("不正なログレベルです: %q", c.LogLevel)
	}
	return level, nil
}
