package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Serve    ServeConfig    `mapstructure:"serve"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	// DataDir holds one SQLite file per repository.
	DataDir   string `mapstructure:"data_dir"`
	DSNParams string `mapstructure:"dsn_params"`
}

type GitHubConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Token             string        `mapstructure:"token"`
	AppID             int64         `mapstructure:"app_id"`
	InstallationID    int64         `mapstructure:"installation_id"`
	PrivateKeyPath    string        `mapstructure:"private_key_path"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	PerPage           int           `mapstructure:"per_page"`
	UserAgent         string        `mapstructure:"user_agent"`
}

type IngestConfig struct {
	MaxPages     int    `mapstructure:"max_pages"`
	Checkpoints  bool   `mapstructure:"checkpoints"`
	ArtifactsDir string `mapstructure:"artifacts_dir"`
	QADir        string `mapstructure:"qa_dir"`
	Concurrency  int    `mapstructure:"concurrency"`
}

type ServeConfig struct {
	Addr          string `mapstructure:"addr"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// UsesApp reports whether GitHub App installation credentials are configured.
func (c GitHubConfig) UsesApp() bool {
	return c.AppID > 0 && c.InstallationID > 0 && strings.TrimSpace(c.PrivateKeyPath) != ""
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GHC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env", slog.String("config_file", configFile))
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if strings.TrimSpace(cfg.GitHub.Token) == "" {
		cfg.GitHub.Token = firstEnv("GITHUB_TOKEN", "GH_TOKEN")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("data_dir", cfg.Database.DataDir),
		slog.String("github_base_url", cfg.GitHub.BaseURL),
		slog.Bool("github_app_auth", cfg.GitHub.UsesApp()),
	)

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.DataDir) == "" {
		return errs.Configf("database.data_dir is required")
	}
	if strings.TrimSpace(c.GitHub.BaseURL) == "" {
		return errs.Configf("github.base_url is required")
	}
	if c.GitHub.RequestsPerSecond <= 0 {
		return errs.Configf("github.requests_per_second must be positive")
	}
	if c.GitHub.MaxAttempts <= 0 {
		return errs.Configf("github.max_attempts must be positive")
	}
	return nil
}

// RequireAuth reports a configuration error when no GitHub credential can be resolved.
func (c GitHubConfig) RequireAuth() error {
	if c.UsesApp() || strings.TrimSpace(c.Token) != "" {
		return nil
	}
	return errs.Configf("no github auth: set github.token, GITHUB_TOKEN/GH_TOKEN, or github app credentials")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ghchrono")
	v.SetDefault("app.env", "local")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.data_dir", ".ghchrono/db")
	v.SetDefault("database.dsn_params", "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.requests_per_second", 5.0)
	v.SetDefault("github.burst", 5)
	v.SetDefault("github.max_attempts", 5)
	v.SetDefault("github.initial_backoff", "1s")
	v.SetDefault("github.max_backoff", "60s")
	v.SetDefault("github.request_timeout", "5m")
	v.SetDefault("github.per_page", 100)
	v.SetDefault("github.user_agent", "ghchrono")
	v.SetDefault("ingest.max_pages", 0)
	v.SetDefault("ingest.checkpoints", true)
	v.SetDefault("ingest.artifacts_dir", ".ghchrono")
	v.SetDefault("ingest.qa_dir", ".ghchrono/qa")
	v.SetDefault("ingest.concurrency", 2)
	v.SetDefault("serve.addr", ":8088")
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}
