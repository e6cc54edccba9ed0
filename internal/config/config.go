package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	ierr "github.com/angelcm/admira-attribution/internal/errors"
	"github.com/angelcm/admira-attribution/internal/models"
)

// Source kinds.
const (
	SourcesLive = "live"
	SourcesCSV  = "csv"
)

type Config struct {
	Port        string           `mapstructure:"port" validate:"required"`
	HTTPTimeout time.Duration    `mapstructure:"http_timeout" validate:"gt=0"`
	Log         LogConfig        `mapstructure:"log"`
	Postgres    PostgresConfig   `mapstructure:"postgres"`
	ClickHouse  ClickHouseConfig `mapstructure:"clickhouse"`
	Sources     SourcesConfig    `mapstructure:"sources"`
	Pipeline    PipelineConfig   `mapstructure:"pipeline"`
	Retry       RetryConfig      `mapstructure:"retry"`
	RatesFile   string           `mapstructure:"rates_file"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Mode  string `mapstructure:"mode" validate:"oneof=dev prod"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ClickHouseConfig struct {
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SourcesConfig struct {
	Kind   string `mapstructure:"kind" validate:"oneof=live csv"`
	CSVDir string `mapstructure:"csv_dir" validate:"required_if=Kind csv"`
}

type PipelineConfig struct {
	PartitionDays int      `mapstructure:"partition_days" validate:"gte=1"`
	Workers       int      `mapstructure:"workers" validate:"gte=1"`
	Breakdowns    []string `mapstructure:"breakdowns" validate:"dive,oneof=country device store platform"`
}

type RetryConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
}

var validate = validator.New()

// Load reads an optional YAML file and then environment variables prefixed ADMIRA_, with
// nested keys joined by underscores (ADMIRA_POSTGRES_DSN).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ADMIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, ierr.WithError(err).
				WithHintf("config file %s", path).
				Mark(ierr.ErrValidation)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, ierr.WithError(err).WithHint("config could not be decoded").Mark(ierr.ErrValidation)
	}
	for i, b := range cfg.Pipeline.Breakdowns {
		cfg.Pipeline.Breakdowns[i] = strings.ToLower(strings.TrimSpace(b))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("http_timeout", 15*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.mode", "prod")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("clickhouse.addr", "")
	v.SetDefault("clickhouse.database", "default")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")
	v.SetDefault("sources.kind", SourcesLive)
	v.SetDefault("sources.csv_dir", "")
	v.SetDefault("pipeline.partition_days", 7)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.breakdowns", []string{
		models.BreakdownCountry, models.BreakdownDevice, models.BreakdownStore, models.BreakdownPlatform,
	})
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_interval", 200*time.Millisecond)
	v.SetDefault("rates_file", "")
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return ierr.WithError(err).WithHint("invalid configuration").Mark(ierr.ErrValidation)
	}
	if c.Sources.Kind == SourcesLive && (c.Postgres.DSN == "" || c.ClickHouse.Addr == "") {
		return ierr.NewError("live sources need postgres.dsn and clickhouse.addr").
			WithHint("set ADMIRA_POSTGRES_DSN and ADMIRA_CLICKHOUSE_ADDR or use sources.kind=csv").
			Mark(ierr.ErrValidation)
	}
	return nil
}
