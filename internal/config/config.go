package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Proxy   ProxyConfig   `mapstructure:"proxy" validate:"required"`
	Session SessionConfig `mapstructure:"session" validate:"required"`
	Retry   RetryConfig   `mapstructure:"retry" validate:"required"`
	Scraper ScraperConfig `mapstructure:"scraper" validate:"required"`
	Batch   BatchConfig   `mapstructure:"batch" validate:"required"`
	Source  SourceConfig  `mapstructure:"source" validate:"required"`
	Sink    SinkConfig    `mapstructure:"sink" validate:"required"`
	Ingest  IngestConfig  `mapstructure:"ingest" validate:"required"`
	Log     LogConfig     `mapstructure:"log" validate:"required"`
	Status  StatusConfig  `mapstructure:"status"`
}

type ProxyConfig struct {
	ListURL            string        `mapstructure:"list_url" validate:"omitempty,url"`
	ExtraSources       []string      `mapstructure:"extra_sources" validate:"dive,url"`
	GeonodeURL         string        `mapstructure:"geonode_url" validate:"omitempty,url"`
	UseProxy           bool          `mapstructure:"use_proxy"`
	ValidateURL        string        `mapstructure:"validate_url" validate:"required,url"`
	ValidateTimeout    time.Duration `mapstructure:"validate_timeout" validate:"required,min=100ms,max=5s"`
	Prevalidate        bool          `mapstructure:"prevalidate"`
	PrevalidateWorkers int           `mapstructure:"prevalidate_workers" validate:"required,min=1,max=200"`
	GeoIPDB            string        `mapstructure:"geoip_db"`
}

type SessionConfig struct {
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" validate:"required,min=1,max=600"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" validate:"required,min=1s,max=2m"`
	UserAgent          string        `mapstructure:"user_agent" validate:"required,min=10"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"required,min=1,max=20"`
	BackoffUnit time.Duration `mapstructure:"backoff_unit" validate:"required,min=1ms,max=1m"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" validate:"min=0"`
}

type ScraperConfig struct {
	MaxWorkers   int               `mapstructure:"max_workers" validate:"required,min=1,max=64"`
	FetchDelay   time.Duration     `mapstructure:"fetch_delay" validate:"min=0,max=1m"`
	BaseURL      string            `mapstructure:"base_url" validate:"required,url"`
	SellerParams map[string]string `mapstructure:"seller_params"`
}

type BatchConfig struct {
	Size int `mapstructure:"size" validate:"required,min=1,max=10000"`
}

type SourceConfig struct {
	Kind      string `mapstructure:"kind" validate:"required,oneof=args file postgres"`
	File      string `mapstructure:"file" validate:"required_if=Kind file"`
	QueryFile string `mapstructure:"query_file" validate:"required_if=Kind postgres"`
}

type SinkConfig struct {
	Kind             string `mapstructure:"kind" validate:"required,oneof=sqlite postgres postgres_normalized redis"`
	Table            string `mapstructure:"table" validate:"required,min=1"`
	SQLitePath       string `mapstructure:"sqlite_path"`
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	PostgresMaxConns int32  `mapstructure:"postgres_max_conns" validate:"required,min=1,max=64"`
	RedisAddr        string `mapstructure:"redis_addr" validate:"omitempty,hostname_port"`
	RedisPassword    string `mapstructure:"redis_password"`
	RedisDB          int    `mapstructure:"redis_db" validate:"min=0"`
	RedisKeyPrefix   string `mapstructure:"redis_key_prefix"`
}

type IngestConfig struct {
	DumpURL   string `mapstructure:"dump_url" validate:"omitempty,url"`
	DestDir   string `mapstructure:"dest_dir" validate:"required"`
	BatchSize int    `mapstructure:"batch_size" validate:"required,min=1,max=100000"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=console json"`
}

type StatusConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" validate:"required_if=Enabled true,omitempty,hostname_port"`
}

// legacyEnv maps config keys to the bare variable names older deployments
// exported. They are consulted after the HARVESTER_ prefixed form.
var legacyEnv = map[string]string{
	"proxy.list_url":      "PROXIES_URL",
	"scraper.max_workers": "MAX_WORKERS",
	"retry.max_attempts":  "MAX_RETRIES",
	"sink.postgres_dsn":   "DATABASE_URL",
	"sink.table":          "TABLE_NAME",
	"batch.size":          "BATCH_SIZE",
	"sink.redis_password": "REDIS_PASSWORD",
	"ingest.batch_size":   "XML_BATCH_SIZE",
}

// flagKeys binds command-line flags onto config keys
var flagKeys = map[string]string{
	"workers":   "scraper.max_workers",
	"retries":   "retry.max_attempts",
	"batch":     "batch.size",
	"sink":      "sink.kind",
	"ids-file":  "source.file",
	"log-level": "log.level",
}

// setDefaults configures default values for viper
func setDefaults(v *viper.Viper) {
	// Proxy defaults
	v.SetDefault("proxy.list_url", "")
	v.SetDefault("proxy.extra_sources", []string{})
	v.SetDefault("proxy.geonode_url", "")
	v.SetDefault("proxy.use_proxy", true)
	v.SetDefault("proxy.validate_url", "https://httpbin.org/ip")
	v.SetDefault("proxy.validate_timeout", "5s")
	v.SetDefault("proxy.prevalidate", false)
	v.SetDefault("proxy.prevalidate_workers", 20)
	v.SetDefault("proxy.geoip_db", "")

	// Session defaults
	v.SetDefault("session.rate_limit_per_minute", 30)
	v.SetDefault("session.request_timeout", "30s")
	v.SetDefault("session.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")

	// Retry defaults
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.backoff_unit", "1s")
	v.SetDefault("retry.max_backoff", "0s")

	// Scraper defaults
	v.SetDefault("scraper.max_workers", 3)
	v.SetDefault("scraper.fetch_delay", "500ms")
	v.SetDefault("scraper.base_url", "https://www.discogs.com")
	v.SetDefault("scraper.seller_params", map[string]string{
		"sort":   "listed,desc",
		"limit":  "250",
		"genre":  "Electronic",
		"format": "Vinyl",
	})

	v.SetDefault("batch.size", 100)

	v.SetDefault("source.kind", "args")
	v.SetDefault("source.file", "")
	v.SetDefault("source.query_file", "")

	// Sink defaults
	v.SetDefault("sink.kind", "sqlite")
	v.SetDefault("sink.table", "releases")
	v.SetDefault("sink.sqlite_path", "./data/harvester.db")
	v.SetDefault("sink.postgres_dsn", "")
	v.SetDefault("sink.postgres_max_conns", 4)
	v.SetDefault("sink.redis_addr", "localhost:6379")
	v.SetDefault("sink.redis_password", "")
	v.SetDefault("sink.redis_db", 0)
	v.SetDefault("sink.redis_key_prefix", "release:")

	v.SetDefault("ingest.dump_url", "")
	v.SetDefault("ingest.dest_dir", "./data/dumps")
	v.SetDefault("ingest.batch_size", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("status.enabled", false)
	v.SetDefault("status.listen_addr", ":8090")
}

// LoadConfig loads configuration from defaults, an optional config file, .env,
// the environment and command-line flags, then validates the result.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/harvester")

	// .env values never override variables already present in the environment
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "HARVESTER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", legacy, err)
		}
	}

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// REDIS_HOST/REDIS_PORT are split in older deployments
	if host := os.Getenv("REDIS_HOST"); host != "" && os.Getenv("HARVESTER_SINK_REDIS_ADDR") == "" {
		port := os.Getenv("REDIS_PORT")
		if port == "" {
			port = "6379"
		}
		config.Sink.RedisAddr = net.JoinHostPort(host, port)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate runs struct validation plus the cross-field sink rules
func Validate(config *Config) error {
	validate := validator.New()

	if err := registerCustomValidators(validate); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// registerCustomValidators adds custom validation rules
func registerCustomValidators(validate *validator.Validate) error {
	err := validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		if addr == "" {
			return false
		}
		_, port, err := net.SplitHostPort(addr)
		return err == nil && port != ""
	})
	if err != nil {
		return err
	}

	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		sink := sl.Current().Interface().(SinkConfig)
		switch sink.Kind {
		case "postgres", "postgres_normalized":
			if sink.PostgresDSN == "" {
				sl.ReportError(sink.PostgresDSN, "PostgresDSN", "postgres_dsn", "required_for_postgres", sink.Kind)
			}
		case "sqlite":
			if sink.SQLitePath == "" {
				sl.ReportError(sink.SQLitePath, "SQLitePath", "sqlite_path", "required_for_sqlite", sink.Kind)
			}
		case "redis":
			if sink.RedisAddr == "" {
				sl.ReportError(sink.RedisAddr, "RedisAddr", "redis_addr", "required_for_redis", sink.Kind)
			}
		}
	}, SinkConfig{})

	return nil
}

// SaveConfigTemplate generates a sample configuration file
func SaveConfigTemplate(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config template: %w", err)
	}

	return nil
}

// PrintConfig logs the effective configuration with secrets masked
func PrintConfig(log zerolog.Logger, config *Config) {
	proxySource := config.Proxy.ListURL
	if proxySource == "" {
		proxySource = "[NOT SET]"
	}
	log.Info().
		Str("proxy_list", proxySource).
		Bool("use_proxy", config.Proxy.UseProxy).
		Int("workers", config.Scraper.MaxWorkers).
		Int("max_attempts", config.Retry.MaxAttempts).
		Int("rate_limit_per_minute", config.Session.RateLimitPerMinute).
		Int("batch_size", config.Batch.Size).
		Msg("Configuration loaded")

	dsn := "[NOT SET]"
	if config.Sink.PostgresDSN != "" {
		dsn = fmt.Sprintf("[SET] (length: %d)", len(config.Sink.PostgresDSN))
	}
	log.Info().
		Str("sink", config.Sink.Kind).
		Str("table", config.Sink.Table).
		Str("postgres_dsn", dsn).
		Str("source", config.Source.Kind).
		Msg("Storage configured")
}
