package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"spend-dashboard/internal/models"
	"spend-dashboard/internal/pipeline"
)

const dateLayout = "2006-01-02"

type Config struct {
	Server   ServerConfig
	Source   SourceConfig
	Cache    CacheConfig
	Pipeline PipelineConfig
	Logger   LoggerConfig
	Security SecurityConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// SourceConfig selects and configures the upstream transaction store.
type SourceConfig struct {
	Driver   string
	DSN      string
	Table    string
	OrderBy  string
	PageSize int
	MaxPages int
	Timeout  time.Duration

	CSVFile string

	BigQueryProject string
	BigQueryDataset string

	ClickHouseAddr     []string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string
}

type CacheConfig struct {
	TTL time.Duration
	// Dir holds the normalized snapshot written after each successful fetch.
	// Empty disables the snapshot.
	Dir string
}

type PipelineConfig struct {
	EntityKey           string
	StatusOrder         []string
	CancelRateThreshold float64
	FailRateThreshold   float64
	RepeatThreshold     int
	LateNightStartHour  int
	LateNightEndHour    int
	RetentionFloor      time.Time
	RecurringMinTx      int
	ConcentrationTopN   int
}

type LoggerConfig struct {
	Level  string
	Format string
}

type SecurityConfig struct {
	EnableRateLimit bool
	RateLimitRPS    int
	RateLimitBurst  int
	AllowedOrigins  []string
	TrustedProxies  []string
}

const (
	DriverPostgres   = "postgres"
	DriverBigQuery   = "bigquery"
	DriverClickHouse = "clickhouse"
	DriverCSV        = "csv"
)

var drivers = []string{DriverPostgres, DriverBigQuery, DriverClickHouse, DriverCSV}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            env("SERVER_HOST", "localhost", asString),
			Port:            env("SERVER_PORT", 8084, strconv.Atoi),
			ReadTimeout:     env("SERVER_READ_TIMEOUT", 10*time.Second, time.ParseDuration),
			WriteTimeout:    env("SERVER_WRITE_TIMEOUT", 30*time.Second, time.ParseDuration),
			IdleTimeout:     env("SERVER_IDLE_TIMEOUT", 60*time.Second, time.ParseDuration),
			ShutdownTimeout: env("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second, time.ParseDuration),
		},
		Source: SourceConfig{
			Driver:             env("SOURCE_DRIVER", DriverCSV, asString),
			DSN:                env("SOURCE_DSN", "", asString),
			Table:              env("SOURCE_TABLE", "spend_transactions", asString),
			OrderBy:            env("SOURCE_ORDER_BY", "spend.authorizedAt", asString),
			PageSize:           env("SOURCE_PAGE_SIZE", 5000, strconv.Atoi),
			MaxPages:           env("SOURCE_MAX_PAGES", 50, strconv.Atoi),
			Timeout:            env("SOURCE_TIMEOUT", 2*time.Minute, time.ParseDuration),
			CSVFile:            env("CSV_FILE", "data.csv", asString),
			BigQueryProject:    env("BIGQUERY_PROJECT", "", asString),
			BigQueryDataset:    env("BIGQUERY_DATASET", "", asString),
			ClickHouseAddr:     env("CLICKHOUSE_ADDR", []string{"localhost:9000"}, asList),
			ClickHouseDatabase: env("CLICKHOUSE_DATABASE", "default", asString),
			ClickHouseUsername: env("CLICKHOUSE_USERNAME", "default", asString),
			ClickHousePassword: env("CLICKHOUSE_PASSWORD", "", asString),
		},
		Cache: CacheConfig{
			TTL: env("CACHE_TTL", 5*time.Minute, time.ParseDuration),
			Dir: env("CACHE_DIR", ".cache", asString),
		},
		Pipeline: PipelineConfig{
			EntityKey:           env("PIPELINE_ENTITY_KEY", string(pipeline.EntityUser), asString),
			StatusOrder:         env("PIPELINE_STATUS_ORDER", pipeline.StatusColumns(models.Statuses), asList),
			CancelRateThreshold: env("PIPELINE_CANCEL_RATE_THRESHOLD", pipeline.DefaultCancelRateThreshold, asFloat),
			FailRateThreshold:   env("PIPELINE_FAIL_RATE_THRESHOLD", pipeline.DefaultFailRateThreshold, asFloat),
			RepeatThreshold:     env("PIPELINE_REPEAT_THRESHOLD", pipeline.DefaultRepeatThreshold, strconv.Atoi),
			LateNightStartHour:  env("PIPELINE_LATE_NIGHT_START", pipeline.DefaultLateNightStartHour, strconv.Atoi),
			LateNightEndHour:    env("PIPELINE_LATE_NIGHT_END", pipeline.DefaultLateNightEndHour, strconv.Atoi),
			RetentionFloor:      env("PIPELINE_RETENTION_FLOOR", pipeline.DefaultRetentionFloor, asDate),
			RecurringMinTx:      env("PIPELINE_RECURRING_MIN_TX", pipeline.DefaultRecurringMinTx, strconv.Atoi),
			ConcentrationTopN:   env("PIPELINE_CONCENTRATION_TOP_N", pipeline.DefaultConcentrationTopN, strconv.Atoi),
		},
		Logger: LoggerConfig{
			Level:  env("LOG_LEVEL", "info", asString),
			Format: env("LOG_FORMAT", "json", asString),
		},
		Security: SecurityConfig{
			EnableRateLimit: env("SECURITY_RATE_LIMIT_ENABLED", true, strconv.ParseBool),
			RateLimitRPS:    env("SECURITY_RATE_LIMIT_RPS", 100, strconv.Atoi),
			RateLimitBurst:  env("SECURITY_RATE_LIMIT_BURST", 10, strconv.Atoi),
			AllowedOrigins:  env("SECURITY_ALLOWED_ORIGINS", []string{"http://localhost:8084"}, asList),
			TrustedProxies:  env("SECURITY_TRUSTED_PROXIES", []string{"127.0.0.1"}, asList),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port >= 1 && c.Server.Port <= 65535, "server port must be between 1 and 65535, got %d", c.Server.Port)
	check(c.Server.ReadTimeout > 0, "server read timeout must be positive")
	check(c.Server.WriteTimeout > 0, "server write timeout must be positive")
	check(c.Cache.TTL > 0, "cache TTL must be positive")

	logLevels := []string{"debug", "info", "warn", "error"}
	check(slices.Contains(logLevels, c.Logger.Level), "invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(logLevels, ", "))
	logFormats := []string{"json", "text"}
	check(slices.Contains(logFormats, c.Logger.Format), "invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(logFormats, ", "))

	check(c.Security.RateLimitRPS > 0, "rate limit RPS must be positive")
	check(c.Security.RateLimitBurst > 0, "rate limit burst must be positive")

	return errors.Join(append(errs, c.Source.validate(), c.Pipeline.validate())...)
}

func (s SourceConfig) validate() error {
	if !slices.Contains(drivers, s.Driver) {
		return fmt.Errorf("invalid source driver %q, must be one of: %s", s.Driver, strings.Join(drivers, ", "))
	}

	var errs []error
	if s.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("source page size must be positive"))
	}
	if s.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("source max pages must be positive"))
	}

	switch s.Driver {
	case DriverCSV:
		if s.CSVFile == "" {
			errs = append(errs, fmt.Errorf("CSV file path cannot be empty"))
		}
		return errors.Join(errs...)
	case DriverPostgres:
		if s.DSN == "" {
			errs = append(errs, fmt.Errorf("SOURCE_DSN is required for the postgres driver"))
		}
	case DriverBigQuery:
		if s.BigQueryProject == "" || s.BigQueryDataset == "" {
			errs = append(errs, fmt.Errorf("BIGQUERY_PROJECT and BIGQUERY_DATASET are required for the bigquery driver"))
		}
	case DriverClickHouse:
		if len(s.ClickHouseAddr) == 0 {
			errs = append(errs, fmt.Errorf("CLICKHOUSE_ADDR is required for the clickhouse driver"))
		}
	}
	if s.Table == "" {
		errs = append(errs, fmt.Errorf("source table cannot be empty"))
	}
	return errors.Join(errs...)
}

func (p PipelineConfig) validate() error {
	var errs []error

	if p.EntityKey != string(pipeline.EntityUser) && p.EntityKey != string(pipeline.EntityEmail) {
		errs = append(errs, fmt.Errorf("invalid entity key %q, must be one of: user, email", p.EntityKey))
	}

	// Pivots enumerate the whole vocabulary, so the order must name every
	// status exactly once.
	known := pipeline.StatusColumns(models.Statuses)
	seen := make(map[string]bool, len(p.StatusOrder))
	for _, s := range p.StatusOrder {
		switch {
		case !slices.Contains(known, s):
			errs = append(errs, fmt.Errorf("unknown status %q in status order, must be one of: %s", s, strings.Join(known, ", ")))
		case seen[s]:
			errs = append(errs, fmt.Errorf("duplicate status %q in status order", s))
		}
		seen[s] = true
	}
	for _, s := range known {
		if !seen[s] {
			errs = append(errs, fmt.Errorf("status order is missing %q, must list each of: %s", s, strings.Join(known, ", ")))
		}
	}

	if p.CancelRateThreshold < 0 || p.CancelRateThreshold > 1 {
		errs = append(errs, fmt.Errorf("cancel rate threshold must be between 0 and 1, got %v", p.CancelRateThreshold))
	}
	if p.FailRateThreshold < 0 || p.FailRateThreshold > 1 {
		errs = append(errs, fmt.Errorf("fail rate threshold must be between 0 and 1, got %v", p.FailRateThreshold))
	}
	if p.RepeatThreshold < 1 {
		errs = append(errs, fmt.Errorf("repeat threshold must be at least 1"))
	}
	if p.LateNightStartHour < 0 || p.LateNightEndHour > 23 || p.LateNightStartHour > p.LateNightEndHour {
		errs = append(errs, fmt.Errorf("late night window %d-%d is not a valid hour range", p.LateNightStartHour, p.LateNightEndHour))
	}
	if p.RecurringMinTx < 1 || p.ConcentrationTopN < 1 {
		errs = append(errs, fmt.Errorf("recurring minimum and concentration top-N must be at least 1"))
	}
	return errors.Join(errs...)
}

// Params converts the pipeline settings into pipeline parameters.
func (p PipelineConfig) Params() pipeline.Params {
	params := pipeline.DefaultParams()
	params.Entity = pipeline.EntityField(p.EntityKey)
	params.StatusOrder = make([]models.Status, len(p.StatusOrder))
	for i, s := range p.StatusOrder {
		params.StatusOrder[i] = models.Status(s)
	}
	params.CancelRateThreshold = p.CancelRateThreshold
	params.FailRateThreshold = p.FailRateThreshold
	params.RepeatThreshold = p.RepeatThreshold
	params.LateNightStartHour = p.LateNightStartHour
	params.LateNightEndHour = p.LateNightEndHour
	params.RetentionFloor = p.RetentionFloor
	params.RecurringMinTx = p.RecurringMinTx
	params.ConcentrationTopN = p.ConcentrationTopN
	return params
}

// env returns the parsed value of key, or def when the variable is unset or
// does not parse.
func env[T any](key string, def T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := parse(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return v
}

func asString(s string) (string, error) { return s, nil }

func asFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func asList(s string) ([]string, error) {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return slices.DeleteFunc(parts, func(p string) bool { return p == "" }), nil
}

// asDate parses YYYY-MM-DD; "none" yields the zero time.
func asDate(s string) (time.Time, error) {
	if s == "none" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
