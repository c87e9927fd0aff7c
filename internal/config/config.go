// Package config assembles service configuration: built-in defaults, then an
// optional YAML file, then environment variables (a local .env file is read
// first if present).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"routetrace/internal/opt"
)

type Config struct {
	Port         string `yaml:"port"`
	MapPath      string `yaml:"mapPath"`
	MapCacheDir  string `yaml:"mapCacheDir"`
	HighwaysOnly bool   `yaml:"highwaysOnly"`

	DatabaseURL string `yaml:"databaseUrl"`
	DBMigrate   bool   `yaml:"dbMigrate"`
	RedisURL    string `yaml:"redisUrl"`

	RateRPS   float64 `yaml:"rateRps"`
	RateBurst int     `yaml:"rateBurst"`

	AuthMode       string `yaml:"authMode"`
	AuthHMACSecret string `yaml:"authHmacSecret"`

	Jobs      Jobs       `yaml:"jobs"`
	Optimizer opt.Config `yaml:"optimizer"`
}

// Jobs tunes the background trace worker.
type Jobs struct {
	PollInterval        time.Duration `yaml:"pollInterval"`
	BatchSize           int           `yaml:"batchSize"`
	RunTimeout          time.Duration `yaml:"runTimeout"`
	CallbackMaxAttempts int           `yaml:"callbackMaxAttempts"`
	CallbackTimeout     time.Duration `yaml:"callbackTimeout"`
}

func Default() Config {
	return Config{
		Port:      "8080",
		DBMigrate: true,
		RateRPS:   5,
		RateBurst: 10,
		AuthMode:  "none",
		Jobs: Jobs{
			PollInterval:        time.Second,
			BatchSize:           2,
			RunTimeout:          5 * time.Minute,
			CallbackMaxAttempts: 10,
			CallbackTimeout:     5 * time.Second,
		},
		Optimizer: opt.DefaultConfig(),
	}
}

// Load reads .env (if any), then path (if non-empty), then the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.Optimizer = cfg.Optimizer.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port must be set")
	}
	if c.RateRPS < 0 || c.RateBurst < 0 {
		return errors.New("rate limits must be >= 0")
	}
	switch c.AuthMode {
	case "none", "dev":
	case "hmac":
		if c.AuthHMACSecret == "" {
			return errors.New("authMode hmac needs authHmacSecret")
		}
	default:
		return fmt.Errorf("unknown authMode %q", c.AuthMode)
	}
	if c.Jobs.PollInterval <= 0 || c.Jobs.BatchSize < 1 || c.Jobs.CallbackMaxAttempts < 1 {
		return errors.New("jobs: pollInterval, batchSize and callbackMaxAttempts must be positive")
	}
	if err := c.Optimizer.Validate(); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(c *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}
	e.str("PORT", &c.Port)
	e.str("MAP_PATH", &c.MapPath)
	e.str("MAP_CACHE_DIR", &c.MapCacheDir)
	e.boolean("HIGHWAYS_ONLY", &c.HighwaysOnly)
	e.str("DATABASE_URL", &c.DatabaseURL)
	e.boolean("DB_MIGRATE", &c.DBMigrate)
	e.str("REDIS_URL", &c.RedisURL)
	e.float("RATE_RPS", &c.RateRPS)
	e.integer("RATE_BURST", &c.RateBurst)
	e.str("AUTH_MODE", &c.AuthMode)
	e.str("AUTH_HMAC_SECRET", &c.AuthHMACSecret)

	e.duration("JOB_POLL_INTERVAL", &c.Jobs.PollInterval)
	e.integer("JOB_BATCH_SIZE", &c.Jobs.BatchSize)
	e.duration("JOB_RUN_TIMEOUT", &c.Jobs.RunTimeout)
	e.integer("CALLBACK_MAX_ATTEMPTS", &c.Jobs.CallbackMaxAttempts)
	e.duration("CALLBACK_TIMEOUT", &c.Jobs.CallbackTimeout)

	o := &c.Optimizer
	e.integer("TRACE_POPULATION", &o.PopulationSize)
	e.integer("TRACE_SURVIVORS", &o.Survivors)
	e.integer("TRACE_FAN_OUT", &o.FanOut)
	e.integer("TRACE_FRESH_PER_SURVIVOR", &o.FreshPerSurvivor)
	e.integer("TRACE_MAX_GENERATIONS", &o.MaxGenerations)
	e.integer("TRACE_PATIENCE", &o.Patience)
	e.integer("TRACE_WORKERS", &o.Workers)
	e.duration("TRACE_TIME_BUDGET", &o.TimeBudget)
	e.int64("TRACE_SEED", &o.Seed)
	e.float("TRACE_SEARCH_RADIUS_M", &o.SearchRadiusMeters)
	e.float("TRACE_SNAP_RADIUS_M", &o.SnapRadiusMeters)
	return e.err
}

// envReader applies overrides and keeps the first parse error.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.err = fmt.Errorf("env %s=%q: %w", key, v, err)
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}
