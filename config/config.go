package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/johnewart/go-orleans-sql/relational/dialect"
	"github.com/johnewart/go-orleans-sql/relational/queries"
	"gopkg.in/yaml.v3"
	"zombiezen.com/go/log"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Reminders RemindersConfig `yaml:"reminders"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type DatabaseConfig struct {
	Dialect string `yaml:"dialect"`
	DSN     string `yaml:"dsn"`
	Schema  string `yaml:"schema"`
	// Queries overrides the procedure used for a query key, e.g.
	// GatewaysQueryKey: custom.Gateways
	Queries map[string]string `yaml:"queries"`
}

type ClusterConfig struct {
	ClusterID         string        `yaml:"cluster_id"`
	ServiceID         string        `yaml:"service_id"`
	SiloName          string        `yaml:"silo_name"`
	Port              int           `yaml:"port"`
	ProxyPort         int           `yaml:"proxy_port"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RefreshPeriod     time.Duration `yaml:"refresh_period"`
	DefunctExpiration time.Duration `yaml:"defunct_expiration"`
	SuspicionWindow   time.Duration `yaml:"suspicion_window"`
	SuspicionQuorum   int           `yaml:"suspicion_quorum"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

type RemindersConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TickInterval time.Duration `yaml:"tick_interval"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Prefix  string `yaml:"prefix"`
}

func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect: "postgres",
			Schema:  queries.DefaultSchema,
		},
		Cluster: ClusterConfig{
			Port:              11111,
			ProxyPort:         30000,
			HeartbeatInterval: 5 * time.Second,
			RefreshPeriod:     time.Minute,
			DefunctExpiration: 7 * 24 * time.Hour,
			SuspicionWindow:   3 * time.Minute,
			SuspicionQuorum:   2,
			MaxAttempts:       5,
		},
		Reminders: RemindersConfig{
			Enabled:      true,
			TickInterval: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Prefix:  "silod",
		},
	}
}

// Load layers defaults, the optional YAML file at path, a .env file in the
// working directory and finally the process environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Warnf(context.Background(), "unable to read config file %s, using defaults and environment: %v", path, err)
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("unable to load .env: %w", err)
	}

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvironmentOverrides(cfg *Config) error {
	var result *multierror.Error

	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s: %q is not a number", name, v))
			} else {
				*dst = n
			}
		}
	}

	setString("DATABASE_URL", &cfg.Database.DSN)
	setString("DB_DIALECT", &cfg.Database.Dialect)
	setString("DB_SCHEMA", &cfg.Database.Schema)
	setString("CLUSTER_ID", &cfg.Cluster.ClusterID)
	setString("SERVICE_ID", &cfg.Cluster.ServiceID)
	setString("SILO_NAME", &cfg.Cluster.SiloName)
	setInt("PORT", &cfg.Cluster.Port)
	setInt("PROXY_PORT", &cfg.Cluster.ProxyPort)
	setInt("METRICS_PORT", &cfg.Metrics.Port)

	return result.ErrorOrNil()
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if _, err := c.Dialect(); err != nil {
		result = multierror.Append(result, err)
	}
	if c.Database.DSN == "" {
		result = multierror.Append(result, errors.New("database.dsn is required"))
	}
	if c.Cluster.ClusterID == "" {
		result = multierror.Append(result, errors.New("cluster.cluster_id is required"))
	}
	if c.Cluster.ServiceID == "" {
		result = multierror.Append(result, errors.New("cluster.service_id is required"))
	}
	ports := []struct {
		name string
		port int
	}{
		{"cluster.port", c.Cluster.Port},
		{"cluster.proxy_port", c.Cluster.ProxyPort},
		{"metrics.port", c.Metrics.Port},
	}
	for _, p := range ports {
		if p.port <= 0 || p.port > 65535 {
			result = multierror.Append(result, fmt.Errorf("%s must be between 1 and 65535", p.name))
		}
	}
	if c.Cluster.HeartbeatInterval <= 0 {
		result = multierror.Append(result, errors.New("cluster.heartbeat_interval must be positive"))
	}
	if c.Cluster.RefreshPeriod <= 0 {
		result = multierror.Append(result, errors.New("cluster.refresh_period must be positive"))
	}
	if c.Cluster.SuspicionQuorum < 1 {
		result = multierror.Append(result, errors.New("cluster.suspicion_quorum must be at least 1"))
	}
	if c.Cluster.MaxAttempts < 1 {
		result = multierror.Append(result, errors.New("cluster.max_attempts must be at least 1"))
	}
	if c.Reminders.Enabled && c.Reminders.TickInterval <= 0 {
		result = multierror.Append(result, errors.New("reminders.tick_interval must be positive"))
	}
	for _, name := range sortedKeys(c.Database.Queries) {
		if !knownQueryKey(queries.Key(name)) {
			result = multierror.Append(result, fmt.Errorf("database.queries: unknown query key %q", name))
		}
	}
	if _, err := queries.NewRegistry(queries.ClusteringKeys, c.ClusteringQueries()); err != nil {
		result = multierror.Append(result, err)
	}
	if _, err := queries.NewRegistry(queries.ReminderKeys, c.ReminderQueries()); err != nil {
		result = multierror.Append(result, err)
	}

	return result.ErrorOrNil()
}

func (c *Config) Dialect() (dialect.Dialect, error) {
	return dialect.Lookup(c.Database.Dialect)
}

func (c *Config) ClusteringQueries() map[queries.Key]string {
	return queries.Merge(queries.DefaultClusteringQueries(c.Database.Schema), c.Database.Queries)
}

func (c *Config) ReminderQueries() map[queries.Key]string {
	return queries.Merge(queries.DefaultReminderQueries(c.Database.Schema), c.Database.Queries)
}

func knownQueryKey(k queries.Key) bool {
	for _, keys := range [][]queries.Key{queries.ClusteringKeys, queries.ReminderKeys} {
		for _, known := range keys {
			if k == known {
				return true
			}
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
