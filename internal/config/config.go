// Package config loads process configuration from file, environment, and
// built-in defaults, layered the way the rest of the pack does it with viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the worker and toolctl binaries.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	MCP       MCPConfig
}

// AppConfig carries process-wide settings.
type AppConfig struct {
	Name        string
	Environment string
	Debug       bool
}

// DatabaseConfig configures the Postgres connection used by internal/store.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the libpq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig configures the event bus and distributed cancellation channel.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr renders the host:port address go-redis expects.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SchedulerConfig configures the DAG executor's concurrency and timeouts (§4.4, §5).
type SchedulerConfig struct {
	MaxConcurrent  int
	NodeTimeout    time.Duration
	PollInterval   time.Duration
	WorkflowMaxAge time.Duration
}

// MCPConfig configures the tool-server connection manager (§4.5).
type MCPConfig struct {
	RequestTimeout time.Duration
	InitTimeout    time.Duration
}

// Load reads ./configs/config.yaml (or ./config.yaml), falling back to the
// defaults below, and lets environment variables override either.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.BindEnv("database.host", "DATABASE_HOST")
	_ = viper.BindEnv("database.port", "DATABASE_PORT")
	_ = viper.BindEnv("database.user", "DATABASE_USER")
	_ = viper.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = viper.BindEnv("database.name", "DATABASE_NAME")
	_ = viper.BindEnv("redis.host", "REDIS_HOST")
	_ = viper.BindEnv("redis.port", "REDIS_PORT")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	cfg.App.Name = viper.GetString("app.name")
	cfg.App.Environment = viper.GetString("app.environment")
	cfg.App.Debug = viper.GetBool("app.debug")

	cfg.Database.Host = viper.GetString("database.host")
	cfg.Database.Port = viper.GetInt("database.port")
	cfg.Database.User = viper.GetString("database.user")
	cfg.Database.Password = viper.GetString("database.password")
	cfg.Database.Name = viper.GetString("database.name")
	cfg.Database.SSLMode = viper.GetString("database.sslmode")
	cfg.Database.MaxOpenConns = viper.GetInt("database.max_open_conns")
	cfg.Database.MaxIdleConns = viper.GetInt("database.max_idle_conns")
	cfg.Database.ConnMaxLifetime = viper.GetDuration("database.conn_max_lifetime")

	cfg.Redis.Host = viper.GetString("redis.host")
	cfg.Redis.Port = viper.GetInt("redis.port")
	cfg.Redis.Password = viper.GetString("redis.password")
	cfg.Redis.DB = viper.GetInt("redis.db")

	cfg.Scheduler.MaxConcurrent = viper.GetInt("scheduler.max_concurrent")
	cfg.Scheduler.NodeTimeout = viper.GetDuration("scheduler.node_timeout")
	cfg.Scheduler.PollInterval = viper.GetDuration("scheduler.poll_interval")
	cfg.Scheduler.WorkflowMaxAge = viper.GetDuration("scheduler.workflow_max_age")

	cfg.MCP.RequestTimeout = viper.GetDuration("mcp.request_timeout")
	cfg.MCP.InitTimeout = viper.GetDuration("mcp.init_timeout")

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "loom")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", true)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.name", "loom")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("scheduler.max_concurrent", 5)
	viper.SetDefault("scheduler.node_timeout", "300s")
	viper.SetDefault("scheduler.poll_interval", "50ms")
	viper.SetDefault("scheduler.workflow_max_age", "30m")

	viper.SetDefault("mcp.request_timeout", "30s")
	viper.SetDefault("mcp.init_timeout", "30s")
}
