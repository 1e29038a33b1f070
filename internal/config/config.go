package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Auth       AuthConfig       `mapstructure:"auth"`
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Features   FeatureFlags     `mapstructure:"features"`
	Packs      PacksConfig      `mapstructure:"packs"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Schema          string        `mapstructure:"schema"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.Schema,
	)
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TLS       bool   `mapstructure:"tls"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Neo4jConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	URI                string `mapstructure:"uri"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	Database           string `mapstructure:"database"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxLifetimeMinutes int    `mapstructure:"max_lifetime_minutes"`
}

type NATSConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	StreamName    string        `mapstructure:"stream_name"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	MaxAge        time.Duration `mapstructure:"max_age"`
}

type AuthConfig struct {
	APISecret   string `mapstructure:"api_secret"`
	AdminSecret string `mapstructure:"admin_secret"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// FeatureFlags are injected into the framework engine components at construction
type FeatureFlags struct {
	EnableFrameworkEngine bool `mapstructure:"enable_framework_engine"`
}

// PacksConfig controls which framework packs are installed into the catalog
type PacksConfig struct {
	Dir      string `mapstructure:"dir"`
	Embedded bool   `mapstructure:"embedded"`
}

// EvaluationConfig tunes the evaluation engine
type EvaluationConfig struct {
	SnapshotHistoryLimit int           `mapstructure:"snapshot_history_limit"`
	Serialize            bool          `mapstructure:"serialize"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	LockWait             time.Duration `mapstructure:"lock_wait"`
	SnapshotCacheTTL     time.Duration `mapstructure:"snapshot_cache_ttl"`
}

// SchedulerConfig controls the periodic recompute loop
type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	WorkerPoolSize int           `mapstructure:"worker_pool_size"`
}

// Defaults returns a configuration usable without a config file
func Defaults() Config {
	return Config{
		App: AppConfig{
			Name:        "formaos-compliance",
			Environment: "development",
			Version:     "0.1.0",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        8080,
			GRPCPort:        9090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "formaos",
			DBName:          "formaos",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			Schema:          "public",
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "formaos:",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			StreamName:    "FORMAOS_COMPLIANCE",
			SubjectPrefix: "compliance",
			MaxAge:        24 * time.Hour,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Admin-Token"},
			MaxAge:         300,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
		},
		Logger: LoggerConfig{
			Format:     "console",
			TimeFormat: time.RFC3339,
		},
		Features: FeatureFlags{
			EnableFrameworkEngine: true,
		},
		Packs: PacksConfig{
			Embedded: true,
		},
		Evaluation: EvaluationConfig{
			SnapshotHistoryLimit: 200,
			Serialize:            true,
			LockTTL:              30 * time.Second,
			LockWait:             10 * time.Second,
			SnapshotCacheTTL:     time.Minute,
		},
		Scheduler: SchedulerConfig{
			Interval:       6 * time.Hour,
			InitialDelay:   time.Minute,
			WorkerPoolSize: 4,
		},
	}
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/formaos-compliance")
	}

	// Environment variables
	v.SetEnvPrefix("FORMAOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file; only an explicit path is required to exist
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

// setDefaults registers every default with viper so that env overrides of
// nested keys resolve even when the key is absent from the file
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.environment", d.App.Environment)
	v.SetDefault("app.version", d.App.Version)
	v.SetDefault("app.debug", d.App.Debug)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.schema", d.Database.Schema)
	v.SetDefault("database.auto_migrate", d.Database.AutoMigrate)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.tls", d.Redis.TLS)

	v.SetDefault("neo4j.enabled", d.Neo4j.Enabled)
	v.SetDefault("neo4j.uri", d.Neo4j.URI)
	v.SetDefault("neo4j.username", d.Neo4j.Username)
	v.SetDefault("neo4j.password", d.Neo4j.Password)
	v.SetDefault("neo4j.database", d.Neo4j.Database)
	v.SetDefault("neo4j.max_connections", d.Neo4j.MaxConnections)
	v.SetDefault("neo4j.max_lifetime_minutes", d.Neo4j.MaxLifetimeMinutes)

	v.SetDefault("nats.enabled", d.NATS.Enabled)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.stream_name", d.NATS.StreamName)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)
	v.SetDefault("nats.max_age", d.NATS.MaxAge)

	v.SetDefault("auth.api_secret", d.Auth.APISecret)
	v.SetDefault("auth.admin_secret", d.Auth.AdminSecret)

	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
	v.SetDefault("cors.allowed_methods", d.CORS.AllowedMethods)
	v.SetDefault("cors.allowed_headers", d.CORS.AllowedHeaders)
	v.SetDefault("cors.allow_credentials", d.CORS.AllowCredentials)
	v.SetDefault("cors.max_age", d.CORS.MaxAge)

	v.SetDefault("ratelimit.enabled", d.RateLimit.Enabled)
	v.SetDefault("ratelimit.requests_per_minute", d.RateLimit.RequestsPerMinute)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.time_format", d.Logger.TimeFormat)

	v.SetDefault("features.enable_framework_engine", d.Features.EnableFrameworkEngine)

	v.SetDefault("packs.dir", d.Packs.Dir)
	v.SetDefault("packs.embedded", d.Packs.Embedded)

	v.SetDefault("evaluation.snapshot_history_limit", d.Evaluation.SnapshotHistoryLimit)
	v.SetDefault("evaluation.serialize", d.Evaluation.Serialize)
	v.SetDefault("evaluation.lock_ttl", d.Evaluation.LockTTL)
	v.SetDefault("evaluation.lock_wait", d.Evaluation.LockWait)
	v.SetDefault("evaluation.snapshot_cache_ttl", d.Evaluation.SnapshotCacheTTL)

	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.interval", d.Scheduler.Interval)
	v.SetDefault("scheduler.initial_delay", d.Scheduler.InitialDelay)
	v.SetDefault("scheduler.worker_pool_size", d.Scheduler.WorkerPoolSize)
}
