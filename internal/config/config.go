package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API       APIConfig      `yaml:"api"`
	Storage   StorageConfig  `yaml:"storage"`
	Database  DatabaseConfig `yaml:"database"`
	Minio     MinioConfig    `yaml:"minio"`
	RabbitMQ  RabbitMQConfig `yaml:"rabbitmq"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Sync      SyncConfig     `yaml:"sync"`
	HTTP      HTTPConfig     `yaml:"http"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

type APIConfig struct {
	BaseURL   string         `yaml:"base_url"`
	PageSizes PageSizes      `yaml:"page_sizes"`
	Timeout   time.Duration  `yaml:"timeout"`
	PageDelay *time.Duration `yaml:"page_delay"` // nil means default; 0s disables pacing
	Retry     RetryConfig    `yaml:"retry"`
}

// Delay returns the pause between page requests.
func (a APIConfig) Delay() time.Duration {
	if a.PageDelay == nil {
		return defaultPageDelay
	}
	return *a.PageDelay
}

const defaultPageDelay = 200 * time.Millisecond

type PageSizes struct {
	Stations int `yaml:"stations"`
	Readings int `yaml:"readings"`
	Floods   int `yaml:"floods"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Backend names accepted by StorageConfig.
const (
	BackendCSV      = "csv"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendDatabase = "database"
	BackendMinio    = "minio"
)

type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	Tables    string `yaml:"tables"`    // csv | postgres | sqlite
	Raw       string `yaml:"raw"`       // file | minio
	Watermark string `yaml:"watermark"` // file | database | minio
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"` // sqlite file
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RabbitMQConfig is optional; run notifications are off when URL is empty.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

// KafkaConfig is optional; feature export is off when Brokers is empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type SyncConfig struct {
	Schedule       string        `yaml:"schedule"` // cron spec, overrides Interval
	Interval       time.Duration `yaml:"interval"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	FullWindowDays int           `yaml:"full_window_days"`
	DedupeReadings bool          `yaml:"dedupe_readings"`
}

// CronSpec returns the schedule in robfig/cron syntax.
func (s SyncConfig) CronSpec() string {
	if s.Schedule != "" {
		return s.Schedule
	}
	return "@every " + s.Interval.String()
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://environment.data.gov.uk/flood-monitoring/id"
	}
	if c.API.PageSizes.Stations == 0 {
		c.API.PageSizes.Stations = 500
	}
	if c.API.PageSizes.Readings == 0 {
		c.API.PageSizes.Readings = 1000
	}
	if c.API.PageSizes.Floods == 0 {
		c.API.PageSizes.Floods = 500
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.API.Retry.MaxAttempts == 0 {
		c.API.Retry.MaxAttempts = 3
	}
	if c.API.Retry.InitialBackoff == 0 {
		c.API.Retry.InitialBackoff = 1 * time.Second
	}
	if c.API.Retry.MaxBackoff == 0 {
		c.API.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.Tables == "" {
		c.Storage.Tables = BackendCSV
	}
	if c.Storage.Raw == "" {
		c.Storage.Raw = BackendFile
	}
	if c.Storage.Watermark == "" {
		c.Storage.Watermark = BackendFile
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Storage.DataDir, "flood.db")
	}
	if c.Minio.Bucket == "" {
		c.Minio.Bucket = "flood-etl"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "flood_etl"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "runs"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "flood_etl_runs"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "flood-features"
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = time.Hour
	}
	if c.Sync.RunTimeout == 0 {
		c.Sync.RunTimeout = 30 * time.Minute
	}
	if c.Sync.FullWindowDays == 0 {
		c.Sync.FullWindowDays = 90
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Tables {
	case BackendCSV, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("unknown table storage %q", c.Storage.Tables)
	}
	switch c.Storage.Raw {
	case BackendFile, BackendMinio:
	default:
		return fmt.Errorf("unknown raw storage %q", c.Storage.Raw)
	}
	switch c.Storage.Watermark {
	case BackendFile, BackendMinio:
	case BackendDatabase:
		if c.Storage.Tables == BackendCSV {
			return fmt.Errorf("watermark storage %q needs postgres or sqlite tables", c.Storage.Watermark)
		}
	default:
		return fmt.Errorf("unknown watermark storage %q", c.Storage.Watermark)
	}
	if c.Sync.FullWindowDays < 0 {
		return fmt.Errorf("sync.full_window_days must not be negative")
	}
	return nil
}
