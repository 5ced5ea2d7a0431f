// Package config loads service configuration from an optional YAML file,
// a .env file and environment variables (in increasing precedence).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Mongo struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	// ChangeStream enables the MongoDB change-stream trigger source.
	ChangeStream bool `yaml:"change_stream"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type FCM struct {
	CredentialsFile string        `yaml:"credentials_file"`
	ProjectID       string        `yaml:"project_id"`
	Endpoint        string        `yaml:"endpoint"`
	TokenURL        string        `yaml:"token_url"`
	MaxFailures     uint32        `yaml:"breaker_max_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed"`
}

type Notify struct {
	TTL           time.Duration `yaml:"ttl"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`
}

type Trigger struct {
	MaxAttempts int           `yaml:"max_attempts"`
	ReplayTTL   time.Duration `yaml:"replay_ttl"`
}

type Server struct {
	GRPCPort    string `yaml:"grpc_port"`
	MetricsAddr string `yaml:"metrics_addr"`
	// TLSCert and TLSKey enable TLS on the gRPC health endpoint when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type Config struct {
	Mongo   Mongo   `yaml:"mongo"`
	Redis   Redis   `yaml:"redis"`
	Kafka   Kafka   `yaml:"kafka"`
	FCM     FCM     `yaml:"fcm"`
	Notify  Notify  `yaml:"notify"`
	Trigger Trigger `yaml:"trigger"`
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
}

// Load reads path (skipped when empty or missing), then .env, then the
// process environment, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{Mongo: Mongo{ChangeStream: true}}

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := overrideFromEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "chat_db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "chatsync:"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "chatsync"
	}
	if cfg.FCM.Endpoint == "" {
		cfg.FCM.Endpoint = "https://fcm.googleapis.com"
	}
	if cfg.FCM.MaxFailures == 0 {
		cfg.FCM.MaxFailures = 5
	}
	if cfg.FCM.BreakerTimeout == 0 {
		cfg.FCM.BreakerTimeout = 30 * time.Second
	}
	if cfg.FCM.RetryMaxElapsed == 0 {
		cfg.FCM.RetryMaxElapsed = 10 * time.Second
	}
	if cfg.Notify.TTL == 0 {
		cfg.Notify.TTL = 30 * 24 * time.Hour
	}
	if cfg.Notify.RatePerMinute == 0 {
		cfg.Notify.RatePerMinute = 120
	}
	if cfg.Notify.Burst == 0 {
		cfg.Notify.Burst = 20
	}
	if cfg.Trigger.MaxAttempts == 0 {
		cfg.Trigger.MaxAttempts = 5
	}
	if cfg.Trigger.ReplayTTL == 0 {
		cfg.Trigger.ReplayTTL = 7 * 24 * time.Hour
	}
	if cfg.Server.GRPCPort == "" {
		cfg.Server.GRPCPort = "50051"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func overrideFromEnv(cfg *Config) error {
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("MONGODB_CHANGE_STREAM"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MONGODB_CHANGE_STREAM: %w", err)
		}
		cfg.Mongo.ChangeStream = b
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		cfg.Kafka.GroupID = v
	}

	if v := os.Getenv("FCM_CREDENTIALS_FILE"); v != "" {
		cfg.FCM.CredentialsFile = v
	}
	if v := os.Getenv("FCM_PROJECT_ID"); v != "" {
		cfg.FCM.ProjectID = v
	}

	if v := os.Getenv("NOTIFY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("NOTIFY_TTL: %w", err)
		}
		cfg.Notify.TTL = d
	}
	if v := os.Getenv("NOTIFY_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NOTIFY_RATE_PER_MINUTE: %w", err)
		}
		cfg.Notify.RatePerMinute = n
	}
	if v := os.Getenv("TRIGGER_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TRIGGER_MAX_ATTEMPTS: %w", err)
		}
		cfg.Trigger.MaxAttempts = n
	}

	if v := os.Getenv("GRPC_PORT"); v != "" {
		cfg.Server.GRPCPort = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := os.Getenv("TLS_CERT"); v != "" {
		cfg.Server.TLSCert = v
	}
	if v := os.Getenv("TLS_KEY"); v != "" {
		cfg.Server.TLSKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return errors.New("mongo.uri (MONGODB_URI) must be set")
	}
	if !c.Mongo.ChangeStream && len(c.Kafka.Brokers) == 0 {
		return errors.New("no trigger source: enable mongo.change_stream or set kafka.brokers")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic must be set when kafka.brokers is")
	}
	if c.FCM.CredentialsFile != "" && c.FCM.ProjectID == "" {
		return errors.New("fcm.project_id must be set when fcm.credentials_file is")
	}
	if c.Notify.TTL < 0 || c.Notify.TTL > 30*24*time.Hour {
		return fmt.Errorf("notify.ttl %s out of range (0..30 days)", c.Notify.TTL)
	}
	if c.Notify.RatePerMinute < 0 {
		return errors.New("notify.rate_per_minute must not be negative")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	if c.Trigger.MaxAttempts < 1 {
		return errors.New("trigger.max_attempts must be at least 1")
	}
	return nil
}
