package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string
	Addr        string // ops API bind address, e.g. "127.0.0.1:8080" or ":8080" in Docker
	LogDir      string
	LogLevel    string
	DatabaseURL string // empty means the in-memory store

	PublicAPIKeys []string
	AdminAPIKeys  []string
	PublicRPM     int

	Kafka KafkaConfig

	ConsumerWorkers      int
	CheckInterval        time.Duration
	CheckConcurrency     int
	HTTPConnectTimeout   time.Duration
	HTTPTimeout          time.Duration
	IncidentStreakLength int

	AlertInterval time.Duration
	AlertSubject  string
	SMTP          SMTPConfig
	NotifyWebhook string

	OTLPEndpoint string
}

type KafkaConfig struct {
	Brokers           []string
	Topic             string
	GroupID           string
	Partitions        int
	ReplicationFactor int
	MaxRetries        int
	RetryDelay        time.Duration
	RequestTimeout    time.Duration
	WriteAttempts     int
	Username          string
	Password          string
	SecurityProtocol  string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "local")
	v.SetDefault("API_ADDR", "127.0.0.1:8080")
	v.SetDefault("LOG_DIR", "logs")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PUBLIC_RPM", 60)

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC_NAME", "health-check-results")
	v.SetDefault("KAFKA_GROUP_ID", "health-check-consumers")
	v.SetDefault("KAFKA_PARTITIONS", 3)
	v.SetDefault("KAFKA_REPLICATION_FACTOR", 1)
	v.SetDefault("KAFKA_MAX_RETRIES", 5)
	v.SetDefault("KAFKA_RETRY_DELAY_S", 2)
	v.SetDefault("KAFKA_REQUEST_TIMEOUT_MS", 30000)
	v.SetDefault("KAFKA_WRITE_ATTEMPTS", 3)
	v.SetDefault("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT")

	v.SetDefault("CONSUMER_WORKERS", 4)
	v.SetDefault("CHECK_INTERVAL", "1m")
	v.SetDefault("CHECK_CONCURRENCY", 10)
	v.SetDefault("HTTP_CONNECT_TIMEOUT_MS", 5000)
	v.SetDefault("HTTP_TIMEOUT_MS", 10000)
	v.SetDefault("INCIDENT_STREAK_LENGTH", 3)

	v.SetDefault("ALERT_INTERVAL", "30m")
	v.SetDefault("ALERT_SUBJECT", "API Incident Summary Report")
	v.SetDefault("SMTP_PORT", 587)
}

// FromEnv reads configuration from the process environment.
func FromEnv() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := Config{
		Env:           v.GetString("ENV"),
		Addr:          v.GetString("API_ADDR"),
		LogDir:        v.GetString("LOG_DIR"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		PublicAPIKeys: splitList(v.GetString("PUBLIC_API_KEYS")),
		AdminAPIKeys:  splitList(v.GetString("ADMIN_API_KEYS")),
		PublicRPM:     v.GetInt("PUBLIC_RPM"),
		Kafka: KafkaConfig{
			Brokers:           splitList(v.GetString("KAFKA_BROKERS")),
			Topic:             v.GetString("KAFKA_TOPIC_NAME"),
			GroupID:           v.GetString("KAFKA_GROUP_ID"),
			Partitions:        v.GetInt("KAFKA_PARTITIONS"),
			ReplicationFactor: v.GetInt("KAFKA_REPLICATION_FACTOR"),
			MaxRetries:        v.GetInt("KAFKA_MAX_RETRIES"),
			RetryDelay:        time.Duration(v.GetInt("KAFKA_RETRY_DELAY_S")) * time.Second,
			RequestTimeout:    time.Duration(v.GetInt("KAFKA_REQUEST_TIMEOUT_MS")) * time.Millisecond,
			WriteAttempts:     v.GetInt("KAFKA_WRITE_ATTEMPTS"),
			Username:          v.GetString("KAFKA_USERNAME"),
			Password:          v.GetString("KAFKA_PASSWORD"),
			SecurityProtocol:  strings.ToUpper(v.GetString("KAFKA_SECURITY_PROTOCOL")),
		},
		ConsumerWorkers:      v.GetInt("CONSUMER_WORKERS"),
		CheckInterval:        v.GetDuration("CHECK_INTERVAL"),
		CheckConcurrency:     v.GetInt("CHECK_CONCURRENCY"),
		HTTPConnectTimeout:   time.Duration(v.GetInt("HTTP_CONNECT_TIMEOUT_MS")) * time.Millisecond,
		HTTPTimeout:          time.Duration(v.GetInt("HTTP_TIMEOUT_MS")) * time.Millisecond,
		IncidentStreakLength: v.GetInt("INCIDENT_STREAK_LENGTH"),
		AlertInterval:        v.GetDuration("ALERT_INTERVAL"),
		AlertSubject:         v.GetString("ALERT_SUBJECT"),
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SENDER_EMAIL"),
		},
		NotifyWebhook: v.GetString("NOTIFY_WEBHOOK"),
		OTLPEndpoint:  v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS is empty"))
	}
	if c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC_NAME is empty"))
	}
	switch c.Kafka.SecurityProtocol {
	case "PLAINTEXT", "SSL", "SASL_PLAINTEXT", "SASL_SSL":
	default:
		errs = append(errs, fmt.Errorf("KAFKA_SECURITY_PROTOCOL %q is not supported", c.Kafka.SecurityProtocol))
	}
	positive := map[string]int64{
		"KAFKA_PARTITIONS":         int64(c.Kafka.Partitions),
		"KAFKA_REPLICATION_FACTOR": int64(c.Kafka.ReplicationFactor),
		"KAFKA_MAX_RETRIES":        int64(c.Kafka.MaxRetries),
		"CONSUMER_WORKERS":         int64(c.ConsumerWorkers),
		"CHECK_CONCURRENCY":        int64(c.CheckConcurrency),
		"CHECK_INTERVAL":           int64(c.CheckInterval),
		"HTTP_TIMEOUT_MS":          int64(c.HTTPTimeout),
		"INCIDENT_STREAK_LENGTH":   int64(c.IncidentStreakLength),
		"ALERT_INTERVAL":           int64(c.AlertInterval),
	}
	for _, k := range sortedKeys(positive) {
		if positive[k] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", k))
		}
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
