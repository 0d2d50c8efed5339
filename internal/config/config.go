package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"waitlist/queue-service/internal/hours"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	RealtimeHub  = "hub"
	RealtimeMQTT = "mqtt"
)

type Config struct {
	Port          string `yaml:"port"`
	DBDriver      string `yaml:"db_driver"`
	DatabaseURL   string `yaml:"db_dsn"`
	PublicBaseURL string `yaml:"public_base_url"`

	RateLimitWindow           time.Duration `yaml:"rate_limit_window"`
	RateLimitIPPerWindow      int           `yaml:"rate_limit_ip_per_window"`
	RateLimitDisplayPerWindow int           `yaml:"rate_limit_display_per_window"`

	RealtimeBackend string        `yaml:"realtime_backend"`
	RealtimeTimeout time.Duration `yaml:"realtime_timeout"`
	MQTT            MQTTConfig    `yaml:"mqtt"`

	SMS          ProviderConfig `yaml:"sms"`
	Email        ProviderConfig `yaml:"email"`
	WebhookToken string         `yaml:"webhook_token"`

	FreePlanEntryLimit int `yaml:"free_plan_entry_limit"`

	NoShowGrace     time.Duration `yaml:"no_show_grace"`
	NoShowInterval  time.Duration `yaml:"no_show_interval"`
	NoShowBatchSize int           `yaml:"no_show_batch_size"`

	OTel OTelConfig `yaml:"otel"`

	// Bootstrap is applied at startup on the sqlite driver only.
	Bootstrap Bootstrap `yaml:"bootstrap"`
}

type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type ProviderConfig struct {
	Kind         string `yaml:"provider"`
	WebhookURL   string `yaml:"webhook_url"`
	WebhookToken string `yaml:"webhook_token"`
}

type OTelConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

type Bootstrap struct {
	Locations     []LocationSeed     `yaml:"locations"`
	Queues        []QueueSeed        `yaml:"queues"`
	Plans         []PlanSeed         `yaml:"plans"`
	Subscriptions []SubscriptionSeed `yaml:"subscriptions"`
	Sessions      []SessionSeed      `yaml:"sessions"`
}

type LocationSeed struct {
	ID         string         `yaml:"id"`
	BusinessID string         `yaml:"business_id"`
	Name       string         `yaml:"name"`
	Hours      hours.Schedule `yaml:"hours"`
}

type QueueSeed struct {
	ID               string   `yaml:"id"`
	BusinessID       string   `yaml:"business_id"`
	LocationID       string   `yaml:"location_id"`
	Name             string   `yaml:"name"`
	RequiredFields   []string `yaml:"required_fields"`
	SelfCheckIn      bool     `yaml:"self_check_in"`
	ManualAvgMinutes *int     `yaml:"manual_avg_minutes"`
	DisplayToken     string   `yaml:"display_token"`
	RedactNames      *bool    `yaml:"redact_names"`
}

type PlanSeed struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	Paid              bool   `yaml:"paid"`
	MonthlyEntryLimit int    `yaml:"monthly_entry_limit"`
}

type SubscriptionSeed struct {
	BusinessID  string    `yaml:"business_id"`
	PlanID      string    `yaml:"plan_id"`
	Status      string    `yaml:"status"`
	PeriodStart time.Time `yaml:"period_start"`
	PeriodEnd   time.Time `yaml:"period_end"`
}

type SessionSeed struct {
	ID         string        `yaml:"id"`
	UserID     string        `yaml:"user_id"`
	BusinessID string        `yaml:"business_id"`
	Role       string        `yaml:"role"`
	TTL        time.Duration `yaml:"ttl"`
}

func Default() Config {
	return Config{
		Port:                      "8080",
		DBDriver:                  DriverPostgres,
		PublicBaseURL:             "http://localhost:8080",
		RateLimitWindow:           time.Minute,
		RateLimitIPPerWindow:      30,
		RateLimitDisplayPerWindow: 120,
		RealtimeBackend:           RealtimeHub,
		RealtimeTimeout:           300 * time.Millisecond,
		MQTT: MQTTConfig{
			TopicPrefix: "waitlist",
		},
		SMS:                ProviderConfig{Kind: "log"},
		Email:              ProviderConfig{Kind: "log"},
		FreePlanEntryLimit: 100,
		NoShowInterval:     time.Minute,
		NoShowBatchSize:    100,
	}
}

// Load builds defaults, overlays the YAML file named by WAITLIST_CONFIG and
// then the environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("WAITLIST_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	overlayEnv(&cfg)

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "waitlist-" + uuid.NewString()
	}
	if cfg.DBDriver == DriverSQLite && cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "./data/waitlist.db"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func overlayEnv(cfg *Config) {
	cfg.Port = readString("PORT", cfg.Port)
	cfg.DBDriver = strings.ToLower(readString("DB_DRIVER", cfg.DBDriver))
	cfg.DatabaseURL = readString("DB_DSN", cfg.DatabaseURL)
	cfg.PublicBaseURL = readString("PUBLIC_BASE_URL", cfg.PublicBaseURL)

	cfg.RateLimitWindow = readDurationSeconds("RATE_LIMIT_WINDOW_SECONDS", cfg.RateLimitWindow)
	cfg.RateLimitIPPerWindow = readInt("RATE_LIMIT_IP_PER_WINDOW", cfg.RateLimitIPPerWindow)
	cfg.RateLimitDisplayPerWindow = readInt("RATE_LIMIT_DISPLAY_PER_WINDOW", cfg.RateLimitDisplayPerWindow)

	cfg.RealtimeBackend = strings.ToLower(readString("REALTIME_BACKEND", cfg.RealtimeBackend))
	cfg.RealtimeTimeout = readDurationMillis("REALTIME_TIMEOUT_MS", cfg.RealtimeTimeout)
	cfg.MQTT.BrokerURL = readString("MQTT_BROKER_URL", cfg.MQTT.BrokerURL)
	cfg.MQTT.ClientID = readString("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.TopicPrefix = readString("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)

	overlayProvider("SMS", &cfg.SMS)
	overlayProvider("EMAIL", &cfg.Email)
	cfg.WebhookToken = readString("WEBHOOK_TOKEN", cfg.WebhookToken)

	cfg.FreePlanEntryLimit = readInt("FREE_PLAN_ENTRY_LIMIT", cfg.FreePlanEntryLimit)

	cfg.NoShowGrace = readDurationSeconds("NO_SHOW_GRACE_SECONDS", cfg.NoShowGrace)
	cfg.NoShowInterval = readDurationSeconds("NO_SHOW_SCAN_INTERVAL_SECONDS", cfg.NoShowInterval)
	cfg.NoShowBatchSize = readInt("NO_SHOW_BATCH_SIZE", cfg.NoShowBatchSize)

	cfg.OTel.Endpoint = readString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTel.Endpoint)
	cfg.OTel.Insecure = readBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTel.Insecure)
}

func overlayProvider(channel string, p *ProviderConfig) {
	p.Kind = readString("NOTIF_"+channel+"_PROVIDER", p.Kind)
	p.WebhookURL = readString("NOTIF_"+channel+"_WEBHOOK_URL", p.WebhookURL)
	p.WebhookToken = readString("NOTIF_"+channel+"_WEBHOOK_TOKEN", p.WebhookToken)
}

func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DB_DSN is required for the postgres driver"))
		}
	case DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver))
	}
	switch c.RealtimeBackend {
	case RealtimeHub:
	case RealtimeMQTT:
		if c.MQTT.BrokerURL == "" {
			errs = append(errs, errors.New("MQTT_BROKER_URL is required for the mqtt realtime backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown REALTIME_BACKEND %q", c.RealtimeBackend))
	}
	if c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	return errors.Join(errs...)
}

func readString(key, fallback string) string {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		return raw
	}
	return fallback
}

func readDurationSeconds(key string, fallback time.Duration) time.Duration {
	value := readInt(key, int(fallback/time.Second))
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback time.Duration) time.Duration {
	value := readInt(key, int(fallback/time.Millisecond))
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
