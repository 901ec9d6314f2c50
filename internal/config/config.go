package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level ClawGuard configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Limits    LimitsConfig    `yaml:"limits"`
	Injection InjectionConfig `yaml:"injection"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Audit     AuditConfig     `yaml:"audit"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Policies  []PolicyConfig  `yaml:"policies"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr" split_words:"true"`
	LogLevel  string `yaml:"log_level" split_words:"true"`
	LogFormat string `yaml:"log_format" split_words:"true"` // text, json
	AuthToken string `yaml:"auth_token" split_words:"true"`
}

// LimitsConfig sets the sliding-window rate limits. A limit of 0 means
// unlimited.
type LimitsConfig struct {
	Window           time.Duration `yaml:"window" split_words:"true"`
	ToolCalls        int           `yaml:"tool_calls" split_words:"true"`
	OutboundMessages int           `yaml:"outbound_messages" split_words:"true"`
	InboundMessages  int           `yaml:"inbound_messages" split_words:"true"`
	SweepInterval    time.Duration `yaml:"sweep_interval" split_words:"true"`
}

type InjectionConfig struct {
	Capacity int           `yaml:"capacity" split_words:"true"`
	Window   time.Duration `yaml:"window" split_words:"true"`
}

type CatalogConfig struct {
	MatchTimeout time.Duration `yaml:"match_timeout" split_words:"true"`
}

type AuditConfig struct {
	Dir        string        `yaml:"dir" split_words:"true"`
	MaxSizeMB  int           `yaml:"max_size_mb" split_words:"true"`
	Retention  time.Duration `yaml:"retention" split_words:"true"`
	SQLitePath string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	QueueSize  int           `yaml:"queue_size" split_words:"true"`
	Kafka      KafkaConfig   `yaml:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" split_words:"true"`
	Topic   string   `yaml:"topic" split_words:"true"`
	Async   bool     `yaml:"async" split_words:"true"`
}

// Enabled reports whether enough is configured to publish.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
	Dedup   time.Duration      `yaml:"dedup" split_words:"true"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url" split_words:"true"`
	Channel    string `yaml:"channel" split_words:"true"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url" split_words:"true"`
	Secret string `yaml:"secret" split_words:"true"`
}

// PolicyConfig is a custom CEL rule evaluated before each tool call.
type PolicyConfig struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Effect    string `yaml:"effect"` // block, audit
	Message   string `yaml:"message"`
}

// DefaultAuditDir is ~/.openclaw/logs, or a relative .openclaw/logs when
// the home directory cannot be resolved.
func DefaultAuditDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".openclaw", "logs")
	}
	return filepath.Join(home, ".openclaw", "logs")
}

// DefaultConfig returns a config with sensible defaults for zero-config startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      "127.0.0.1:6780",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Limits: LimitsConfig{
			Window:           time.Minute,
			ToolCalls:        30,
			OutboundMessages: 20,
			InboundMessages:  0,
			SweepInterval:    60 * time.Second,
		},
		Injection: InjectionConfig{
			Capacity: 50,
			Window:   5 * time.Minute,
		},
		Catalog: CatalogConfig{
			MatchTimeout: 100 * time.Millisecond,
		},
		Audit: AuditConfig{
			Dir:       DefaultAuditDir(),
			MaxSizeMB: 50,
			Retention: 30 * 24 * time.Hour,
			QueueSize: 1024,
		},
		Alerts: AlertsConfig{
			Dedup: 5 * time.Minute,
		},
	}
}
