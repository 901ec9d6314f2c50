package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clawguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoader_LoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  addr: 0.0.0.0:7000
  log_level: debug
  log_format: json

limits:
  window: 30s
  tool_calls: 10
  outbound_messages: 5

injection:
  capacity: 20

audit:
  dir: /tmp/clawguard-audit
  sqlite_path: /tmp/clawguard-audit/audit.db
  kafka:
    brokers: [kafka-1:9092, kafka-2:9092]
    topic: clawguard.audit

policies:
  - name: no-secrets-read
    condition: 'tool.name == "read" && tool.params.path.contains(".env")'
    effect: block
    message: "Reading .env files is not allowed"
`)

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg := loader.Get()

	if cfg.Server.Addr != "0.0.0.0:7000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.LogFormat != "json" {
		t.Errorf("Server.LogFormat = %q", cfg.Server.LogFormat)
	}
	if cfg.Limits.Window != 30*time.Second {
		t.Errorf("Limits.Window = %v", cfg.Limits.Window)
	}
	if cfg.Limits.ToolCalls != 10 || cfg.Limits.OutboundMessages != 5 {
		t.Errorf("Limits = %+v", cfg.Limits)
	}
	// Unset keys keep their defaults.
	if cfg.Limits.SweepInterval != 60*time.Second {
		t.Errorf("Limits.SweepInterval = %v, want default", cfg.Limits.SweepInterval)
	}
	if cfg.Injection.Capacity != 20 || cfg.Injection.Window != 5*time.Minute {
		t.Errorf("Injection = %+v", cfg.Injection)
	}
	if !cfg.Audit.Kafka.Enabled() || len(cfg.Audit.Kafka.Brokers) != 2 {
		t.Errorf("Audit.Kafka = %+v", cfg.Audit.Kafka)
	}
	if len(cfg.Policies) != 1 || cfg.Policies[0].Effect != "block" {
		t.Errorf("Policies = %+v", cfg.Policies)
	}
}

func TestLoader_DefaultConfig(t *testing.T) {
	cfg := NewLoader().Get()

	if cfg.Server.Addr != "127.0.0.1:6780" {
		t.Errorf("default Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Limits.ToolCalls != 30 {
		t.Errorf("default Limits.ToolCalls = %d, want 30", cfg.Limits.ToolCalls)
	}
	if cfg.Limits.OutboundMessages != 20 {
		t.Errorf("default Limits.OutboundMessages = %d, want 20", cfg.Limits.OutboundMessages)
	}
	if cfg.Injection.Capacity != 50 {
		t.Errorf("default Injection.Capacity = %d, want 50", cfg.Injection.Capacity)
	}
	if cfg.Catalog.MatchTimeout != 100*time.Millisecond {
		t.Errorf("default Catalog.MatchTimeout = %v", cfg.Catalog.MatchTimeout)
	}
	if !strings.HasSuffix(cfg.Audit.Dir, filepath.Join(".openclaw", "logs")) {
		t.Errorf("default Audit.Dir = %q", cfg.Audit.Dir)
	}
	if cfg.Audit.Kafka.Enabled() {
		t.Error("kafka should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoader_LoadNonExistentFile(t *testing.T) {
	loader := NewLoader()
	if err := loader.Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("Load() with nonexistent file should return error")
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `{{{invalid yaml`)
	if err := NewLoader().Load(configPath); err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}

func TestLoader_Validate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero window", "limits:\n  window: 0s\n", "limits.window"},
		{"negative limit", "limits:\n  tool_calls: -1\n", "must not be negative"},
		{"bad log format", "server:\n  log_format: xml\n", "log_format"},
		{"unknown effect", "policies:\n  - name: p\n    condition: 'true'\n    effect: terminate\n", "want block or audit"},
		{"duplicate policy", "policies:\n  - {name: p, condition: 'true', effect: block}\n  - {name: p, condition: 'true', effect: audit}\n", "duplicate name"},
		{"missing name", "policies:\n  - {condition: 'true', effect: block}\n", "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewLoader().Load(writeConfig(t, tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoader_FilePath(t *testing.T) {
	configPath := writeConfig(t, "server:\n  addr: 127.0.0.1:9999\n")

	loader := NewLoader()
	if loader.FilePath() != "" {
		t.Errorf("FilePath() before Load() = %q, want empty", loader.FilePath())
	}
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loader.FilePath() != configPath {
		t.Errorf("FilePath() = %q, want %q", loader.FilePath(), configPath)
	}
}

func TestLoader_Reload(t *testing.T) {
	configPath := writeConfig(t, "limits:\n  tool_calls: 8\n")

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loader.Get().Limits.ToolCalls != 8 {
		t.Errorf("initial tool_calls = %d, want 8", loader.Get().Limits.ToolCalls)
	}

	if err := os.WriteFile(configPath, []byte("limits:\n  tool_calls: 9\n"), 0644); err != nil {
		t.Fatalf("failed to overwrite config: %v", err)
	}
	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if loader.Get().Limits.ToolCalls != 9 {
		t.Errorf("reloaded tool_calls = %d, want 9", loader.Get().Limits.ToolCalls)
	}

	// A broken file keeps the previous config.
	if err := os.WriteFile(configPath, []byte("limits:\n  window: -1s\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := loader.Reload(); err == nil {
		t.Fatal("Reload() of invalid config should fail")
	}
	if loader.Get().Limits.ToolCalls != 9 {
		t.Errorf("config replaced after failed reload")
	}
}

func TestLoader_ReloadWithoutLoad(t *testing.T) {
	if err := NewLoader().Reload(); err == nil {
		t.Error("Reload() without prior Load() should return error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CLAWGUARD_SERVER_ADDR", "127.0.0.1:1234")
	t.Setenv("CLAWGUARD_LIMITS_WINDOW", "2m")
	t.Setenv("CLAWGUARD_AUDIT_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("CLAWGUARD_AUDIT_KAFKA_TOPIC", "audit")
	t.Setenv("CLAWGUARD_ALERTS_SLACK_WEBHOOK_URL", "https://hooks.slack.com/x")

	configPath := writeConfig(t, "server:\n  addr: 127.0.0.1:5555\n")
	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg := loader.Get()

	if cfg.Server.Addr != "127.0.0.1:1234" {
		t.Errorf("env should override file: Addr = %q", cfg.Server.Addr)
	}
	if cfg.Limits.Window != 2*time.Minute {
		t.Errorf("Limits.Window = %v", cfg.Limits.Window)
	}
	if got := cfg.Audit.Kafka.Brokers; len(got) != 2 || got[1] != "b:9092" {
		t.Errorf("Kafka.Brokers = %v", got)
	}
	if cfg.Alerts.Slack.WebhookURL != "https://hooks.slack.com/x" {
		t.Errorf("Slack.WebhookURL = %q", cfg.Alerts.Slack.WebhookURL)
	}
	// Untouched sections keep their values.
	if cfg.Limits.ToolCalls != 30 {
		t.Errorf("Limits.ToolCalls = %d, want default", cfg.Limits.ToolCalls)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_CG_ADDR", "10.0.0.1:80")
	t.Setenv("TEST_CG_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "addr: ${TEST_CG_ADDR}", "addr: 10.0.0.1:80"},
		{"default unused", "addr: ${TEST_CG_ADDR:-x}", "addr: 10.0.0.1:80"},
		{"default used", "addr: ${TEST_CG_MISSING:-fallback}", "addr: fallback"},
		{"empty uses default", "v: ${TEST_CG_EMPTY:-d}", "v: d"},
		{"missing no default", "v: ${TEST_CG_MISSING}", "v: "},
		{"no vars", "plain text", "plain text"},
		{"multiple", "${TEST_CG_ADDR} ${TEST_CG_MISSING:-y}", "10.0.0.1:80 y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars_InConfigLoad(t *testing.T) {
	t.Setenv("TEST_CG_TOKEN", "tok-123")
	configPath := writeConfig(t, "server:\n  auth_token: ${TEST_CG_TOKEN}\n")

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loader.Get().Server.AuthToken != "tok-123" {
		t.Errorf("AuthToken = %q", loader.Get().Server.AuthToken)
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := ExpandHome("~/.openclaw/logs"); got != "/home/tester/.openclaw/logs" {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome(abs) = %q", got)
	}
}

func TestGenerateDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "clawguard.yaml")

	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault() error: %v", err)
	}
	if err := GenerateDefault(path); err == nil {
		t.Error("GenerateDefault() over an existing file should fail")
	}

	loader := NewLoader()
	if err := loader.Load(path); err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	cfg := loader.Get()
	if len(cfg.Policies) != 1 || cfg.Policies[0].Name != "no-curl-pipe-shell" {
		t.Errorf("Policies = %+v", cfg.Policies)
	}
	if strings.HasPrefix(cfg.Audit.Dir, "~") {
		t.Errorf("Audit.Dir not expanded: %q", cfg.Audit.Dir)
	}
}
