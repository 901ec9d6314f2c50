package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CLAWGUARD_SERVER_ADDR.
const EnvPrefix = "CLAWGUARD"

// Loader reads the YAML config file and keeps the current value.
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string
}

// NewLoader returns a loader holding DefaultConfig.
func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load reads path, substitutes ${VAR} references, applies environment
// overrides and validates the result.
func (l *Loader) Load(path string) error {
	cfg, err := loadFile(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.filePath = path
	l.mu.Unlock()
	return nil
}

// Reload re-reads the file passed to Load. On error the previous config is
// kept.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.filePath
	l.mu.RUnlock()
	if path == "" {
		return errors.New("no config file loaded")
	}
	return l.Load(path)
}

// Get returns the current config. Callers must not modify it.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the loaded file path, or "" when running on defaults.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Audit.Dir = ExpandHome(cfg.Audit.Dir)
	cfg.Audit.SQLitePath = ExpandHome(cfg.Audit.SQLitePath)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays CLAWGUARD_* environment variables onto cfg. Names are
// the section and field in upper snake case, e.g. CLAWGUARD_LIMITS_TOOL_CALLS
// or CLAWGUARD_AUDIT_KAFKA_BROKERS (comma separated). Unset variables leave
// the field alone.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		prefix string
		spec   any
	}{
		{EnvPrefix + "_SERVER", &cfg.Server},
		{EnvPrefix + "_LIMITS", &cfg.Limits},
		{EnvPrefix + "_INJECTION", &cfg.Injection},
		{EnvPrefix + "_CATALOG", &cfg.Catalog},
		{EnvPrefix + "_AUDIT", &cfg.Audit},
		{EnvPrefix + "_ALERTS", &cfg.Alerts},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.spec); err != nil {
			return fmt.Errorf("env overrides %s: %w", s.prefix, err)
		}
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Limits.Window <= 0 {
		errs = append(errs, errors.New("limits.window must be positive"))
	}
	if c.Limits.ToolCalls < 0 || c.Limits.OutboundMessages < 0 || c.Limits.InboundMessages < 0 {
		errs = append(errs, errors.New("limits must not be negative"))
	}
	if c.Injection.Capacity < 0 {
		errs = append(errs, errors.New("injection.capacity must not be negative"))
	}
	switch c.Server.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("server.log_format %q: want text or json", c.Server.LogFormat))
	}
	seen := make(map[string]bool)
	for i, p := range c.Policies {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("policies[%d]: name is required", i))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Errorf("policies[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true
		switch p.Effect {
		case "block", "audit":
		default:
			errs = append(errs, fmt.Errorf("policies[%d] %s: effect %q: want block or audit", i, p.Name, p.Effect))
		}
	}
	return errors.Join(errs...)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// substituteEnvVars expands ${VAR} and ${VAR:-default}. Unset variables
// without a default expand to the empty string.
func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := envVarPattern.FindStringSubmatch(m)
		if v, ok := os.LookupEnv(parts[1]); ok && v != "" {
			return v
		}
		return parts[2]
	})
}

// GenerateDefault writes a starter config file to path.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(defaultYAML), 0o644)
}

const defaultYAML = `# ClawGuard configuration
server:
  addr: 127.0.0.1:6780
  log_level: info
  log_format: text
  auth_token: ${CLAWGUARD_TOKEN:-}

limits:
  window: 1m
  tool_calls: 30          # per session
  outbound_messages: 20   # per channel
  inbound_messages: 0     # per channel:sender, 0 = observe only
  sweep_interval: 60s

injection:
  capacity: 50
  window: 5m

catalog:
  match_timeout: 100ms

audit:
  dir: ~/.openclaw/logs
  max_size_mb: 50
  retention: 720h
  sqlite_path: ""
  queue_size: 1024
  kafka:
    brokers: []
    topic: ""

alerts:
  dedup: 5m
  slack:
    webhook_url: ${SLACK_WEBHOOK_URL:-}
    channel: ""
  webhook:
    url: ""
    secret: ""

# Custom rules evaluated before every tool call.
# Variables: tool.name, tool.params, session.key, agent.id, session.tool_calls
policies:
  - name: no-curl-pipe-shell
    condition: 'tool.name == "exec" && "command" in tool.params && tool.params.command.matches("curl .*\\|\\s*(ba)?sh")'
    effect: block
    message: "Piping downloads into a shell is not allowed"
`
