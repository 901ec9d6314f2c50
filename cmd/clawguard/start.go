package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/clawguard/clawguard/internal/adapter/openclaw"
	"github.com/clawguard/clawguard/internal/alert"
	"github.com/clawguard/clawguard/internal/audit"
	"github.com/clawguard/clawguard/internal/config"
	"github.com/clawguard/clawguard/internal/hooks"
	"github.com/clawguard/clawguard/internal/policy"
)

// loadConfig reads configFile (or the first config found on the search
// path). Without a file the defaults plus CLAWGUARD_* overrides are used.
func loadConfig(configFile string) (*config.Loader, string, error) {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return cfgLoader, configFile, nil
	}

	cfg := cfgLoader.Get()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, "", err
	}
	cfg.Audit.Dir = config.ExpandHome(cfg.Audit.Dir)
	cfg.Audit.SQLitePath = config.ExpandHome(cfg.Audit.SQLitePath)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfgLoader, "", nil
}

func newLogger(w io.Writer, sc config.ServerConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(sc.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if sc.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// auditPipeline owns the audit writers so they can be closed in order.
type auditPipeline struct {
	sink    *audit.AsyncSink
	sqlite  *audit.SQLiteSink
	kafka   *audit.KafkaSink
	alerts  *alert.Manager
	targets []string
}

// buildAudit assembles file, SQLite, Kafka and alert writers behind one
// bounded asynchronous queue. SQLite and Kafka are optional.
func buildAudit(cfg config.AuditConfig, alerts config.AlertsConfig, logger *slog.Logger) (*auditPipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &auditPipeline{}

	file := audit.NewFileSink(cfg.Dir, logger,
		audit.WithMaxFileSize(int64(cfg.MaxSizeMB)<<20),
		audit.WithRetention(cfg.Retention),
	)
	writers := []audit.Writer{file}
	p.targets = append(p.targets, "file:"+file.Dir())

	if cfg.SQLitePath != "" {
		s, err := audit.NewSQLiteSink(cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
		p.sqlite = s
		writers = append(writers, s)

		if days := int(cfg.Retention / (24 * time.Hour)); days > 0 {
			removed, err := s.PruneOlderThan(context.Background(), days)
			if err != nil {
				logger.Warn("failed to prune audit database", "error", err)
			} else if removed > 0 {
				logger.Info("pruned audit database", "removed", removed, "retention_days", days)
			}
		}
		p.targets = append(p.targets, "sqlite:"+cfg.SQLitePath)
	}

	if cfg.Kafka.Enabled() {
		k, err := audit.NewKafkaSink(audit.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Async:   cfg.Kafka.Async,
		}, logger)
		if err != nil {
			p.closeStores()
			return nil, fmt.Errorf("failed to create kafka audit sink: %w", err)
		}
		p.kafka = k
		writers = append(writers, k)
		p.targets = append(p.targets, "kafka:"+cfg.Kafka.Topic)
	}

	p.alerts = alert.NewManager(alerts, logger)
	if p.alerts.HasSenders() {
		writers = append(writers, alert.NewAuditWriter(p.alerts))
		p.targets = append(p.targets, "alerts")
	}

	p.sink = audit.NewAsyncSink(audit.Multi(writers...), cfg.QueueSize, logger)
	return p, nil
}

// Close drains the queue, then closes the stores.
func (p *auditPipeline) Close(ctx context.Context) {
	_ = p.sink.Close(ctx)
	p.alerts.Wait()
	p.closeStores()
}

func (p *auditPipeline) closeStores() {
	if p.kafka != nil {
		_ = p.kafka.Close()
	}
	if p.sqlite != nil {
		_ = p.sqlite.Close()
	}
}

func runStart(configFile, addrOverride string) error {
	cfgLoader, configFile, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	cfg := cfgLoader.Get()
	if addrOverride != "" {
		cfg.Server.Addr = addrOverride
	}

	logger := newLogger(os.Stdout, cfg.Server)
	slog.SetDefault(logger)

	pipeline, err := buildAudit(cfg.Audit, cfg.Alerts, logger)
	if err != nil {
		return err
	}

	engine, err := policy.NewEngineFromConfig(cfg, pipeline.sink, logger)
	if err != nil {
		pipeline.Close(context.Background())
		return err
	}
	registry := hooks.NewRegistry(logger)
	engine.Register(registry)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine.Start(ctx)
	if configFile != "" {
		if err := engine.WatchPolicies(cfgLoader); err != nil {
			logger.Error("failed to watch config for hot-reload", "error", err)
		}
	}

	// Alert dedup entries are pruned alongside the counter sweep.
	sweep := cfg.Limits.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	go func() {
		ticker := time.NewTicker(sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pipeline.alerts.PruneDedup()
			}
		}
	}()

	gateway := openclaw.NewGateway(openclaw.FromServerConfig(cfg.Server), registry,
		func() any {
			return map[string]any{
				"policy": engine.Status(),
				"audit":  pipeline.sink.Stats(),
			}
		}, logger)

	printBanner(cfg, configFile, engine.PolicyCount(), pipeline.targets)

	errCh := make(chan error, 1)
	go func() { errCh <- gateway.Start(ctx) }()

	select {
	case err = <-errCh:
		if err != nil {
			err = fmt.Errorf("HTTP server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down...")
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	_ = gateway.Stop(shutCtx)
	engine.Stop()
	pipeline.Close(shutCtx)
	return err
}

func printBanner(cfg *config.Config, configFile string, policies int, targets []string) {
	if configFile == "" {
		configFile = "(defaults)"
	}
	fmt.Println(color.CyanString(logo))
	fmt.Printf("  ClawGuard %s\n\n", version)
	fmt.Printf("  → Hooks:     http://%s/v1/hooks/{event}\n", cfg.Server.Addr)
	fmt.Printf("  → Stream:    ws://%s/v1/ws\n", cfg.Server.Addr)
	fmt.Printf("  → Config:    %s\n", configFile)
	fmt.Printf("  → Limits:    %d tool calls, %d outbound per %s\n",
		cfg.Limits.ToolCalls, cfg.Limits.OutboundMessages, cfg.Limits.Window)
	fmt.Printf("  → Audit:     %s\n", strings.Join(targets, ", "))
	fmt.Printf("  → Policies:  %d loaded\n", policies)
	if cfg.Server.AuthToken == "" {
		fmt.Println(color.YellowString("  ⚠ No auth token set; keep the listen address on loopback."))
	}
	fmt.Println()
}
