package policy

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/clawguard/clawguard/internal/config"
	"github.com/fsnotify/fsnotify"
)

// Custom policy effects.
const (
	EffectBlock = "block"
	EffectAudit = "audit"
)

// CompiledPolicy is a custom policy with its condition compiled.
type CompiledPolicy struct {
	Config config.PolicyConfig
	Rule   CompiledRule
}

// Loader compiles custom policy configs and optionally watches the config
// file for hot-reload notifications.
type Loader struct {
	celEval *CELEvaluator
	logger  *slog.Logger

	// watcher state
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates a policy Loader.
func NewLoader(celEval *CELEvaluator, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		celEval: celEval,
		logger:  logger.With("component", "policy.Loader"),
	}
}

// LoadFromConfig compiles policies in order. A policy whose condition fails
// to compile, or whose effect is unknown, is logged and skipped so that one
// bad entry does not disable the others.
func (l *Loader) LoadFromConfig(configs []config.PolicyConfig) []CompiledPolicy {
	policies := make([]CompiledPolicy, 0, len(configs))

	for i, cfg := range configs {
		if cfg.Effect != EffectBlock && cfg.Effect != EffectAudit {
			l.logger.Error("skipping policy with unknown effect",
				"policy_name", cfg.Name,
				"index", i,
				"effect", cfg.Effect,
			)
			continue
		}

		rule, err := l.celEval.CompileExpression(cfg.Condition)
		if err != nil {
			l.logger.Error("skipping policy with invalid CEL expression",
				"policy_name", cfg.Name,
				"index", i,
				"error", err,
			)
			continue
		}

		policies = append(policies, CompiledPolicy{Config: cfg, Rule: rule})
		l.logger.Info("loaded policy",
			"name", cfg.Name,
			"effect", cfg.Effect,
		)
	}

	l.logger.Info("policy loading complete",
		"total_configs", len(configs),
		"loaded_policies", len(policies),
	)
	return policies
}

// WatchConfig starts an fsnotify watcher on the given config file path.
// When the file is written or re-created, onReload is called with its
// absolute path. Call StopWatch to clean up.
func (l *Loader) WatchConfig(configPath string, onReload func(path string)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher != nil {
		l.stopWatchLocked()
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(absPath)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})

	go l.watchLoop(w, l.watchDone, absPath, onReload)

	l.logger.Info("watching config for changes", "path", absPath)
	return nil
}

func (l *Loader) watchLoop(w *fsnotify.Watcher, done chan struct{}, targetPath string, onReload func(string)) {
	defer close(done)

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != targetPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				l.logger.Info("config file changed, triggering reload", "path", targetPath)
				onReload(targetPath)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Error("fsnotify error", "error", err)
		}
	}
}

// StopWatch stops the config file watcher, if running.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopWatchLocked()
}

func (l *Loader) stopWatchLocked() {
	if l.watcher == nil {
		return
	}
	_ = l.watcher.Close()
	<-l.watchDone
	l.watcher = nil
	l.watchDone = nil
}
