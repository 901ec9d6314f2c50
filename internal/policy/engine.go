// Package policy implements the security decision pipeline. The Engine owns
// the rate counters, the injection memory and the compiled catalogs, and
// installs its checks on a hooks.Registry. Checks run highest priority first
// and the first block or cancel short-circuits the event.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clawguard/clawguard/internal/audit"
	"github.com/clawguard/clawguard/internal/catalog"
	"github.com/clawguard/clawguard/internal/config"
	"github.com/clawguard/clawguard/internal/hooks"
	"github.com/clawguard/clawguard/internal/redact"
	"github.com/clawguard/clawguard/internal/sanitize"
)

// Check priorities. Rate limits run before content checks so a flood is
// refused without scanning it.
const (
	PriorityRateLimit = 200
	PriorityGate      = 100
	PriorityDefault   = 0
)

// Default limits.
const (
	DefaultToolCallLimit = 30
	DefaultOutboundLimit = 20
)

// Deps are the collaborators of an Engine. Nil fields get defaults: the
// built-in catalogs, 30/min tool calls, 20/min outbound, unlimited inbound,
// a 50-entry injection memory and a discarding audit sink.
type Deps struct {
	Library         *catalog.Library
	ToolCalls       *SlidingWindowCounter
	Outbound        *SlidingWindowCounter
	Inbound         *SlidingWindowCounter
	Memory          *sanitize.Memory
	Sink            audit.Sink
	CEL             *CELEvaluator
	InjectionWindow time.Duration
	Logger          *slog.Logger
}

// Engine is the decision pipeline. It is safe for concurrent use; custom
// policies can be replaced while events are being evaluated.
type Engine struct {
	lib       *catalog.Library
	toolCalls *SlidingWindowCounter
	outbound  *SlidingWindowCounter
	inbound   *SlidingWindowCounter
	memory    *sanitize.Memory
	scanner   *sanitize.Scanner
	redactor  *redact.Redactor
	leaks     *redact.LeakDetector
	sink      audit.Sink
	celEval   *CELEvaluator
	loader    *Loader
	window    time.Duration
	logger    *slog.Logger

	mu           sync.RWMutex
	policies     []CompiledPolicy
	configLoader *config.Loader
}

// NewEngine assembles an Engine from deps.
func NewEngine(deps Deps) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lib := deps.Library
	if lib == nil {
		var err error
		lib, err = catalog.NewLibrary(catalog.WithLogger(logger))
		if err != nil {
			return nil, err
		}
	}
	if deps.ToolCalls == nil {
		deps.ToolCalls = NewSlidingWindowCounter("tool_calls", DefaultWindow, DefaultToolCallLimit, logger)
	}
	if deps.Outbound == nil {
		deps.Outbound = NewSlidingWindowCounter("outbound", DefaultWindow, DefaultOutboundLimit, logger)
	}
	if deps.Inbound == nil {
		deps.Inbound = NewSlidingWindowCounter("inbound", DefaultWindow, Unlimited, logger)
	}
	if deps.Memory == nil {
		deps.Memory = sanitize.NewMemory(sanitize.DefaultMemoryCapacity)
	}
	if deps.Sink == nil {
		deps.Sink = audit.Discard
	}
	if deps.InjectionWindow <= 0 {
		deps.InjectionWindow = sanitize.DefaultRecentWindow
	}
	if deps.CEL == nil {
		ev, err := NewCELEvaluator(logger)
		if err != nil {
			return nil, err
		}
		deps.CEL = ev
	}

	return &Engine{
		lib:       lib,
		toolCalls: deps.ToolCalls,
		outbound:  deps.Outbound,
		inbound:   deps.Inbound,
		memory:    deps.Memory,
		scanner:   sanitize.NewScanner(lib.Injection, logger),
		redactor:  redact.NewRedactor(lib.SensitiveData, logger),
		leaks:     redact.NewLeakDetector(lib.ComplianceLeak),
		sink:      deps.Sink,
		celEval:   deps.CEL,
		loader:    NewLoader(deps.CEL, logger),
		window:    deps.InjectionWindow,
		logger:    logger.With("component", "policy.Engine"),
	}, nil
}

// NewEngineFromConfig builds an Engine with limits, memory and catalogs
// sized by cfg and loads cfg's custom policies.
func NewEngineFromConfig(cfg *config.Config, sink audit.Sink, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lib, err := catalog.NewLibrary(
		catalog.WithMatchTimeout(cfg.Catalog.MatchTimeout),
		catalog.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	sweep := WithSweepInterval(cfg.Limits.SweepInterval)
	e, err := NewEngine(Deps{
		Library:         lib,
		ToolCalls:       NewSlidingWindowCounter("tool_calls", cfg.Limits.Window, cfg.Limits.ToolCalls, logger, sweep),
		Outbound:        NewSlidingWindowCounter("outbound", cfg.Limits.Window, cfg.Limits.OutboundMessages, logger, sweep),
		Inbound:         NewSlidingWindowCounter("inbound", cfg.Limits.Window, cfg.Limits.InboundMessages, logger, sweep),
		Memory:          sanitize.NewMemory(cfg.Injection.Capacity),
		Sink:            sink,
		InjectionWindow: cfg.Injection.Window,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build policy engine: %w", err)
	}
	e.LoadPolicies(cfg.Policies)
	return e, nil
}

// Register installs every check on reg. Same-priority checks run in the
// order registered here.
func (e *Engine) Register(reg *hooks.Registry) {
	reg.On(hooks.MessageReceived, "rate_limit.inbound", PriorityDefault, e.ObserveInbound)
	reg.On(hooks.MessageReceived, "audit.inbound", PriorityDefault, e.AuditInbound)
	reg.On(hooks.MessageReceived, "injection.detect", PriorityDefault, e.DetectInjection)

	reg.On(hooks.BeforeToolCall, "rate_limit.tool_calls", PriorityRateLimit, e.LimitToolCalls)
	reg.On(hooks.BeforeToolCall, "gate.command", PriorityGate, e.GateCommand)
	reg.On(hooks.BeforeToolCall, "gate.extended", PriorityGate, e.GateExtendedTools)
	reg.On(hooks.BeforeToolCall, "policy.custom", PriorityDefault, e.EvaluateCustomPolicies)

	reg.On(hooks.AfterToolCall, "audit.tool_result", PriorityDefault, e.AuditToolResult)

	reg.On(hooks.MessageSending, "rate_limit.outbound", PriorityRateLimit, e.LimitOutbound)
	reg.On(hooks.MessageSending, "filter.outbound", PriorityGate, e.FilterOutbound)

	reg.On(hooks.BeforeAgentStart, "prompt.preamble", PriorityGate, e.SecurityPreamble)

	e.logger.Info("security checks registered", "custom_policies", e.PolicyCount())
}

// Start runs the counters' background sweeps until ctx is done or Stop is
// called.
func (e *Engine) Start(ctx context.Context) {
	e.toolCalls.Start(ctx)
	e.outbound.Start(ctx)
	e.inbound.Start(ctx)
}

// Stop halts the background sweeps and the config watcher.
func (e *Engine) Stop() {
	e.toolCalls.Stop()
	e.outbound.Stop()
	e.inbound.Stop()
	e.loader.StopWatch()
}

// LoadPolicies compiles cfgs and atomically replaces the active custom
// policies. It returns how many compiled.
func (e *Engine) LoadPolicies(cfgs []config.PolicyConfig) int {
	compiled := e.loader.LoadFromConfig(cfgs)

	e.mu.Lock()
	e.policies = compiled
	e.mu.Unlock()
	return len(compiled)
}

// SetConfigLoader sets the config.Loader ReloadPolicies re-reads.
func (e *Engine) SetConfigLoader(cl *config.Loader) {
	e.mu.Lock()
	e.configLoader = cl
	e.mu.Unlock()
}

// ReloadPolicies re-reads the config file and recompiles custom policies.
// On a read error the current policies stay active.
func (e *Engine) ReloadPolicies() error {
	e.mu.RLock()
	cl := e.configLoader
	e.mu.RUnlock()

	if cl == nil {
		e.logger.Warn("ReloadPolicies called but no config loader is set")
		return nil
	}
	if err := cl.Reload(); err != nil {
		e.logger.Error("failed to reload config from disk", "error", err)
		return err
	}

	n := e.LoadPolicies(cl.Get().Policies)
	e.logger.Info("policies hot-reloaded", "count", n)
	return nil
}

// WatchPolicies hot-reloads custom policies whenever the loaded config file
// changes.
func (e *Engine) WatchPolicies(cl *config.Loader) error {
	e.SetConfigLoader(cl)
	if cl.FilePath() == "" {
		return nil
	}
	return e.loader.WatchConfig(cl.FilePath(), func(string) {
		_ = e.ReloadPolicies()
	})
}

// PolicyCount returns the number of active custom policies.
func (e *Engine) PolicyCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policies)
}

func (e *Engine) activePolicies() []CompiledPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policies
}

// Library returns the compiled catalogs.
func (e *Engine) Library() *catalog.Library { return e.lib }

// Memory returns the injection memory.
func (e *Engine) Memory() *sanitize.Memory { return e.memory }

// Status is a point-in-time view of the engine's state.
type Status struct {
	ToolCallKeys       int  `json:"tool_call_keys"`
	OutboundKeys       int  `json:"outbound_keys"`
	InboundKeys        int  `json:"inbound_keys"`
	InjectionMemory    int  `json:"injection_memory"`
	RecentInjections   int  `json:"recent_injections"`
	RecentHighSeverity bool `json:"recent_high_severity"`
	CustomPolicies     int  `json:"custom_policies"`
}

// Status reports counter sizes and recent injection activity.
func (e *Engine) Status() Status {
	return Status{
		ToolCallKeys:       e.toolCalls.Len(),
		OutboundKeys:       e.outbound.Len(),
		InboundKeys:        e.inbound.Len(),
		InjectionMemory:    e.memory.Len(),
		RecentInjections:   len(e.memory.Recent(e.window)),
		RecentHighSeverity: e.memory.HasHighSeverity(e.window),
		CustomPolicies:     e.PolicyCount(),
	}
}
