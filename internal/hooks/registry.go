package hooks

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler evaluates one event. Returning nil means no opinion.
type Handler func(ev *Event, hc Context) *Verdict

type registration struct {
	name     string
	priority int
	seq      int
	handler  Handler
}

// Registry holds handlers per event, ordered by priority (higher first) and
// then registration order.
//
// Registry is safe for concurrent use; handlers may be registered while
// events are being dispatched.
type Registry struct {
	mu       sync.RWMutex
	handlers map[EventName][]registration
	seq      int
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[EventName][]registration),
		logger:   logger.With("component", "hooks.Registry"),
	}
}

// On registers handler for event under name with the given priority.
func (r *Registry) On(event EventName, name string, priority int, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	// Dispatch iterates a snapshot without the lock, so never write into
	// the slice it may hold.
	old := r.handlers[event]
	regs := make([]registration, len(old), len(old)+1)
	copy(regs, old)
	regs = append(regs, registration{
		name:     name,
		priority: priority,
		seq:      r.seq,
		handler:  handler,
	})
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].priority != regs[j].priority {
			return regs[i].priority > regs[j].priority
		}
		return regs[i].seq < regs[j].seq
	})
	r.handlers[event] = regs

	r.logger.Debug("registered handler",
		"event", string(event),
		"handler", name,
		"priority", priority,
	)
}

// Handlers returns handler names for event in evaluation order.
func (r *Registry) Handlers(event EventName) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers[event]))
	for _, reg := range r.handlers[event] {
		names = append(names, reg.name)
	}
	return names
}

// Dispatch runs every handler for ev.Name in order and folds their verdicts.
// The first Block or Cancel stops the chain. A Redact verdict rewrites the
// outbound content later handlers see. Annotations are joined with a blank
// line. A handler that panics is logged and treated as having no opinion.
func (r *Registry) Dispatch(ev *Event, hc Context) Result {
	r.mu.RLock()
	regs := r.handlers[ev.Name]
	r.mu.RUnlock()

	var res Result
	for _, reg := range regs {
		v := r.invoke(reg, ev, hc)
		if v == nil {
			continue
		}

		switch v.Kind {
		case KindBlock:
			res.Block = true
			res.BlockReason = v.Reason
			res.DecidedBy = reg.name
			return res

		case KindCancel:
			res.Cancel = true
			res.CancelReason = v.Reason
			res.Content = nil
			res.DecidedBy = reg.name
			return res

		case KindRedact:
			content := v.Content
			res.Content = &content
			if ev.Outbound != nil {
				ev.Outbound.Content = content
			}

		case KindAnnotate:
			if v.Context == "" {
				continue
			}
			if res.PrependContext != "" {
				res.PrependContext += "\n\n"
			}
			res.PrependContext += v.Context

		case KindAllow:
		}
	}
	return res
}

func (r *Registry) invoke(reg registration, ev *Event, hc Context) (v *Verdict) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked, treating as no opinion",
				"event", string(ev.Name),
				"handler", reg.name,
				"panic", fmt.Sprint(p),
			)
			v = nil
		}
	}()
	return reg.handler(ev, hc)
}
