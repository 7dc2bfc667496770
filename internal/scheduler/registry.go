package scheduler

import (
	"context"

	"lifesync/internal/types"
)

// Handler executes the unit of work for one task type. Handlers receive the
// full task record and return an opaque result object persisted into the
// dispatch report. Handlers must tolerate duplicate execution: the runner
// guarantees at-least-once, not exactly-once.
type Handler interface {
	// Type returns the task type this handler serves.
	Type() types.TaskType

	// Handle performs the work. The dispatcher awaits full completion
	// before persisting the task outcome; there is no per-task timeout,
	// and a returned error marks the task failed without retry.
	Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error)
}

// HandlerFunc adapts a function to the Handler interface for small inline
// handlers (tests, the custom task actions).
type HandlerFunc struct {
	TaskType types.TaskType
	Fn       func(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error)
}

// Type implements Handler.
func (h HandlerFunc) Type() types.TaskType { return h.TaskType }

// Handle implements Handler.
func (h HandlerFunc) Handle(ctx context.Context, task *types.ScheduledTask) (types.JSONB, error) {
	return h.Fn(ctx, task)
}

// Registry maps task types to handlers. It replaces the string-keyed switch
// of earlier designs with an explicit registration step, so the set of
// runnable types is assembled once at startup and schedule-time validation
// can reject types with no handler.
type Registry struct {
	handlers map[types.TaskType]Handler
}

// NewRegistry creates a registry pre-populated with the given handlers.
// Registering two handlers for the same type keeps the last one.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[types.TaskType]Handler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register adds or replaces the handler for its task type.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Lookup returns the handler for a type, or false if none is registered.
func (r *Registry) Lookup(t types.TaskType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Has reports whether a handler is registered for the type.
func (r *Registry) Has(t types.TaskType) bool {
	_, ok := r.handlers[t]
	return ok
}
