package host

import (
	"context"
	"errors"
	"sync"
)

// AnalyticsHandler is what the client calls for every analytics event.
type AnalyticsHandler interface {
	// SendEvent handles one event. Handlers ignore events they do not recognise.
	SendEvent(ctx context.Context, event Event) error
	// SetUserProperties receives permanent user properties.
	SetUserProperties(props map[string]any)
}

// Registry is the client-owned list of analytics handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers []AnalyticsHandler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends h. Handlers receive events in registration order.
func (r *Registry) Register(h AnalyticsHandler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// SendEvent delivers event to every handler. A failing handler does not stop delivery
// to the rest; all handler errors are joined.
func (r *Registry) SendEvent(ctx context.Context, event Event) error {
	r.mu.RLock()
	handlers := append([]AnalyticsHandler(nil), r.handlers...)
	r.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.SendEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetUserProperties forwards props to every handler.
func (r *Registry) SetUserProperties(props map[string]any) {
	r.mu.RLock()
	handlers := append([]AnalyticsHandler(nil), r.handlers...)
	r.mu.RUnlock()
	for _, h := range handlers {
		h.SetUserProperties(props)
	}
}
