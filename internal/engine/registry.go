package engine

import (
	"context"
	"sync"

	"github.com/danielballan/bluesky-talk/internal/msg"
)

// Handler executes one instruction. Handlers may complete immediately or
// suspend pending an external event (device motion, timer); they must
// honor ctx cancellation while suspended. The returned value is fed back
// to the plan as the instruction's result.
type Handler func(ctx context.Context, m msg.Msg) (any, error)

// registry is the command dispatch table.
//
// Registration is idempotent-overwrite: registering a handler for an
// existing tag replaces it. The engine enforces that mutation only
// happens while no run is active; the registry itself just stores.
type registry struct {
	mu       sync.RWMutex
	handlers map[msg.Command]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[msg.Command]Handler)}
}

func (r *registry) register(command msg.Command, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[command] = h
}

func (r *registry) unregister(command msg.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, command)
}

func (r *registry) lookup(command msg.Command) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[command]
	return h, ok
}
