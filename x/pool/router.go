package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrOperationNotFound indicates no module claims the requested operation.
var ErrOperationNotFound = errors.New("pool: operation not found")

// Handler is an independently deployed behavior module. It operates over the
// pool's shared State and must never hold state of its own beyond what State
// carries.
type Handler interface {
	Handle(ctx context.Context, caller common.Address, payload []byte, state *State) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, caller common.Address, payload []byte, state *State) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, caller common.Address, payload []byte, state *State) ([]byte, error) {
	return f(ctx, caller, payload, state)
}

// ModuleRouter routes operations not recognized by the core pool to the
// registered module, preserving caller identity and payload and returning the
// module's result or error verbatim.
type ModuleRouter interface {
	Register(op string, handler Handler)
	Unregister(op string)
	Dispatch(ctx context.Context, caller common.Address, op string, payload []byte, state *State) ([]byte, error)
	// Operations returns the currently claimed operation identifiers.
	Operations() []string
}

// moduleRouter implements ModuleRouter with thread-safe handler registration.
type moduleRouter struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewModuleRouter creates an empty module router.
func NewModuleRouter() ModuleRouter {
	return &moduleRouter{handlers: make(map[string]Handler)}
}

func (r *moduleRouter) Register(op string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[op] = handler
}

func (r *moduleRouter) Unregister(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, op)
}

func (r *moduleRouter) Dispatch(ctx context.Context, caller common.Address, op string, payload []byte, state *State) ([]byte, error) {
	r.mu.RLock()
	handler, exists := r.handlers[op]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, op)
	}
	return handler.Handle(ctx, caller, payload, state)
}

func (r *moduleRouter) Operations() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	return ops
}
