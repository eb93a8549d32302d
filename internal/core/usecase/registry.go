package usecase

import (
	"fmt"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

// HandlerRegistry maps entity kinds to the handler applying their queued
// operations. Populated once during wiring; reads are lock-free afterwards.
type HandlerRegistry struct {
	handlers map[domain.EntityKind]ports.OperationHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[domain.EntityKind]ports.OperationHandler)}
}

func (r *HandlerRegistry) Register(h ports.OperationHandler) {
	r.handlers[h.Kind()] = h
}

func (r *HandlerRegistry) Resolve(kind domain.EntityKind) (ports.OperationHandler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for entity kind %q", kind)
	}
	return h, nil
}
