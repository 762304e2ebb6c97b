package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"planningpoker/internal/protocol"
)

// Handler processes one inbound envelope from sender C. A returned
// *protocol.Error is reported to the sender only; any other error is logged
// and surfaced as INTERNAL_SERVER_ERROR.
type Handler[C any] func(ctx context.Context, sender C, env *protocol.Envelope) error

// Router dispatches envelopes by type tag. The handler set is closed at
// startup: registering the same type twice is a configuration error, and an
// unknown type at runtime is rejected back to the sender, never ignored.
type Router[C any] struct {
	handlers map[string]Handler[C]
	log      *zap.Logger
}

func New[C any](log *zap.Logger) *Router[C] {
	return &Router[C]{
		handlers: make(map[string]Handler[C]),
		log:      log,
	}
}

func (r *Router[C]) Handle(msgType string, h Handler[C]) error {
	if _, dup := r.handlers[msgType]; dup {
		return fmt.Errorf("duplicate handler registered for %q", msgType)
	}
	r.handlers[msgType] = h
	return nil
}

// Dispatch runs the handler for env.Type. Handler panics are recovered here
// so one bad message never takes down the per-connection worker.
func (r *Router[C]) Dispatch(ctx context.Context, sender C, env *protocol.Envelope) (err error) {
	h, ok := r.handlers[env.Type]
	if !ok {
		return protocol.ValidationError(fmt.Sprintf("unknown message type %q", env.Type))
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("handler panic",
				zap.String("type", env.Type),
				zap.Any("panic", rec))
			err = protocol.Internal("internal error")
		}
	}()

	return h(ctx, sender, env)
}
