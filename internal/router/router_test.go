package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"planningpoker/internal/protocol"
)

type testSender struct{ id string }

func TestHandle_RejectsDuplicateType(t *testing.T) {
	r := New[*testSender](zap.NewNop())
	noop := func(context.Context, *testSender, *protocol.Envelope) error { return nil }

	require.NoError(t, r.Handle(protocol.TypeVoteCast, noop))
	require.Error(t, r.Handle(protocol.TypeVoteCast, noop),
		"duplicate registration is a startup-time configuration error")
}

func TestDispatch_UnknownTypeIsRejectedNotIgnored(t *testing.T) {
	r := New[*testSender](zap.NewNop())

	err := r.Dispatch(context.Background(), &testSender{}, &protocol.Envelope{Type: "no.such.type.v1"})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, protocol.CodeValidationError, perr.Code)
}

func TestDispatch_RoutesToRegisteredHandler(t *testing.T) {
	r := New[*testSender](zap.NewNop())

	var got *testSender
	require.NoError(t, r.Handle(protocol.TypeVoteCast, func(_ context.Context, s *testSender, _ *protocol.Envelope) error {
		got = s
		return nil
	}))

	sender := &testSender{id: "c1"}
	require.NoError(t, r.Dispatch(context.Background(), sender, &protocol.Envelope{Type: protocol.TypeVoteCast}))
	require.Same(t, sender, got)
}

func TestDispatch_PropagatesHandlerError(t *testing.T) {
	r := New[*testSender](zap.NewNop())
	want := protocol.Forbidden("observers cannot vote")
	require.NoError(t, r.Handle(protocol.TypeVoteCast, func(context.Context, *testSender, *protocol.Envelope) error {
		return want
	}))

	err := r.Dispatch(context.Background(), &testSender{}, &protocol.Envelope{Type: protocol.TypeVoteCast})
	require.ErrorIs(t, err, want)
}

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	r := New[*testSender](zap.NewNop())
	require.NoError(t, r.Handle(protocol.TypeRoundStart, func(context.Context, *testSender, *protocol.Envelope) error {
		panic("boom")
	}))

	err := r.Dispatch(context.Background(), &testSender{}, &protocol.Envelope{Type: protocol.TypeRoundStart})
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, protocol.CodeInternal, perr.Code)
}
