package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"planningpoker/internal/metrics"
	"planningpoker/internal/protocol"
	"planningpoker/internal/registry"
	"planningpoker/internal/roomlock"
	"planningpoker/internal/round"
	"planningpoker/internal/session"
	"planningpoker/internal/store"
)

type gatewayEnv struct {
	t    *testing.T
	st   *store.Store
	gw   *Gateway
	room *store.Room
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	st := store.New(db, 2*time.Second)
	require.NoError(t, st.Migrate())

	clock := clockwork.NewFakeClock()
	reg := registry.New(zap.NewNop())
	locks := roomlock.New()
	sessions := session.NewManager(st, reg, locks, clock, 30*time.Second, zap.NewNop())
	rounds := round.NewCoordinator(st, reg, locks, metrics.New(), clock, zap.NewNop())

	gw, err := NewGateway(sessions, rounds, nil, zap.NewNop())
	require.NoError(t, err)

	deck, ok := store.ResolveDeck(store.DeckFibonacci, nil)
	require.True(t, ok)
	room := &store.Room{
		ID:           "ROOM01",
		Title:        "estimation",
		Privacy:      "private",
		DeckType:     store.DeckFibonacci,
		DeckValues:   deck,
		CreatedAt:    clock.Now(),
		LastActiveAt: clock.Now(),
	}
	require.NoError(t, st.CreateRoom(context.Background(), room))
	return &gatewayEnv{t: t, st: st, gw: gw, room: room}
}

func (e *gatewayEnv) client(identity string, limiter *slidingWindow) *Client {
	if limiter == nil {
		limiter = newSlidingWindow(0, rateLimitWindow)
	}
	return newClient(nil, e.room.ID, identity, limiter)
}

func (e *gatewayEnv) frame(msgType, requestID string, payload any) []byte {
	e.t.Helper()
	data, err := protocol.Encode(msgType, requestID, payload)
	require.NoError(e.t, err)
	return data
}

func (e *gatewayEnv) joinAs(c *Client, role store.Role) {
	e.t.Helper()
	e.gw.handleFrame(context.Background(), c, e.frame(protocol.TypeRoomJoin, "", protocol.JoinPayload{
		DisplayName: c.identityID,
		Role:        string(role),
	}))
	_, _, joined := c.binding()
	require.True(e.t, joined)
	drainEnvelopes(e.t, c, "")
}

// drainEnvelopes empties the client's outbound buffer and returns the frames
// of the given type, or all of them when msgType is empty.
func drainEnvelopes(t *testing.T, c *Client, msgType string) []*protocol.Envelope {
	t.Helper()
	var out []*protocol.Envelope
	for {
		select {
		case data := <-c.send:
			env, perr := protocol.Decode(data)
			require.Nil(t, perr)
			if msgType == "" || env.Type == msgType {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func decodeEnvelope[T any](t *testing.T, env *protocol.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}

func TestHandleFrame_RateLimitEchoesRequestID(t *testing.T) {
	e := newGatewayEnv(t)
	c := e.client("alice", newSlidingWindow(1, time.Minute))
	e.joinAs(c, store.RoleVoter)

	// The budget is spent; the throttle error still names the request.
	e.gw.handleFrame(context.Background(), c, e.frame(protocol.TypeVoteCast, "req-2", protocol.CastVotePayload{CardValue: "5"}))
	errs := drainEnvelopes(t, c, protocol.TypeError)
	require.Len(t, errs, 1)
	require.Equal(t, "req-2", errs[0].RequestID)
	p := decodeEnvelope[protocol.ErrorPayload](t, errs[0])
	require.Equal(t, protocol.CodeRateLimited, p.Code)

	// An undecodable frame is still throttled, with nothing to echo.
	e.gw.handleFrame(context.Background(), c, []byte("{not json"))
	errs = drainEnvelopes(t, c, protocol.TypeError)
	require.Len(t, errs, 1)
	require.Empty(t, errs[0].RequestID)
	p = decodeEnvelope[protocol.ErrorPayload](t, errs[0])
	require.Equal(t, protocol.CodeRateLimited, p.Code)
}

func TestHandleLeave_PassesClientReasonThrough(t *testing.T) {
	e := newGatewayEnv(t)
	host := e.client("host", nil)
	alice := e.client("alice", nil)
	e.joinAs(host, store.RoleHost)
	e.joinAs(alice, store.RoleVoter)
	drainEnvelopes(t, host, "")

	e.gw.handleFrame(context.Background(), alice, e.frame(protocol.TypeRoomLeave, "", protocol.LeavePayload{
		Reason: protocol.ReasonKicked,
	}))

	left := drainEnvelopes(t, host, protocol.TypeParticipantLeft)
	require.Len(t, left, 1)
	p := decodeEnvelope[protocol.ParticipantLeftPayload](t, left[0])
	require.Equal(t, protocol.ReasonKicked, p.Reason)
}

func TestHandleLeave_RejectsUnknownReason(t *testing.T) {
	e := newGatewayEnv(t)
	host := e.client("host", nil)
	bob := e.client("bob", nil)
	e.joinAs(host, store.RoleHost)
	e.joinAs(bob, store.RoleVoter)
	drainEnvelopes(t, host, "")

	e.gw.handleFrame(context.Background(), bob, e.frame(protocol.TypeRoomLeave, "req-9", protocol.LeavePayload{
		Reason: "rage_quit",
	}))

	errs := drainEnvelopes(t, bob, protocol.TypeError)
	require.Len(t, errs, 1)
	require.Equal(t, "req-9", errs[0].RequestID)
	p := decodeEnvelope[protocol.ErrorPayload](t, errs[0])
	require.Equal(t, protocol.CodeValidationError, p.Code)
	require.Empty(t, drainEnvelopes(t, host, protocol.TypeParticipantLeft), "bob keeps his seat")
}

func TestHandleFrame_DispatchOutlivesConnectionContext(t *testing.T) {
	e := newGatewayEnv(t)
	host := e.client("host", nil)
	alice := e.client("alice", nil)
	e.joinAs(host, store.RoleHost)
	e.joinAs(alice, store.RoleVoter)

	e.gw.handleFrame(context.Background(), host, e.frame(protocol.TypeRoundStart, "", protocol.StartRoundPayload{}))
	drainEnvelopes(t, host, "")
	drainEnvelopes(t, alice, "")

	// The request context a frame arrived on may already be gone by the
	// time the durable write runs; the write must commit regardless.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.gw.handleFrame(ctx, alice, e.frame(protocol.TypeVoteCast, "req-1", protocol.CastVotePayload{CardValue: "8"}))

	require.Empty(t, drainEnvelopes(t, alice, protocol.TypeError))
	recorded := drainEnvelopes(t, host, protocol.TypeVoteRecorded)
	require.Len(t, recorded, 1)
}
