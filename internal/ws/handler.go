package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"planningpoker/internal/protocol"
	"planningpoker/internal/round"
	"planningpoker/internal/router"
	"planningpoker/internal/session"
)

const (
	readTimeout     = 5 * time.Minute
	rateLimitMax    = 30
	rateLimitWindow = 10 * time.Second
)

// Gateway owns the per-connection read loop and the closed set of message
// handlers. One logical worker per connection: messages from the same
// connection are handled in order, different connections concurrently.
type Gateway struct {
	sessions *session.Manager
	rounds   *round.Coordinator
	router   *router.Router[*Client]
	origins  []string
	log      *zap.Logger
}

func NewGateway(sessions *session.Manager, rounds *round.Coordinator, origins []string, log *zap.Logger) (*Gateway, error) {
	g := &Gateway{
		sessions: sessions,
		rounds:   rounds,
		router:   router.New[*Client](log),
		origins:  origins,
		log:      log,
	}

	handlers := map[string]router.Handler[*Client]{
		protocol.TypeRoomJoin:    g.handleJoin,
		protocol.TypeRoomLeave:   g.handleLeave,
		protocol.TypeVoteCast:    g.handleVote,
		protocol.TypeRoundStart:  g.handleStart,
		protocol.TypeRoundReveal: g.handleReveal,
		protocol.TypeRoundReset:  g.handleReset,
	}
	for msgType, h := range handlers {
		if err := g.router.Handle(msgType, h); err != nil {
			return nil, fmt.Errorf("gateway router: %w", err)
		}
	}
	return g, nil
}

// Handler upgrades and runs one connection. The room and identity query
// params are trusted: authorization happened before this endpoint was
// reachable.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.URL.Query().Get("room")
		identityID := r.URL.Query().Get("identity")
		if roomID == "" || identityID == "" {
			http.Error(w, "room and identity are required", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: g.origins,
		})
		if err != nil {
			g.log.Warn("websocket accept failed", zap.Error(err))
			return
		}

		client := newClient(conn, roomID, identityID, newSlidingWindow(rateLimitMax, rateLimitWindow))
		defer client.Close("bye")
		go client.writeLoop()

		g.readLoop(r.Context(), client)
	}
}

func (g *Gateway) readLoop(ctx context.Context, client *Client) {
	defer func() {
		// Abrupt transport close: start the grace period unless the client
		// already left explicitly.
		if _, _, joined := client.binding(); joined && !client.hasLeft() {
			g.sessions.Disconnect(context.Background(), client)
		}
	}()

	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := client.conn.Read(readCtx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		g.handleFrame(ctx, client, data)
	}
}

// handleFrame throttles, decodes and dispatches one inbound frame.
func (g *Gateway) handleFrame(ctx context.Context, client *Client, data []byte) {
	// The limiter counts every frame, decodable or not, but the error
	// echoes the requestId whenever one can be recovered.
	allowed := client.limiter.allow(time.Now())
	env, perr := protocol.Decode(data)
	if !allowed {
		requestID := ""
		if perr == nil {
			requestID = env.RequestID
		}
		g.sendError(client, protocol.RateLimited("message rate exceeded"), requestID)
		return
	}
	if perr != nil {
		g.sendError(client, perr, "")
		return
	}

	// Handlers commit durable writes and then broadcast; neither phase
	// may be cancelled by this connection's teardown.
	if err := g.router.Dispatch(context.WithoutCancel(ctx), client, env); err != nil {
		var pe *protocol.Error
		if !errors.As(err, &pe) {
			g.log.Error("handler failed",
				zap.String("type", env.Type),
				zap.Error(err))
			pe = protocol.Internal("internal error")
		}
		g.sendError(client, pe, env.RequestID)
	}
}

// sendError reports a failure to the originating connection only.
func (g *Gateway) sendError(client *Client, perr *protocol.Error, requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = client.Send(ctx, protocol.EncodeError(perr, requestID))
}

func (g *Gateway) handleJoin(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var p protocol.JoinPayload
	if perr := protocol.DecodePayload(env, &p); perr != nil {
		return perr
	}

	participant, err := g.sessions.Join(ctx, client, client.roomID, client.identityID, p)
	if err != nil {
		return err
	}
	client.bind(participant.ID, participant.Role)
	return nil
}

func (g *Gateway) handleLeave(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var p protocol.LeavePayload
	if perr := protocol.DecodePayload(env, &p); perr != nil {
		return perr
	}
	if _, _, joined := client.binding(); !joined {
		return protocol.Unauthorized("join the room first")
	}

	reason := p.Reason
	switch reason {
	case "":
		reason = protocol.ReasonUserInitiated
	case protocol.ReasonUserInitiated, protocol.ReasonKicked:
	default:
		return protocol.ValidationError("invalid leave reason")
	}

	client.markLeft()
	if err := g.sessions.Leave(ctx, client, reason); err != nil {
		return err
	}
	return client.Close("left")
}

func (g *Gateway) handleVote(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var p protocol.CastVotePayload
	if perr := protocol.DecodePayload(env, &p); perr != nil {
		return perr
	}
	actor, perr := g.actor(client)
	if perr != nil {
		return perr
	}
	return g.rounds.CastVote(ctx, client.roomID, actor, p.CardValue)
}

func (g *Gateway) handleStart(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var p protocol.StartRoundPayload
	if perr := protocol.DecodePayload(env, &p); perr != nil {
		return perr
	}
	actor, perr := g.actor(client)
	if perr != nil {
		return perr
	}
	return g.rounds.Start(ctx, client.roomID, actor, p.StoryTitle, p.TimerDurationSeconds)
}

func (g *Gateway) handleReveal(ctx context.Context, client *Client, env *protocol.Envelope) error {
	actor, perr := g.actor(client)
	if perr != nil {
		return perr
	}
	return g.rounds.Reveal(ctx, client.roomID, actor)
}

func (g *Gateway) handleReset(ctx context.Context, client *Client, env *protocol.Envelope) error {
	var p protocol.ResetRoundPayload
	if perr := protocol.DecodePayload(env, &p); perr != nil {
		return perr
	}
	actor, perr := g.actor(client)
	if perr != nil {
		return perr
	}
	clearVotes := p.ClearVotes == nil || *p.ClearVotes
	return g.rounds.Reset(ctx, client.roomID, actor, clearVotes)
}

func (g *Gateway) actor(client *Client) (round.Actor, *protocol.Error) {
	participantID, role, joined := client.binding()
	if !joined {
		return round.Actor{}, protocol.Unauthorized("join the room first")
	}
	return round.Actor{ParticipantID: participantID, Role: role}, nil
}
