package round

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"planningpoker/internal/metrics"
	"planningpoker/internal/protocol"
	"planningpoker/internal/registry"
	"planningpoker/internal/roomlock"
	"planningpoker/internal/roomstate"
	"planningpoker/internal/store"
)

// Actor identifies who is invoking a round operation. The transport layer
// fills it in from the connection's join binding; the coordinator trusts it.
type Actor struct {
	ParticipantID string
	Role          store.Role
}

// Coordinator owns the round lifecycle for every room: NO_ROUND before the
// first start, ROUND_OPEN while votes are accepted, ROUND_REVEALED after
// statistics go out. The current state is derived entirely from durable round
// rows, so it survives a process restart.
//
// All four operations follow the same two-phase contract: the durable write
// fully commits under the room's lock, then the resulting event is broadcast.
// A client reacting to a broadcast can immediately read state consistent with
// what it just received, and a failed write never produces a partial
// broadcast.
type Coordinator struct {
	store   *store.Store
	reg     *registry.Registry
	locks   *roomlock.Map
	metrics *metrics.Metrics
	clock   clockwork.Clock
	log     *zap.Logger
}

func NewCoordinator(st *store.Store, reg *registry.Registry, locks *roomlock.Map, m *metrics.Metrics, clock clockwork.Clock, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:   st,
		reg:     reg,
		locks:   locks,
		metrics: m,
		clock:   clock,
		log:     log,
	}
}

// Start opens the next round. Legal from NO_ROUND or ROUND_REVEALED,
// host-only; a second start while a round is open is INVALID_STATE, never a
// silent no-op.
func (c *Coordinator) Start(ctx context.Context, roomID string, actor Actor, storyTitle string, timerSeconds int) error {
	if actor.Role != store.RoleHost {
		return protocol.Forbidden("only the host may start a round")
	}

	unlock := c.locks.Lock(roomID)
	defer unlock()

	if _, err := c.store.OpenRound(ctx, roomID); err == nil {
		return protocol.InvalidState("a round is already open")
	} else if !errors.Is(err, store.ErrNotFound) {
		return c.internal(roomID, "check open round", err)
	}

	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.RoomNotFound("room does not exist")
		}
		return c.internal(roomID, "load room", err)
	}
	if timerSeconds <= 0 {
		timerSeconds = room.TimerSeconds
	}

	number := 1
	if latest, err := c.store.LatestRound(ctx, roomID); err == nil {
		number = latest.Number + 1
	} else if !errors.Is(err, store.ErrNotFound) {
		return c.internal(roomID, "latest round", err)
	}

	now := c.clock.Now()
	round := &store.Round{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		Number:       number,
		StoryTitle:   storyTitle,
		TimerSeconds: timerSeconds,
		State:        store.RoundOpen,
		StartedAt:    now,
	}
	if err := c.store.CreateRound(ctx, round); err != nil {
		return c.internal(roomID, "create round", err)
	}
	if err := c.store.TouchRoom(ctx, roomID, now); err != nil {
		c.log.Warn("touch room failed", zap.String("room_id", roomID), zap.Error(err))
	}

	c.metrics.RoundsStarted.Add(1)
	c.log.Info("round started",
		zap.String("room_id", roomID),
		zap.Int("round_number", number),
		zap.String("actor", actor.ParticipantID))

	c.broadcast(roomID, protocol.TypeRoundStarted, protocol.RoundStartedPayload{
		EventID: c.reg.NextEventID(roomID),
		Round:   roomstate.RoundInfo(round),
	})
	return nil
}

// CastVote records or overwrites the participant's vote for the open round.
// The broadcast carries only the fact that the participant voted; card values
// stay hidden until reveal.
func (c *Coordinator) CastVote(ctx context.Context, roomID string, actor Actor, cardValue string) error {
	if actor.Role == store.RoleObserver {
		return protocol.Forbidden("observers cannot vote")
	}
	if cardValue == "" {
		return protocol.ValidationError("cardValue is required")
	}

	unlock := c.locks.Lock(roomID)
	defer unlock()

	round, err := c.store.OpenRound(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.InvalidState("no round is open for voting")
		}
		return c.internal(roomID, "check open round", err)
	}

	room, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return c.internal(roomID, "load room", err)
	}
	if !store.CardInDeck(room.DeckValues, cardValue) {
		return protocol.InvalidVote(fmt.Sprintf("%q is not in this room's deck", cardValue))
	}

	if err := c.store.SaveVote(ctx, round.ID, actor.ParticipantID, cardValue, c.clock.Now()); err != nil {
		return c.internal(roomID, "save vote", err)
	}

	c.metrics.VotesCast.Add(1)
	c.broadcast(roomID, protocol.TypeVoteRecorded, protocol.VoteRecordedPayload{
		EventID:       c.reg.NextEventID(roomID),
		ParticipantID: actor.ParticipantID,
		HasVoted:      true,
	})

	if room.AutoReveal {
		if done, err := c.allVotersVoted(ctx, roomID, round.ID); err != nil {
			c.log.Warn("auto-reveal check failed", zap.String("room_id", roomID), zap.Error(err))
		} else if done {
			return c.revealLocked(ctx, roomID, round)
		}
	}
	return nil
}

// Reveal closes the open round, computes statistics exactly once and
// broadcasts every vote plus the aggregates in a single event. A second
// reveal of the same round is INVALID_STATE.
func (c *Coordinator) Reveal(ctx context.Context, roomID string, actor Actor) error {
	if actor.Role != store.RoleHost {
		return protocol.Forbidden("only the host may reveal")
	}

	unlock := c.locks.Lock(roomID)
	defer unlock()

	round, err := c.store.OpenRound(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return protocol.InvalidState("no open round to reveal")
		}
		return c.internal(roomID, "check open round", err)
	}
	return c.revealLocked(ctx, roomID, round)
}

// revealLocked runs under the room lock. The RevealedAt stamp commits before
// votes are read for statistics, so no later write can leak into the
// aggregates.
func (c *Coordinator) revealLocked(ctx context.Context, roomID string, round *store.Round) error {
	now := c.clock.Now()
	closed, err := c.store.MarkRevealed(ctx, round.ID, now)
	if err != nil {
		return c.internal(roomID, "mark revealed", err)
	}
	if !closed {
		return protocol.InvalidState("round already revealed")
	}

	votes, err := c.store.VotesByRound(ctx, round.ID)
	if err != nil {
		return c.internal(roomID, "load votes", err)
	}
	participants, err := c.store.ActiveParticipants(ctx, roomID)
	if err != nil {
		return c.internal(roomID, "load participants", err)
	}

	stats := computeStatistics(votes, participants)
	revealed := make([]protocol.RevealedVote, 0, len(votes))
	for _, v := range votes {
		revealed = append(revealed, protocol.RevealedVote{
			ParticipantID: v.ParticipantID,
			CardValue:     v.CardValue,
		})
	}

	c.metrics.RoundsRevealed.Add(1)
	c.log.Info("round revealed",
		zap.String("room_id", roomID),
		zap.Int("round_number", round.Number),
		zap.Int("total_votes", stats.TotalVotes),
		zap.Bool("consensus", stats.ConsensusReached))

	c.broadcast(roomID, protocol.TypeRoundRevealed, protocol.RoundRevealedPayload{
		EventID:     c.reg.NextEventID(roomID),
		RoundNumber: round.Number,
		Votes:       revealed,
		Statistics:  stats,
	})
	return nil
}

// Reset voids the current round and returns the room to NO_ROUND. Legal from
// ROUND_OPEN or ROUND_REVEALED, host-only.
func (c *Coordinator) Reset(ctx context.Context, roomID string, actor Actor, clearVotes bool) error {
	if actor.Role != store.RoleHost {
		return protocol.Forbidden("only the host may reset")
	}

	unlock := c.locks.Lock(roomID)
	defer unlock()

	round, err := c.store.OpenRound(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		round, err = c.latestRevealed(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.InvalidState("no round to reset")
		}
	}
	if err != nil {
		return c.internal(roomID, "locate round", err)
	}

	if clearVotes {
		if err := c.store.DeleteVotes(ctx, round.ID); err != nil {
			return c.internal(roomID, "delete votes", err)
		}
	}
	if err := c.store.VoidRound(ctx, round.ID); err != nil {
		return c.internal(roomID, "void round", err)
	}

	c.log.Info("round reset",
		zap.String("room_id", roomID),
		zap.Int("round_number", round.Number),
		zap.String("actor", actor.ParticipantID))

	c.broadcast(roomID, protocol.TypeRoundReset, protocol.RoundResetPayload{
		EventID:     c.reg.NextEventID(roomID),
		RoundNumber: round.Number,
	})
	return nil
}

func (c *Coordinator) latestRevealed(ctx context.Context, roomID string) (*store.Round, error) {
	latest, err := c.store.LatestRound(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if latest.State != store.RoundRevealed {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (c *Coordinator) allVotersVoted(ctx context.Context, roomID, roundID string) (bool, error) {
	participants, err := c.store.ActiveParticipants(ctx, roomID)
	if err != nil {
		return false, err
	}
	votes, err := c.store.VotesByRound(ctx, roundID)
	if err != nil {
		return false, err
	}
	voted := make(map[string]bool, len(votes))
	for _, v := range votes {
		voted[v.ParticipantID] = true
	}

	voters := 0
	for _, p := range participants {
		if p.Role != store.RoleVoter || p.State != store.StateConnected {
			continue
		}
		voters++
		if !voted[p.ID] {
			return false, nil
		}
	}
	return voters > 0, nil
}

func (c *Coordinator) broadcast(roomID, msgType string, payload any) {
	data, err := protocol.Encode(msgType, "", payload)
	if err != nil {
		c.log.Error("encode broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.reg.Broadcast(roomID, data)
}

func (c *Coordinator) internal(roomID, op string, err error) error {
	c.log.Error("round coordinator store failure",
		zap.String("room_id", roomID),
		zap.String("op", op),
		zap.Error(err))
	return protocol.Internal("storage unavailable")
}
