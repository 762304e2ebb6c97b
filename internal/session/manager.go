package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"planningpoker/internal/protocol"
	"planningpoker/internal/registry"
	"planningpoker/internal/roomlock"
	"planningpoker/internal/roomstate"
	"planningpoker/internal/store"
)

// Manager drives the per-participant lifecycle: JOINING -> CONNECTED ->
// DISCONNECTED_GRACE -> LEFT, with reconnection inside the grace window
// returning to CONNECTED. It shares the per-room lock map with the round
// coordinator so presence changes never interleave with round transitions.
type Manager struct {
	store *store.Store
	reg   *registry.Registry
	locks *roomlock.Map
	clock clockwork.Clock
	grace time.Duration
	log   *zap.Logger

	timersMu sync.Mutex
	timers   map[string]graceTimer
}

type graceTimer struct {
	timer  clockwork.Timer
	roomID string
}

func NewManager(st *store.Store, reg *registry.Registry, locks *roomlock.Map, clock clockwork.Clock, grace time.Duration, log *zap.Logger) *Manager {
	return &Manager{
		store:  st,
		reg:    reg,
		locks:  locks,
		clock:  clock,
		grace:  grace,
		log:    log,
		timers: make(map[string]graceTimer),
	}
}

// Join admits a connection to a room. If a durable row exists for this
// identity it is reactivated; otherwise one is created. The joining
// connection gets the full room snapshot; everyone else gets a lightweight
// participant_joined event. On a reconnect within the grace window only the
// targeted snapshot is sent.
func (m *Manager) Join(ctx context.Context, conn registry.Conn, roomID, identityID string, p protocol.JoinPayload) (*store.Participant, error) {
	if p.DisplayName == "" {
		return nil, protocol.ValidationError("displayName is required")
	}
	role, ok := store.ParseRole(p.Role)
	if !ok {
		return nil, protocol.ValidationError("role must be HOST, VOTER or OBSERVER")
	}

	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, protocol.RoomNotFound("room does not exist")
		}
		return nil, m.internal(roomID, "load room", err)
	}

	unlock := m.locks.Lock(roomID)
	defer unlock()

	active, err := m.store.ActiveParticipants(ctx, roomID)
	if err != nil {
		return nil, m.internal(roomID, "list participants", err)
	}
	if room.MaxParticipants > 0 && len(active) >= room.MaxParticipants {
		returning := false
		for _, a := range active {
			if a.IdentityID == identityID {
				returning = true
				break
			}
		}
		if !returning {
			return nil, protocol.RoomFull("room is at capacity")
		}
	}

	participant, err := m.store.UpsertParticipant(ctx, roomID, identityID, p.DisplayName, p.AvatarURL, role, m.clock.Now())
	if err != nil {
		return nil, m.internal(roomID, "upsert participant", err)
	}

	reconnect := m.cancelGrace(participant.ID)
	m.reg.Register(roomID, participant.ID, conn)

	snapshot, err := m.buildSnapshot(ctx, room)
	if err != nil {
		return nil, m.internal(roomID, "build snapshot", err)
	}
	m.reg.SendTo(conn, snapshot)

	if reconnect {
		m.log.Info("participant reconnected within grace",
			zap.String("room_id", roomID),
			zap.String("participant_id", participant.ID))
	} else {
		m.broadcastExcept(roomID, participant.ID, protocol.TypeParticipantJoined, protocol.ParticipantJoinedPayload{
			EventID: m.reg.NextEventID(roomID),
			Participant: protocol.ParticipantInfo{
				ParticipantID:   participant.ID,
				DisplayName:     participant.DisplayName,
				Role:            string(participant.Role),
				ConnectionState: string(store.StateConnected),
				AvatarURL:       participant.AvatarURL,
			},
		})
	}

	if err := m.store.TouchRoom(ctx, roomID, m.clock.Now()); err != nil {
		m.log.Warn("touch room failed", zap.String("room_id", roomID), zap.Error(err))
	}
	return participant, nil
}

// Leave handles an explicit client-initiated leave.
func (m *Manager) Leave(ctx context.Context, conn registry.Conn, reason string) error {
	roomID, _, ok := m.reg.Binding(conn)
	if !ok {
		return nil
	}
	if reason == "" {
		reason = protocol.ReasonUserInitiated
	}

	unlock := m.locks.Lock(roomID)
	defer unlock()

	roomID, participantID, ok := m.reg.Unregister(conn)
	if !ok {
		return nil
	}

	m.cancelGrace(participantID)
	if err := m.store.SetParticipantState(ctx, participantID, store.StateLeft); err != nil {
		return m.internal(roomID, "mark left", err)
	}

	m.log.Info("participant left",
		zap.String("room_id", roomID),
		zap.String("participant_id", participantID),
		zap.String("reason", reason))

	m.broadcastExcept(roomID, "", protocol.TypeParticipantLeft, protocol.ParticipantLeftPayload{
		EventID:       m.reg.NextEventID(roomID),
		ParticipantID: participantID,
		Reason:        reason,
	})

	m.reapIfIdle(roomID)
	return nil
}

// Disconnect handles the transport closing without an explicit leave. The
// participant keeps its seat and any cast vote for the grace window; others
// see a participant_disconnected indicator immediately.
func (m *Manager) Disconnect(ctx context.Context, conn registry.Conn) {
	roomID, _, ok := m.reg.Binding(conn)
	if !ok {
		return
	}

	unlock := m.locks.Lock(roomID)
	defer unlock()

	// Release the binding only under the room lock. A reconnect that was
	// inside the locked section when this teardown started has superseded
	// this connection by now, in which case the seat is live and nothing
	// here may touch it.
	roomID, participantID, ok := m.reg.Unregister(conn)
	if !ok {
		return
	}

	if err := m.store.SetParticipantState(ctx, participantID, store.StateDisconnectedGrace); err != nil {
		m.log.Error("mark disconnected failed",
			zap.String("participant_id", participantID), zap.Error(err))
		return
	}

	m.broadcastExcept(roomID, "", protocol.TypeParticipantDisconnected, protocol.ParticipantDisconnectedPayload{
		EventID:            m.reg.NextEventID(roomID),
		ParticipantID:      participantID,
		GracePeriodSeconds: int(m.grace / time.Second),
	})

	m.timersMu.Lock()
	m.timers[participantID] = graceTimer{
		roomID: roomID,
		timer: m.clock.AfterFunc(m.grace, func() {
			m.expireGrace(roomID, participantID)
		}),
	}
	m.timersMu.Unlock()

	m.log.Info("participant entered grace period",
		zap.String("room_id", roomID),
		zap.String("participant_id", participantID),
		zap.Duration("grace", m.grace))
}

// expireGrace fires once per grace timer. If the participant reconnected in
// the meantime the timer was cancelled or the state moved back to connected,
// and this is a no-op.
func (m *Manager) expireGrace(roomID, participantID string) {
	m.timersMu.Lock()
	_, pending := m.timers[participantID]
	delete(m.timers, participantID)
	m.timersMu.Unlock()
	if !pending {
		return
	}

	unlock := m.locks.Lock(roomID)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := m.store.GetParticipant(ctx, participantID)
	if err != nil || p.State != store.StateDisconnectedGrace {
		return
	}
	if err := m.store.SetParticipantState(ctx, participantID, store.StateLeft); err != nil {
		m.log.Error("grace expiry mark left failed",
			zap.String("participant_id", participantID), zap.Error(err))
		return
	}

	m.log.Info("grace period expired",
		zap.String("room_id", roomID),
		zap.String("participant_id", participantID))

	m.broadcastExcept(roomID, "", protocol.TypeParticipantLeft, protocol.ParticipantLeftPayload{
		EventID:       m.reg.NextEventID(roomID),
		ParticipantID: participantID,
		Reason:        protocol.ReasonTimeout,
	})

	m.reapIfIdle(roomID)
}

// cancelGrace stops a pending expiry and reports whether one was pending.
func (m *Manager) cancelGrace(participantID string) bool {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	gt, ok := m.timers[participantID]
	if !ok {
		return false
	}
	gt.timer.Stop()
	delete(m.timers, participantID)
	return true
}

func (m *Manager) gracePending(roomID string) bool {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()
	for _, gt := range m.timers {
		if gt.roomID == roomID {
			return true
		}
	}
	return false
}

// reapIfIdle drops the room's registry entry once nobody is connected and
// nobody can still reconnect within grace.
func (m *Manager) reapIfIdle(roomID string) {
	if m.gracePending(roomID) {
		return
	}
	if m.reg.Reap(roomID) {
		m.log.Debug("reaped empty room", zap.String("room_id", roomID))
	}
}

func (m *Manager) buildSnapshot(ctx context.Context, room *store.Room) ([]byte, error) {
	state, err := roomstate.Build(ctx, m.store, room, m.reg.LastEventID(room.ID))
	if err != nil {
		return nil, err
	}
	return protocol.Encode(protocol.TypeRoomState, "", state)
}

func (m *Manager) broadcastExcept(roomID, exceptParticipantID, msgType string, payload any) {
	data, err := protocol.Encode(msgType, "", payload)
	if err != nil {
		m.log.Error("encode broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}
	if exceptParticipantID == "" {
		m.reg.Broadcast(roomID, data)
		return
	}
	m.reg.BroadcastExcept(roomID, exceptParticipantID, data)
}

func (m *Manager) internal(roomID, op string, err error) error {
	m.log.Error("session manager store failure",
		zap.String("room_id", roomID),
		zap.String("op", op),
		zap.Error(err))
	return protocol.Internal("storage unavailable")
}
