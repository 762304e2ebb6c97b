package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Conn is the transport handle the registry fans out to. Implementations must
// be comparable (pointers) and safe for concurrent Send.
type Conn interface {
	Send(ctx context.Context, data []byte) error
	Close(reason string) error
}

type binding struct {
	roomID        string
	participantID string
}

// Registry tracks which participant is attached to which live connection,
// sharded by room so unrelated rooms never contend on one lock. It is purely
// in-memory; durable participant state lives in the store and the registry is
// rebuilt from reconnects after a restart.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]*roomConns
	bindings map[Conn]binding

	sendTimeout time.Duration
	log         *zap.Logger
}

type roomConns struct {
	mu      sync.RWMutex
	members map[string]Conn
	// Monotonic per-room event sequence. The entry is kept while anyone may
	// still reconnect within grace, so lastEventId stays continuous for them;
	// it resets only after Reap removes the room.
	seq atomic.Uint64
}

func New(log *zap.Logger) *Registry {
	return &Registry{
		rooms:       make(map[string]*roomConns),
		bindings:    make(map[Conn]binding),
		sendTimeout: 5 * time.Second,
		log:         log,
	}
}

func (r *Registry) room(roomID string) *roomConns {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.rooms[roomID]
	if !ok {
		rc = &roomConns{members: make(map[string]Conn)}
		r.rooms[roomID] = rc
	}
	return rc
}

func (r *Registry) lookupRoom(roomID string) *roomConns {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// Register binds a connection to a participant. If the participant already
// has a live connection the old one is closed first: single active
// connection per participant.
func (r *Registry) Register(roomID, participantID string, conn Conn) {
	rc := r.room(roomID)

	var old Conn
	rc.mu.Lock()
	if prev, ok := rc.members[participantID]; ok && prev != conn {
		old = prev
	}
	rc.members[participantID] = conn
	rc.mu.Unlock()

	r.mu.Lock()
	if old != nil {
		delete(r.bindings, old)
	}
	r.bindings[conn] = binding{roomID: roomID, participantID: participantID}
	r.mu.Unlock()

	if old != nil {
		// Outside all locks: Close may wake the old connection's read loop.
		if err := old.Close("superseded by new connection"); err != nil {
			r.log.Debug("close superseded connection", zap.Error(err))
		}
		r.log.Info("superseded connection closed",
			zap.String("room_id", roomID),
			zap.String("participant_id", participantID))
	}
}

// Binding reports the (room, participant) pair a connection is bound to
// without releasing it. A superseded connection reports ok=false.
func (r *Registry) Binding(conn Conn) (roomID, participantID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, found := r.bindings[conn]
	return b.roomID, b.participantID, found
}

// Unregister removes a binding and reports which (room, participant) pair was
// released. Unknown connections report ok=false; a connection superseded by a
// re-register has already been released and also reports ok=false.
func (r *Registry) Unregister(conn Conn) (roomID, participantID string, ok bool) {
	r.mu.Lock()
	b, found := r.bindings[conn]
	if found {
		delete(r.bindings, conn)
	}
	r.mu.Unlock()
	if !found {
		return "", "", false
	}

	if rc := r.lookupRoom(b.roomID); rc != nil {
		rc.mu.Lock()
		if rc.members[b.participantID] == conn {
			delete(rc.members, b.participantID)
		}
		rc.mu.Unlock()
	}
	return b.roomID, b.participantID, true
}

// SendTo delivers one frame to one connection, best effort. Failures are
// logged and never escalated to the caller.
func (r *Registry) SendTo(conn Conn, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, data); err != nil {
		r.log.Warn("send to connection failed", zap.Error(err))
	}
}

// Broadcast fans a frame out to every connection currently bound to the room.
// The member set is snapshotted first so concurrent register/unregister never
// blocks or aborts the fan-out, and one failed recipient never stops delivery
// to the rest.
func (r *Registry) Broadcast(roomID string, data []byte) {
	r.broadcast(roomID, "", data)
}

// BroadcastExcept is Broadcast minus one participant, used for events the
// excluded participant already received directly (e.g. its own snapshot).
func (r *Registry) BroadcastExcept(roomID, exceptParticipantID string, data []byte) {
	r.broadcast(roomID, exceptParticipantID, data)
}

func (r *Registry) broadcast(roomID, except string, data []byte) {
	rc := r.lookupRoom(roomID)
	if rc == nil {
		return
	}

	rc.mu.RLock()
	targets := make([]Conn, 0, len(rc.members))
	for pid, conn := range rc.members {
		if except != "" && pid == except {
			continue
		}
		targets = append(targets, conn)
	}
	rc.mu.RUnlock()

	for _, conn := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
		if err := conn.Send(ctx, data); err != nil {
			r.log.Warn("broadcast send failed, skipping recipient",
				zap.String("room_id", roomID),
				zap.Error(err))
		}
		cancel()
	}
}

// NextEventID advances and returns the room's monotonic event sequence.
// Callers serialize per room, so the id order matches delivery order.
func (r *Registry) NextEventID(roomID string) uint64 {
	return r.room(roomID).seq.Add(1)
}

// LastEventID returns the room's current sequence value without advancing it.
func (r *Registry) LastEventID(roomID string) uint64 {
	return r.room(roomID).seq.Load()
}

// Reap removes the room's in-memory entry if no connections remain, so the
// rooms map does not grow with every room ever seen. Callers must first check
// that nobody is inside a grace window for the room, since reaping resets the
// event sequence. Reports whether the entry was removed.
func (r *Registry) Reap(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	rc.mu.RLock()
	empty := len(rc.members) == 0
	rc.mu.RUnlock()
	if !empty {
		return false
	}
	delete(r.rooms, roomID)
	return true
}

func (r *Registry) RoomSize(roomID string) int {
	rc := r.lookupRoom(roomID)
	if rc == nil {
		return 0
	}
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.members)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
