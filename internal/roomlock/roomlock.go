package roomlock

import "sync"

// Map hands out one mutex per room so state-mutating operations are
// serialized per room, not globally. The session manager and the round
// coordinator share one Map: a join and a reveal on the same room never
// interleave, while unrelated rooms proceed concurrently.
//
// Entries are reference counted and dropped when the last holder unlocks,
// so the map stays proportional to the rooms with in-flight operations
// rather than every room ever seen.
type Map struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *Map {
	return &Map{locks: make(map[string]*entry)}
}

// Lock acquires the room's mutex and returns its unlock func.
func (m *Map) Lock(roomID string) func() {
	m.mu.Lock()
	e, ok := m.locks[roomID]
	if !ok {
		e = &entry{}
		m.locks[roomID] = e
	}
	e.refs++
	m.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		m.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(m.locks, roomID)
		}
		m.mu.Unlock()
	}
}

// Len reports how many rooms currently have an in-flight operation.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
