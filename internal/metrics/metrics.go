package metrics

import "sync/atomic"

// Metrics holds the business counters updated as a side effect of state
// transitions. An observability collaborator scrapes them via GET /stats.
type Metrics struct {
	VotesCast      atomic.Int64
	RoundsStarted  atomic.Int64
	RoundsRevealed atomic.Int64
	RoomsCreated   atomic.Int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"votes_cast":      m.VotesCast.Load(),
		"rounds_started":  m.RoundsStarted.Load(),
		"rounds_revealed": m.RoundsRevealed.Load(),
		"rooms_created":   m.RoomsCreated.Load(),
	}
}
