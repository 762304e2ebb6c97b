package roomlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLock_SerializesPerRoom(t *testing.T) {
	m := New()
	var order []int
	var mu sync.Mutex

	unlock := m.Lock("room-a")

	done := make(chan struct{})
	go func() {
		u := m.Lock("room-a")
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		u()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the lock")
	}
	require.Equal(t, []int{1, 2}, order)
}

func TestLock_IndependentRooms(t *testing.T) {
	m := New()
	unlockA := m.Lock("room-a")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		u := m.Lock("room-b")
		u()
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated room blocked behind room-a")
	}
}

func TestLock_EntriesDroppedWhenIdle(t *testing.T) {
	m := New()

	unlockA := m.Lock("room-a")
	unlockB := m.Lock("room-b")
	require.Equal(t, 2, m.Len())

	unlockA()
	require.Equal(t, 1, m.Len(), "idle room's entry is gone")
	unlockB()
	require.Equal(t, 0, m.Len())

	// A waiter keeps the entry alive until the last holder unlocks.
	unlock := m.Lock("room-a")
	released := make(chan struct{})
	go func() {
		u := m.Lock("room-a")
		u()
		close(released)
	}()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, m.Len())

	unlock()
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never ran")
	}
	require.Eventually(t, func() bool { return m.Len() == 0 },
		2*time.Second, 10*time.Millisecond)
}
