package swstate

import (
	"fmt"
	"sync"
)

// ConflictError is returned by Tree.Commit when the committed state was not
// derived from the current version.
type ConflictError struct {
	// Current is the state that won the race.
	Current *State
}

func (m *ConflictError) Error() string {
	return fmt.Sprintf("state version conflict: current version is %d", m.Current.Version())
}

// Tree is the versioned copy-on-write switch state.
//
// Readers obtain immutable versions, writers derive a new version and commit
// it. A commit succeeds only if no other commit happened in between.
type Tree struct {
	mu      sync.RWMutex
	current *State
	notify  chan struct{}
}

// NewTree creates a tree with an empty initial version.
func NewTree() *Tree {
	return &Tree{
		current: newEmptyState(),
		notify:  make(chan struct{}),
	}
}

// Read returns the current version.
func (m *Tree) Read() *State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current
}

// Commit replaces the current version with next.
func (m *Tree) Commit(next *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if next.parent != m.current.version || next.version != m.current.version+1 {
		return &ConflictError{Current: m.current}
	}

	m.current = next
	close(m.notify)
	m.notify = make(chan struct{})
	return nil
}

// Changed returns a channel that is closed on the next successful commit.
func (m *Tree) Changed() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.notify
}
