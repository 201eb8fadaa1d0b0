package jobs

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	state    State
	payload  Payload
	cancel   bool
	expireAt time.Time
}

// Memory is an in-process Store for single-binary deployments and tests.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*memEntry
}

// NewMemory creates a store whose entries expire ttl after their last write.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]*memEntry)}
}

func (m *Memory) lookup(id string) (*memEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.now().After(e.expireAt) {
		delete(m.entries, id)
		return nil, ErrNotFound
	}
	return e, nil
}

// evict drops every expired entry, including jobs nobody asks about again.
func (m *Memory) evict() {
	now := m.now()
	for id, e := range m.entries {
		if now.After(e.expireAt) {
			delete(m.entries, id)
		}
	}
}

// Create stores a new job and evicts expired ones.
func (m *Memory) Create(_ context.Context, st State, p Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict()
	m.entries[st.ID] = &memEntry{state: st, payload: p, expireAt: m.now().Add(m.ttl)}
	return nil
}

// Get returns a job's state.
func (m *Memory) Get(_ context.Context, id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return State{}, err
	}
	return e.state, nil
}

// Payload returns a job's input.
func (m *Memory) Payload(_ context.Context, id string) (Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return Payload{}, err
	}
	return e.payload, nil
}

// Update applies fn under the store lock.
func (m *Memory) Update(_ context.Context, id string, fn func(*State) error) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return State{}, err
	}
	next := e.state
	if err := fn(&next); err != nil {
		return e.state, err
	}
	next.UpdatedAt = m.now().UTC()
	e.state = next
	e.expireAt = m.now().Add(m.ttl)
	return next, nil
}

// Cancel flags the job.
func (m *Memory) Cancel(_ context.Context, id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return State{}, err
	}
	if err := applyCancel(&e.state, m.now()); err != nil {
		return e.state, err
	}
	e.cancel = true
	return e.state, nil
}

// CancelRequested reports whether Cancel was called.
func (m *Memory) CancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	return e.cancel, nil
}
