package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ride-agent/internal/domain"
)

// Memory is an in-process SessionStore for tests and single-node runs. TTL
// expiry is enforced lazily on access and eagerly by Cleanup. Sessions are
// stored as JSON snapshots so callers never share mutable state with the
// store, matching the copy semantics of the network backends.
type Memory struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	version   int64
	expiresAt time.Time
}

// NewMemory creates a memory store. A non-positive ttl disables expiry.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *Memory) Create(_ context.Context, sess *domain.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sessionstore: marshal session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sess.ID] = memoryEntry{
		payload:   payload,
		version:   sess.Version,
		expiresAt: m.deadline(),
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || m.expired(e) {
		delete(m.entries, id)
		return nil, domain.ErrSessionNotFound
	}
	// Access slides the TTL.
	e.expiresAt = m.deadline()
	m.entries[id] = e

	var sess domain.Session
	if err := json.Unmarshal(e.payload, &sess); err != nil {
		return nil, fmt.Errorf("sessionstore: unmarshal session: %w", err)
	}
	return &sess, nil
}

func (m *Memory) Update(_ context.Context, sess *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[sess.ID]
	if !ok || m.expired(e) {
		delete(m.entries, sess.ID)
		return domain.ErrSessionNotFound
	}
	if e.version != sess.Version {
		return domain.ErrVersionConflict
	}

	sess.Version++
	payload, err := json.Marshal(sess)
	if err != nil {
		sess.Version--
		return fmt.Errorf("sessionstore: marshal session: %w", err)
	}
	m.entries[sess.ID] = memoryEntry{
		payload:   payload,
		version:   sess.Version,
		expiresAt: m.deadline(),
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Cleanup drops expired sessions and returns how many were removed. Intended
// to run on a timer from main.
func (m *Memory) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

func (m *Memory) deadline() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && m.now().After(e.expiresAt)
}
