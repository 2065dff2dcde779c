package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the engine's session-store interface (§6): load, save, delete.
// Implementations (this package's in-memory Manager, or
// internal/sessionstore/redis) must serialize concurrent Save calls for the
// same session_id so that lease-expiry detection is race-free.
type Store interface {
	// Load returns ErrNotFound if no state is on record for sessionID.
	Load(ctx context.Context, sessionID string) (State, Lease, error)

	// Save writes state under sessionID, guarded by lease. It returns
	// ErrLeaseExpired if lease no longer matches what the store holds.
	// A fresh session (no prior Load) Saves with a zero-value Lease.
	Save(ctx context.Context, sessionID string, state State, lease Lease) error

	Delete(ctx context.Context, sessionID string) error
}

// Locker grants exclusive per-session advisory locks so the stateless
// executor (C9) can serialize the read-modify-write cycle of one session's
// state across concurrent requests (§5).
type Locker interface {
	// Lock blocks until the advisory lock for sessionID is acquired or ctx
	// is cancelled, then returns a release function. release must be
	// called exactly once.
	Lock(ctx context.Context, sessionID string) (release func(), err error)
}

// Manager is the engine's in-memory Store and Locker, used by tests and by
// embedders who do not run a Redis session store. One mutex guards the
// stored sessions; Lock hands out a separate mutex per session_id. TTL
// expiry is enforced lazily, on Load.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	locks    map[string]*sync.Mutex
}

type entry struct {
	state   State
	lease   Lease
	expires time.Time
}

// NewManager returns an empty in-memory session manager.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// Lock implements Locker.
func (m *Manager) Lock(ctx context.Context, sessionID string) (func(), error) {
	l := m.lockFor(sessionID)
	done := make(chan struct{})
	go func() {
		l.Lock()
		close(done)
	}()
	select {
	case <-done:
		return l.Unlock, nil
	case <-ctx.Done():
		go func() { <-done; l.Unlock() }()
		return nil, ctx.Err()
	}
}

// Load implements Store.
func (m *Manager) Load(_ context.Context, sessionID string) (State, Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[sessionID]
	if !ok {
		return State{}, Lease{}, ErrNotFound
	}
	if e.state.Config.SessionTTL > 0 && time.Now().After(e.expires) {
		delete(m.sessions, sessionID)
		return State{}, Lease{}, ErrNotFound
	}
	return e.state, e.lease, nil
}

// Save implements Store. A new lease token is minted for every successful
// Save; callers read the returned state's lease off the subsequent Load.
func (m *Manager) Save(_ context.Context, sessionID string, state State, lease Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[sessionID]; ok {
		if e.lease.Token != lease.Token {
			return ErrLeaseExpired
		}
	}

	next := Lease{Token: uuid.New().String(), ExpiresAt: time.Now().Add(leaseWindow)}
	expires := time.Now().Add(state.Config.SessionTTL)
	if state.Config.SessionTTL <= 0 {
		expires = time.Now().Add(defaultTTL)
	}
	m.sessions[sessionID] = &entry{state: state, lease: next, expires: expires}
	return nil
}

// Delete implements Store.
func (m *Manager) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

const (
	leaseWindow = 30 * time.Second
	defaultTTL  = 1 * time.Hour
)
