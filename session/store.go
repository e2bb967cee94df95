package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/medgaze/medgaze/domain"
)

const (
	// idLength is the session identifier length in bytes before hex
	// encoding. 16 bytes = 128 bits of entropy, enough that concurrently
	// minted identifiers cannot collide in practice.
	idLength = 16

	// janitorInterval is how often idle sessions are swept.
	janitorInterval = 1 * time.Minute
)

// NewID mints a cryptographically random session identifier.
func NewID() (string, error) {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidID reports whether s is shaped like an identifier this store mints.
// Anything else is treated as absent, never as an error.
func ValidID(s string) bool {
	if len(s) != idLength*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

type entry struct {
	sess *domain.Session
	ctx  *Context
}

// Store is the process-wide mapping from session identifier to conversation
// context. The map lock and the per-context turn lock are distinct
// granularities; Store methods never touch a context's turn lock while
// holding the map lock, except for the janitor's non-blocking TryLock probe.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewStore creates a store whose entries are evictable after ttl of
// inactivity. The janitor is not started until Start is called.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
}

// Start launches the background eviction loop.
func (s *Store) Start() {
	s.wg.Add(1)
	go s.janitor()
}

// Close stops the eviction loop.
func (s *Store) Close() {
	close(s.done)
	s.wg.Wait()
}

// Get resolves an identifier to its session and context.
func (s *Store) Get(id string) (*domain.Session, *Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[id]
	if !ok {
		return nil, nil, false
	}
	return e.sess, e.ctx, true
}

// Create mints a fresh session with an empty context.
func (s *Store) Create() (*domain.Session, *Context, error) {
	id, err := NewID()
	if err != nil {
		return nil, nil, err
	}
	sess := &domain.Session{SessionID: id, CreatedAt: time.Now()}
	ctx := NewContext()

	s.mu.Lock()
	s.sessions[id] = &entry{sess: sess, ctx: ctx}
	s.mu.Unlock()

	return sess, ctx, nil
}

// Resolve maps an inbound credential to a live session, minting a fresh one
// when the credential is missing, malformed or unknown. A stale session
// silently becomes a new, empty one.
func (s *Store) Resolve(id string) (*domain.Session, *Context, error) {
	if ValidID(id) {
		if sess, ctx, ok := s.Get(id); ok {
			ctx.Touch()
			return sess, ctx, nil
		}
	}
	return s.Create()
}

// Delete drops a session. Unknown identifiers are a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Reset atomically drops the identified session (if any) and mints a fresh
// one in its place. Resetting an unknown identifier still yields a fresh
// session.
func (s *Store) Reset(id string) (*domain.Session, *Context, error) {
	if id != "" {
		s.Delete(id)
	}
	return s.Create()
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) janitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictIdle()
		}
	}
}

// evictIdle reclaims sessions idle beyond the TTL. A session actively
// executing a turn holds its turn lock, so the TryLock probe skips it.
func (s *Store) evictIdle() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.RLock()
	candidates := make(map[string]*entry)
	for id, e := range s.sessions {
		if e.ctx.IdleSince().Before(cutoff) {
			candidates[id] = e
		}
	}
	s.mu.RUnlock()

	for id, e := range candidates {
		if !e.ctx.turnMu.TryLock() {
			continue // turn in flight, never evict mid-turn
		}
		// Re-check idleness under the turn lock; a turn may have finished
		// between the scan and the probe.
		stale := e.ctx.IdleSince().Before(cutoff)
		e.ctx.turnMu.Unlock()
		if stale {
			s.Delete(id)
		}
	}
}
