// Package session holds the process-wide session store and the per-session
// conversation context.
package session

import (
	"sync"
	"time"

	"github.com/medgaze/medgaze/domain"
)

// Context is the conversation state owned by exactly one session: the ordered
// turn history plus the single stored image artifact.
//
// Two locks with distinct jobs: turnMu serializes whole turns (held across
// the model call, acquired with BeginTurn), mu guards field access and is
// never held across anything that blocks. Acquire turnMu before mu, never
// the other way around.
type Context struct {
	turnMu sync.Mutex

	mu       sync.Mutex
	artifact *domain.Artifact
	turns    []domain.Turn
	lastUsed time.Time
}

// NewContext creates an empty conversation context.
func NewContext() *Context {
	return &Context{lastUsed: time.Now()}
}

// BeginTurn claims the session for one turn. It returns false if another
// turn is already in flight; the caller should surface a busy condition
// rather than wait.
func (c *Context) BeginTurn() bool {
	if !c.turnMu.TryLock() {
		return false
	}
	c.Touch()
	return true
}

// EndTurn releases the per-turn claim taken by BeginTurn.
func (c *Context) EndTurn() {
	c.Touch()
	c.turnMu.Unlock()
}

// HasImage reports whether the session has committed its image.
func (c *Context) HasImage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact != nil
}

// Artifact returns the stored image artifact, or nil if none is committed.
func (c *Context) Artifact() *domain.Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

// CommitImage stores the artifact if the context has none yet. The first
// commit wins for the life of the session; later calls are no-ops and
// return false.
func (c *Context) CommitImage(a *domain.Artifact) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifact != nil {
		return false
	}
	c.artifact = a
	return true
}

// Turns returns a copy of the history, safe to use after the lock drops.
func (c *Context) Turns() []domain.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of stored turns.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Append adds a turn to the history. Append is the only mutation the
// history supports; there are no edits, deletes or reorders.
func (c *Context) Append(role domain.Role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, domain.Turn{Role: role, Text: text})
}

// TruncateTo discards turns beyond n. Used only to roll back a tentatively
// appended user turn when the model call fails, so history never shows a
// user query without its answer.
func (c *Context) TruncateTo(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n >= 0 && n < len(c.turns) {
		c.turns = c.turns[:n]
	}
}

// Touch marks the context as recently used for TTL accounting.
func (c *Context) Touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// IdleSince returns the last time the context was used.
func (c *Context) IdleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}
