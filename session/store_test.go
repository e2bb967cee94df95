package session

import (
	"testing"
	"time"

	"github.com/medgaze/medgaze/domain"
)

func TestNewIDShapeAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID failed: %v", err)
		}
		if !ValidID(id) {
			t.Fatalf("minted ID %q fails its own validation", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID minted: %s", id)
		}
		seen[id] = true
	}
}

func TestValidIDRejectsJunk(t *testing.T) {
	for _, bad := range []string{"", "short", "zz" + string(make([]byte, 30))} {
		if ValidID(bad) {
			t.Errorf("ValidID(%q) should be false", bad)
		}
	}
}

func TestResolveUnknownMintsFresh(t *testing.T) {
	s := NewStore(time.Hour)

	sess, ctx, err := s.Resolve("deadbeefdeadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if sess.SessionID == "deadbeefdeadbeefdeadbeefdeadbeef" {
		t.Error("unknown identifier should not be adopted")
	}
	if ctx.Len() != 0 || ctx.HasImage() {
		t.Error("fresh session should have an empty context")
	}
}

func TestResolveKnownReturnsSameContext(t *testing.T) {
	s := NewStore(time.Hour)

	sess, ctx, err := s.Create()
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ctx.Append(domain.RoleUser, "q")

	sess2, ctx2, err := s.Resolve(sess.SessionID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if sess2.SessionID != sess.SessionID {
		t.Error("known identifier should resolve to the same session")
	}
	if ctx2 != ctx {
		t.Error("known identifier should resolve to the same context")
	}
}

func TestSessionIsolation(t *testing.T) {
	s := NewStore(time.Hour)

	_, ctxA, _ := s.Create()
	_, ctxB, _ := s.Create()

	ctxA.Append(domain.RoleUser, "only in A")
	ctxA.CommitImage(&domain.Artifact{Data: []byte("img"), MediaType: "image/jpeg"})

	if ctxB.Len() != 0 || ctxB.HasImage() {
		t.Error("mutating one session must not affect another")
	}
}

func TestResetIdempotence(t *testing.T) {
	s := NewStore(time.Hour)

	sess, ctx, _ := s.Create()
	ctx.Append(domain.RoleUser, "q")

	fresh1, freshCtx1, err := s.Reset(sess.SessionID)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if fresh1.SessionID == sess.SessionID {
		t.Error("Reset should mint a distinct identifier")
	}
	if freshCtx1.Len() != 0 {
		t.Error("Reset should yield an empty context")
	}
	if _, _, ok := s.Get(sess.SessionID); ok {
		t.Error("old session should be gone after Reset")
	}

	// Resetting an identifier that is already unknown still mints fresh.
	fresh2, freshCtx2, err := s.Reset("deadbeefdeadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatalf("Reset on unknown failed: %v", err)
	}
	if fresh2.SessionID == fresh1.SessionID {
		t.Error("successive resets should yield distinct credentials")
	}
	if freshCtx2.Len() != 0 {
		t.Error("reset context should be empty")
	}
}

func TestEvictIdleReclaimsStaleSessions(t *testing.T) {
	s := NewStore(10 * time.Millisecond)

	sess, _, _ := s.Create()
	time.Sleep(30 * time.Millisecond)
	s.evictIdle()

	if _, _, ok := s.Get(sess.SessionID); ok {
		t.Error("idle session should have been evicted")
	}
}

func TestEvictIdleSkipsInFlightTurn(t *testing.T) {
	s := NewStore(10 * time.Millisecond)

	sess, ctx, _ := s.Create()
	if !ctx.BeginTurn() {
		t.Fatal("BeginTurn failed")
	}
	time.Sleep(30 * time.Millisecond)
	s.evictIdle()

	if _, _, ok := s.Get(sess.SessionID); !ok {
		t.Error("session with a turn in flight must not be evicted")
	}
	ctx.EndTurn()
}

func TestEvictIdleKeepsActiveSessions(t *testing.T) {
	s := NewStore(time.Hour)

	sess, _, _ := s.Create()
	s.evictIdle()

	if _, _, ok := s.Get(sess.SessionID); !ok {
		t.Error("active session should survive eviction pass")
	}
}
