package triage

import (
	"testing"
	"time"

	"stacksbot/internal/clarify"
)

func TestSessionStoreMintsIDs(t *testing.T) {
	s := NewSessionStore(time.Minute)
	a := s.Get("")
	b := s.Get("")
	if a.ID == "" || b.ID == "" {
		t.Fatal("expected minted ids")
	}
	if a.ID == b.ID {
		t.Fatal("fresh sessions must not share ids")
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	s := NewSessionStore(time.Minute)
	sess := s.Get("")
	sess.State = clarify.StateAwaitingChoice
	sess.OriginalQuestion = "laptop broken"
	sess.Depth = 1
	s.Put(sess)

	got := s.Get(sess.ID)
	if got.State != clarify.StateAwaitingChoice || got.OriginalQuestion != "laptop broken" || got.Depth != 1 {
		t.Errorf("round trip lost state: %+v", got)
	}
}

func TestSessionStoreUnknownIDStartsFresh(t *testing.T) {
	s := NewSessionStore(time.Minute)
	got := s.Get("not-a-real-id")
	if got.State != clarify.StateResolved || got.Depth != 0 {
		t.Errorf("unknown id should yield a fresh session, got %+v", got)
	}
	if got.ID != "not-a-real-id" {
		t.Errorf("caller-supplied id should be kept, got %s", got.ID)
	}
}

func TestSessionStoreExpiry(t *testing.T) {
	s := NewSessionStore(10 * time.Millisecond)
	sess := s.Get("")
	sess.State = clarify.StateAwaitingChoice
	s.Put(sess)

	time.Sleep(30 * time.Millisecond)

	got := s.Get(sess.ID)
	if got.State != clarify.StateResolved {
		t.Error("expired session must come back fresh")
	}

	if pruned := s.Prune(); pruned != 1 {
		t.Errorf("pruned %d sessions, want 1", pruned)
	}
	if s.Len() != 0 {
		t.Errorf("store len = %d after prune, want 0", s.Len())
	}
}
