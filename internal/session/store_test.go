package session

import (
	"testing"
	"time"
)

func TestStoreCreateRejectsDuplicateCallID(t *testing.T) {
	s := NewStore()
	if _, err := s.Create(Session{CallID: "c1", CallerID: "a", RecipientID: "b"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Create(Session{CallID: "c1", CallerID: "x", RecipientID: "y"}); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestStoreTransitionNeverRegresses(t *testing.T) {
	s := NewStore()
	s.Create(Session{CallID: "c1", CallerID: "a", RecipientID: "b"})

	if _, applied, _ := s.Transition("c1", StatusRinging, nil); !applied {
		t.Fatalf("initiated -> ringing should apply")
	}
	if _, applied, _ := s.Transition("c1", StatusAccepted, nil); !applied {
		t.Fatalf("ringing -> accepted should apply")
	}
	if _, applied, _ := s.Transition("c1", StatusRinging, nil); applied {
		t.Fatalf("accepted -> ringing must not apply")
	}
	if _, applied, _ := s.Transition("c1", StatusEnded, nil); !applied {
		t.Fatalf("accepted -> ended should apply")
	}
	// Terminal states share a rank; one can never replace another.
	sess, applied, _ := s.Transition("c1", StatusCancelled, nil)
	if applied || sess.Status != StatusEnded {
		t.Fatalf("terminal state was replaced: %+v", sess)
	}
}

func TestStoreTransitionStampsTimestamps(t *testing.T) {
	s := NewStore()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return base }
	s.Create(Session{CallID: "c1", CallerID: "a", RecipientID: "b"})

	s.Transition("c1", StatusRinging, nil)
	sess, _, _ := s.Transition("c1", StatusAccepted, nil)
	if !sess.AcceptedAt.Equal(base) {
		t.Fatalf("expected AcceptedAt stamped, got %v", sess.AcceptedAt)
	}

	later := base.Add(90 * time.Second)
	s.clock = func() time.Time { return later }
	sess, _, _ = s.Transition("c1", StatusEnded, func(x *Session) { x.EndReason = ReasonUserEnd })
	if !sess.EndedAt.Equal(later) {
		t.Fatalf("expected EndedAt stamped, got %v", sess.EndedAt)
	}
	if sess.EndReason != ReasonUserEnd {
		t.Fatalf("mutate must apply under the same lock")
	}
}

func TestStoreActiveForSkipsTerminalSessions(t *testing.T) {
	s := NewStore()
	s.Create(Session{CallID: "c1", CallerID: "a", RecipientID: "b"})
	s.Transition("c1", StatusEnded, nil)
	if _, ok := s.ActiveFor("a"); ok {
		t.Fatalf("terminal session must not count as active")
	}

	s.Create(Session{CallID: "c2", CallerID: "a", RecipientID: "c"})
	s.Transition("c2", StatusRinging, nil)
	sess, ok := s.ActiveFor("a")
	if !ok || sess.CallID != "c2" {
		t.Fatalf("expected c2 active for a, got %+v ok=%v", sess, ok)
	}
	if sess, ok := s.ActiveFor("c"); !ok || sess.CallID != "c2" {
		t.Fatalf("recipient participates too")
	}
}

func TestStoreTerminalListsOnlyFinishedSessions(t *testing.T) {
	s := NewStore()
	s.Create(Session{CallID: "c1", CallerID: "a", RecipientID: "b"})
	s.Create(Session{CallID: "c2", CallerID: "c", RecipientID: "d"})
	s.Transition("c1", StatusDeclined, nil)

	terms := s.Terminal()
	if len(terms) != 1 || terms[0].CallID != "c1" {
		t.Fatalf("expected only c1 terminal, got %+v", terms)
	}
}
