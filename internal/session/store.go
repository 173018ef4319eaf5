package session

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound  = errors.New("session: not found")
	ErrDuplicate = errors.New("session: duplicate call id")
)

// Store is the authoritative in-memory session store. Every mutation goes
// through it, which is the choke point enforcing the no-regression
// invariant. Mirror writes are scheduled by the coordinator after the
// in-memory transition commits, never before.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    func() time.Time
}

func NewStore() *Store {
	return &Store{sessions: map[string]*Session{}, clock: time.Now}
}

// Create inserts a new session in StatusInitiated. Duplicate callIDs are
// rejected so a retried initiate cannot shadow a live session.
func (s *Store) Create(sess Session) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.CallID]; exists {
		return Session{}, ErrDuplicate
	}
	sess.Status = StatusInitiated
	sess.CreatedAt = s.clock().UTC()
	cp := sess
	s.sessions[sess.CallID] = &cp
	return sess, nil
}

// Get returns a copy of the session.
func (s *Store) Get(callID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Transition moves the session to newStatus and applies mutate to the
// record while the store lock is held. It is idempotent against regression:
// if the session is already in newStatus or a later-ranked state, nothing
// changes and the current copy is returned with applied=false.
func (s *Store) Transition(callID string, newStatus CallStatus, mutate func(*Session)) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callID]
	if !ok {
		return Session{}, false, ErrNotFound
	}
	if statusRank[newStatus] <= statusRank[sess.Status] {
		return *sess, false, nil
	}
	sess.Status = newStatus
	now := s.clock().UTC()
	switch {
	case newStatus == StatusAccepted:
		sess.AcceptedAt = now
	case newStatus.Terminal():
		sess.EndedAt = now
	}
	if mutate != nil {
		mutate(sess)
	}
	return *sess, true, nil
}

// Remove deletes the session. Callers remove only after the terminal mirror
// write has been scheduled.
func (s *Store) Remove(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
}

// Terminal returns copies of all sessions in a terminal state.
func (s *Store) Terminal() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Session
	for _, sess := range s.sessions {
		if sess.Status.Terminal() {
			out = append(out, *sess)
		}
	}
	return out
}

// ActiveFor returns the session userID currently participates in, if it is
// in a pre-terminal state.
func (s *Store) ActiveFor(userID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.Status.Terminal() {
			continue
		}
		if sess.HasParticipant(userID) {
			return *sess, true
		}
	}
	return Session{}, false
}
