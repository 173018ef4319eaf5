package status

import (
	"sync"
	"time"
)

// Record is the in-memory status entry for one user.
type Record struct {
	UserID           string    `json:"user_id"`
	Status           Status    `json:"status"`
	CurrentCallID    string    `json:"current_call_id,omitempty"`
	LastStatusChange time.Time `json:"last_status_change"`
}

// Store holds user status records. It is the single mutation path for
// status state; callers never hold references into the map.
//
// Invariant: Status == Busy or Ringing implies CurrentCallID != "".
type Store struct {
	mu      sync.Mutex
	records map[string]Record
	clock   func() time.Time
}

func NewStore() *Store {
	return &Store{records: map[string]Record{}, clock: time.Now}
}

// Get returns the record and whether one exists.
func (s *Store) Get(userID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	return r, ok
}

// Set replaces the user's status. Call-bound states must go through SetCall.
func (s *Store) Set(userID string, st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = Record{
		UserID:           userID,
		Status:           st,
		LastStatusChange: s.clock().UTC(),
	}
}

// SetCall moves the user into a call-bound state (Ringing or Busy) tied to
// callID. Other states are stored without a call reference.
func (s *Store) SetCall(userID string, st Status, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Record{
		UserID:           userID,
		Status:           st,
		LastStatusChange: s.clock().UTC(),
	}
	if st == Ringing || st == Busy {
		r.CurrentCallID = callID
	}
	s.records[userID] = r
}

// ClearCall resets the user to Available only if they are still bound to
// callID. A stale clear from an already-superseded call is a no-op.
func (s *Store) ClearCall(userID, callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	if !ok || r.CurrentCallID != callID {
		return
	}
	s.records[userID] = Record{
		UserID:           userID,
		Status:           Available,
		LastStatusChange: s.clock().UTC(),
	}
}

// CallOf returns the call the user is currently bound to, if any.
func (s *Store) CallOf(userID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[userID]
	if !ok || r.CurrentCallID == "" {
		return "", false
	}
	return r.CurrentCallID, true
}

// Remove drops the record entirely (user fully reconciled away).
func (s *Store) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, userID)
}
