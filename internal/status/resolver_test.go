package status

import (
	"context"
	"errors"
	"testing"
)

type fakePresence map[string]bool

func (f fakePresence) IsOnline(userID string) bool { return f[userID] }

type failingPrefs struct{}

func (failingPrefs) Get(ctx context.Context, userID string) (bool, bool, error) {
	return false, false, errors.New("db down")
}
func (failingPrefs) Set(ctx context.Context, userID string, optedIn bool) error {
	return errors.New("db down")
}

func TestResolveExplicitStatusWinsOverPreference(t *testing.T) {
	statuses := NewStore()
	statuses.Set("u1", Unavailable)
	prefs := NewMemoryPrefRepo()
	prefs.Prefs["u1"] = true

	r := &Resolver{Statuses: statuses, Prefs: prefs, Presence: fakePresence{"u1": true}}
	res := r.Resolve(context.Background(), "u1")
	if res.Status != Unavailable {
		t.Fatalf("explicit status must win, got %q", res.Status)
	}
}

func TestResolveFallsBackToPreference(t *testing.T) {
	prefs := NewMemoryPrefRepo()
	prefs.Prefs["optout"] = false

	r := &Resolver{Statuses: NewStore(), Prefs: prefs, Presence: fakePresence{"optout": true, "fresh": true}}

	if res := r.Resolve(context.Background(), "optout"); res.Status != Unavailable {
		t.Fatalf("opted-out pref must resolve unavailable, got %q", res.Status)
	}
	// No status and no pref row defaults to available.
	if res := r.Resolve(context.Background(), "fresh"); res.Status != Available || !res.Online {
		t.Fatalf("unknown user must default available, got %+v", res)
	}
}

func TestResolveDegradesOnPreferenceError(t *testing.T) {
	r := &Resolver{Statuses: NewStore(), Prefs: failingPrefs{}, Presence: fakePresence{"u1": true}}
	if res := r.Resolve(context.Background(), "u1"); res.Status != Available {
		t.Fatalf("preference store failure must degrade to available, got %q", res.Status)
	}
}

func TestResolveReportsOfflinePresence(t *testing.T) {
	r := &Resolver{Statuses: NewStore(), Prefs: NewMemoryPrefRepo(), Presence: fakePresence{}}
	res := r.Resolve(context.Background(), "ghost")
	if res.Online {
		t.Fatalf("expected offline")
	}
	if res.Status != Available {
		t.Fatalf("offline-but-opted-in stays available for the alternate ring path, got %q", res.Status)
	}
}
