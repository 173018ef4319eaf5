package rates

import (
	"context"
	"testing"
	"time"
)

func TestRateFor_DefaultsWithoutRepo(t *testing.T) {
	s := NewService(nil, 200, 1000)

	audio, err := s.RateFor(context.Background(), CallTypeAudio, "u1")
	if err != nil || audio != 200 {
		t.Fatalf("expected audio default 200, got %d err=%v", audio, err)
	}
	video, err := s.RateFor(context.Background(), CallTypeVideo, "u1")
	if err != nil || video != 1000 {
		t.Fatalf("expected video default 1000, got %d err=%v", video, err)
	}
}

func TestRateFor_RejectsUnknownType(t *testing.T) {
	s := NewService(nil, 200, 1000)
	if _, err := s.RateFor(context.Background(), CallType("screen"), "u1"); err != ErrInvalidRateReq {
		t.Fatalf("expected ErrInvalidRateReq, got %v", err)
	}
}

func TestRateFor_PerUserOverrideWins(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := &MemoryRepo{Rates: []Rate{
		{ID: "default", CallType: CallTypeAudio, RateMilli: 300, EffectiveFrom: now.Add(-time.Hour)},
		{ID: "promo", CallType: CallTypeAudio, UserID: "u1", RateMilli: 100, EffectiveFrom: now.Add(-time.Hour)},
	}}
	s := NewService(repo, 200, 1000)
	s.clock = func() time.Time { return now }

	got, err := s.RateFor(context.Background(), CallTypeAudio, "u1")
	if err != nil || got != 100 {
		t.Fatalf("expected override 100, got %d err=%v", got, err)
	}

	other, err := s.RateFor(context.Background(), CallTypeAudio, "u2")
	if err != nil || other != 300 {
		t.Fatalf("expected default row 300, got %d err=%v", other, err)
	}
}

func TestRateFor_ExpiredRowFallsBack(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	gone := now.Add(-time.Minute)
	repo := &MemoryRepo{Rates: []Rate{
		{ID: "old", CallType: CallTypeVideo, RateMilli: 500, EffectiveFrom: now.Add(-time.Hour), EffectiveTo: &gone},
	}}
	s := NewService(repo, 200, 1000)
	s.clock = func() time.Time { return now }

	got, err := s.RateFor(context.Background(), CallTypeVideo, "u1")
	if err != nil || got != 1000 {
		t.Fatalf("expected config default 1000, got %d err=%v", got, err)
	}
}
