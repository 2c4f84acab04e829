package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"emocall/internal/domain"
)

func TestMemoryCallsListNewestFirst(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	for _, start := range []int64{1000, 3000, 2000} {
		if _, err := m.CreateCall(ctx, domain.RecordedCall{UserID: "u1", StartTime: start}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if _, err := m.CreateCall(ctx, domain.RecordedCall{UserID: "u2", StartTime: 9000}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	calls, err := m.ListCalls(ctx, "u1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(calls) != 3 || calls[0].StartTime != 3000 || calls[2].StartTime != 1000 {
		t.Fatalf("unexpected order: %+v", calls)
	}
	if calls[0].Emotions == nil || calls[0].CreatedAt.IsZero() {
		t.Fatalf("expected defaults filled: %+v", calls[0])
	}

	none, err := m.ListCalls(ctx, "nobody")
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil list, got %v %v", none, err)
	}
}

func TestMemoryGetCallCopiesEmotions(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	id, _ := m.CreateCall(ctx, domain.RecordedCall{
		UserID:   "u1",
		Emotions: []domain.EmotionEvent{{Emotion: "happy", Confidence: 0.9}},
	})

	call, err := m.GetCall(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	call.Emotions[0].Emotion = "mutated"

	again, _ := m.GetCall(ctx, id)
	if again.Emotions[0].Emotion != "happy" {
		t.Fatalf("stored call leaked")
	}

	if _, err := m.GetCall(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryProfilesAndRoles(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return created }

	if err := m.PutProfile(ctx, domain.Profile{UID: "a", DisplayName: "Zed", Email: "z@example.com"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	m.now = func() time.Time { return created.Add(time.Hour) }
	if err := m.PutProfile(ctx, domain.Profile{UID: "a", DisplayName: "Zed Two"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	profile, err := m.GetProfile(ctx, "a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !profile.CreatedAt.Equal(created) || !profile.LastUpdated.Equal(created.Add(time.Hour)) {
		t.Fatalf("unexpected timestamps: %+v", profile)
	}

	if err := m.SetRole(ctx, "a", domain.UserRole{Role: domain.RoleSupervisor, Permissions: []string{"share"}}); err != nil {
		t.Fatalf("set role failed: %v", err)
	}
	if err := m.SetRole(ctx, "b", domain.UserRole{Role: domain.RoleSupervisor}); err != nil {
		t.Fatalf("set role failed: %v", err)
	}
	supervisors, err := m.ListByRole(ctx, domain.RoleSupervisor)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(supervisors) != 2 || supervisors[0].UID != "b" || supervisors[1].DisplayName != "Zed Two" {
		t.Fatalf("unexpected supervisors: %+v", supervisors)
	}

	if _, err := m.GetProfile(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryShares(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()
	id, _ := m.CreateCall(ctx, domain.RecordedCall{UserID: "owner"})

	if _, err := m.ShareCall(ctx, "missing", "peer"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	share, err := m.ShareCall(ctx, id, "peer")
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}
	if share.Status != domain.SharedCallPending || share.ID == "" {
		t.Fatalf("unexpected share: %+v", share)
	}

	shares, err := m.ListSharedWith(ctx, "peer")
	if err != nil || len(shares) != 1 || shares[0].CallID != id {
		t.Fatalf("unexpected shares: %+v %v", shares, err)
	}
}
