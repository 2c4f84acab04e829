package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"

	"emocall/internal/domain"
)

func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("EMOCALL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EMOCALL_TEST_POSTGRES_DSN not set")
	}
	pg, err := OpenPostgres(context.Background(), dsn, PoolConfig{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = pg.Close() })
	return pg
}

func TestPostgresCallsRoundTrip(t *testing.T) {
	pg := openTestPostgres(t)
	ctx := context.Background()
	user := "user-" + uuid.NewString()

	id, err := pg.CreateCall(ctx, domain.RecordedCall{
		UserID:    user,
		AudioRef:  "blob://recordings/x.webm",
		Emotions:  []domain.EmotionEvent{{Emotion: "happy", Confidence: 0.7, Timestamp: 1500}},
		StartTime: 1000,
		EndTime:   4000,
		Duration:  3000,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := pg.CreateCall(ctx, domain.RecordedCall{UserID: user, StartTime: 5000, EndTime: 6000, Duration: 1000}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	calls, err := pg.ListCalls(ctx, user)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(calls) != 2 || calls[0].StartTime != 5000 || len(calls[0].Emotions) != 0 {
		t.Fatalf("unexpected calls: %+v", calls)
	}

	call, err := pg.GetCall(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if call.Emotions[0].Emotion != "happy" || call.Duration != 3000 {
		t.Fatalf("unexpected call: %+v", call)
	}
	if _, err := pg.GetCall(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	share, err := pg.ShareCall(ctx, id, "peer-"+user)
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}
	shares, err := pg.ListSharedWith(ctx, "peer-"+user)
	if err != nil || len(shares) != 1 || shares[0].ID != share.ID {
		t.Fatalf("unexpected shares: %+v %v", shares, err)
	}
	if _, err := pg.ShareCall(ctx, uuid.NewString(), "peer"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing call, got %v", err)
	}
}

func TestPostgresProfiles(t *testing.T) {
	pg := openTestPostgres(t)
	ctx := context.Background()
	uid := "uid-" + uuid.NewString()

	if err := pg.PutProfile(ctx, domain.Profile{UID: uid, Email: "a@example.com", DisplayName: "A"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	role := "role-" + uid
	if err := pg.SetRole(ctx, uid, domain.UserRole{Role: role, Permissions: []string{"view"}}); err != nil {
		t.Fatalf("set role failed: %v", err)
	}

	profile, err := pg.GetProfile(ctx, uid)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if profile.Email != "a@example.com" || profile.Role != role || len(profile.Permissions) != 1 {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	listed, err := pg.ListByRole(ctx, role)
	if err != nil || len(listed) != 1 {
		t.Fatalf("unexpected list: %+v %v", listed, err)
	}
}
