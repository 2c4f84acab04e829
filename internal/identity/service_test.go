package identity

import (
	"context"
	"errors"
	"testing"

	"emocall/internal/domain"
	"emocall/internal/store"
)

type fakeAuth struct {
	user      *domain.User
	signUpErr error
	updates   []domain.ProfileUpdate
}

func (f *fakeAuth) SignIn(_ context.Context, email, _ string) (*domain.User, error) {
	f.user = &domain.User{UID: "uid-" + email, Email: email}
	return f.user, nil
}

func (f *fakeAuth) SignUp(_ context.Context, email, _, name string) (*domain.User, error) {
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	f.user = &domain.User{UID: "uid-" + email, Email: email, DisplayName: name}
	return f.user, nil
}

func (f *fakeAuth) UpdateProfile(_ context.Context, update domain.ProfileUpdate) error {
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeAuth) CurrentUser() *domain.User {
	return f.user
}

func newTestService(auth *fakeAuth) (*Service, *store.Memory, *store.MemoryBlobs) {
	mem := store.NewMemory()
	blobs := store.NewMemoryBlobs()
	return NewService(auth, Stores{Profiles: mem, Calls: mem, Shares: mem, Blobs: blobs}, nil), mem, blobs
}

func TestSignUpCreatesAgentProfile(t *testing.T) {
	t.Parallel()

	svc, mem, _ := newTestService(&fakeAuth{})
	user, err := svc.SignUp(context.Background(), " new@example.com ", "secret", " New ")
	if err != nil {
		t.Fatalf("sign up failed: %v", err)
	}

	profile, err := mem.GetProfile(context.Background(), user.UID)
	if err != nil {
		t.Fatalf("expected profile: %v", err)
	}
	if profile.Email != "new@example.com" || profile.DisplayName != "New" || profile.Role != domain.RoleAgent {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if !svc.HasPermission(context.Background(), user.UID, PermMakeCalls) {
		t.Fatalf("expected agent permissions")
	}
	if svc.CanShare(context.Background(), user.UID) {
		t.Fatalf("agents must not share")
	}

	failing, _, _ := newTestService(&fakeAuth{signUpErr: errors.New("EMAIL_EXISTS")})
	if _, err := failing.SignUp(context.Background(), "x@example.com", "secret", "X"); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestUpdateProfileAndPicture(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{}
	svc, mem, blobs := newTestService(auth)
	ctx := context.Background()

	name := "Renamed"
	if err := svc.UpdateProfile(ctx, domain.ProfileUpdate{DisplayName: &name}); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("expected ErrNotSignedIn, got %v", err)
	}

	auth.user = &domain.User{UID: "u1", Email: "u1@example.com", DisplayName: "Before"}
	if err := svc.UpdateProfile(ctx, domain.ProfileUpdate{DisplayName: &name}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	profile, _ := mem.GetProfile(ctx, "u1")
	if profile.DisplayName != "Renamed" || profile.Email != "u1@example.com" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	ref, err := svc.UpdateProfilePicture(ctx, "image/png", []byte{0x89, 'P', 'N', 'G'})
	if err != nil {
		t.Fatalf("picture failed: %v", err)
	}
	if ref != "blob://profile-pictures/u1" || blobs.ContentType("profile-pictures/u1") != "image/png" {
		t.Fatalf("unexpected picture ref %q", ref)
	}
	profile, _ = mem.GetProfile(ctx, "u1")
	if profile.PhotoURL != ref || profile.DisplayName != "Renamed" {
		t.Fatalf("unexpected profile after picture: %+v", profile)
	}
	if len(auth.updates) != 2 || *auth.updates[1].PhotoURL != ref {
		t.Fatalf("expected provider updates, got %+v", auth.updates)
	}

	if _, err := svc.UpdateProfilePicture(ctx, "image/png", nil); err == nil {
		t.Fatalf("expected empty picture to be rejected")
	}
}

func TestSetRoleRequiresManageUsers(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{user: &domain.User{UID: "boss"}}
	svc, mem, _ := newTestService(auth)
	ctx := context.Background()

	if err := svc.SetRole(ctx, "u2", domain.RoleSupervisor); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}

	if err := mem.SetRole(ctx, "boss", domain.UserRole{Role: domain.RoleAdmin, Permissions: RolePermissions(domain.RoleAdmin)}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if err := svc.SetRole(ctx, "u2", "janitor"); err == nil {
		t.Fatalf("expected unknown role error")
	}
	if err := svc.SetRole(ctx, "u2", domain.RoleSupervisor); err != nil {
		t.Fatalf("set role failed: %v", err)
	}

	role, err := svc.Role(ctx, "u2")
	if err != nil || role.Role != domain.RoleSupervisor || len(role.Permissions) != 4 {
		t.Fatalf("unexpected role: %+v %v", role, err)
	}
	if !svc.CanShare(ctx, "u2") {
		t.Fatalf("supervisors can share")
	}

	users, err := svc.Users(ctx)
	if err != nil || len(users) != 2 || users[0].UID != "boss" {
		t.Fatalf("unexpected users: %+v %v", users, err)
	}

	if role, err := svc.Role(ctx, "nobody"); err != nil || role.Role != "" {
		t.Fatalf("expected empty role for missing user: %+v %v", role, err)
	}
}

func TestShareCallFlow(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{user: &domain.User{UID: "agent"}}
	svc, mem, _ := newTestService(auth)
	ctx := context.Background()

	callID, _ := mem.CreateCall(ctx, domain.RecordedCall{UserID: "owner", StartTime: 1})
	_ = mem.SetRole(ctx, "agent", domain.UserRole{Role: domain.RoleAgent})
	_ = mem.SetRole(ctx, "peer", domain.UserRole{Role: domain.RoleAgent})

	if _, err := svc.ShareCall(ctx, callID, "peer"); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected agents to be denied, got %v", err)
	}
	if _, err := svc.ShareTargets(ctx); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected agents to be denied targets, got %v", err)
	}

	auth.user = &domain.User{UID: "lead"}
	_ = mem.SetRole(ctx, "lead", domain.UserRole{Role: domain.RoleSupervisor})

	if _, err := svc.ShareCall(ctx, callID, " "); err == nil {
		t.Fatalf("expected missing target error")
	}
	targets, err := svc.ShareTargets(ctx)
	if err != nil || len(targets) != 2 {
		t.Fatalf("unexpected targets: %+v %v", targets, err)
	}
	if _, err := svc.ShareCall(ctx, callID, "peer"); err != nil {
		t.Fatalf("share failed: %v", err)
	}

	calls, err := svc.SharedCalls(ctx, "peer")
	if err != nil || len(calls) != 1 || calls[0].ID != callID {
		t.Fatalf("unexpected shared calls: %+v %v", calls, err)
	}
}
