package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"emocall/internal/domain"
	"emocall/internal/ports"
)

// Permissions granted with each role.
const (
	PermManageUsers      = "manage_users"
	PermViewAllCalls     = "view_all_calls"
	PermManageSystem     = "manage_system"
	PermExportData       = "export_data"
	PermViewAnalytics    = "view_analytics"
	PermViewTeamCalls    = "view_team_calls"
	PermManageTeam       = "manage_team"
	PermExportTeamData   = "export_team_data"
	PermMakeCalls        = "make_calls"
	PermViewOwnAnalytics = "view_own_analytics"
)

var rolePermissions = map[string][]string{
	domain.RoleAdmin:      {PermManageUsers, PermViewAllCalls, PermManageSystem, PermExportData, PermViewAnalytics},
	domain.RoleSupervisor: {PermViewTeamCalls, PermManageTeam, PermViewAnalytics, PermExportTeamData},
	domain.RoleAgent:      {PermMakeCalls, PermViewOwnAnalytics},
}

// RolePermissions returns the permissions granted by role, or nil for an
// unknown role.
func RolePermissions(role string) []string {
	return slices.Clone(rolePermissions[role])
}

// Authenticator is the slice of Client the service depends on.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*domain.User, error)
	SignUp(ctx context.Context, email, password, displayName string) (*domain.User, error)
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) error
	CurrentUser() *domain.User
}

// Stores groups the documents the service reads and writes.
type Stores struct {
	Profiles ports.ProfileStore
	Calls    ports.CallStore
	Shares   ports.ShareStore
	Blobs    ports.BlobStore
}

// Service couples the identity provider with user documents, roles and
// call sharing.
type Service struct {
	auth   Authenticator
	stores Stores
	logger *slog.Logger
}

func NewService(auth Authenticator, stores Stores, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{auth: auth, stores: stores, logger: logger.With("component", "accounts")}
}

func (s *Service) CurrentUser() *domain.User {
	return s.auth.CurrentUser()
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	return s.auth.SignIn(ctx, strings.TrimSpace(email), password)
}

// SignUp creates the account and its user document. New users start as
// agents.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (*domain.User, error) {
	user, err := s.auth.SignUp(ctx, strings.TrimSpace(email), password, strings.TrimSpace(displayName))
	if err != nil {
		return nil, err
	}
	profile := domain.Profile{
		UID:         user.UID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Role:        domain.RoleAgent,
		Permissions: RolePermissions(domain.RoleAgent),
	}
	if err := s.stores.Profiles.PutProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("%w: create user document: %v", domain.ErrPersistenceFailure, err)
	}
	s.logger.Info("user signed up", "uid", user.UID)
	return user, nil
}

func (s *Service) Profile(ctx context.Context, uid string) (domain.Profile, error) {
	return s.stores.Profiles.GetProfile(ctx, uid)
}

// UpdateProfile changes the signed-in user's name and/or photo in both the
// provider and the user document.
func (s *Service) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) error {
	user := s.auth.CurrentUser()
	if user == nil {
		return ErrNotSignedIn
	}
	if err := s.auth.UpdateProfile(ctx, update); err != nil {
		return err
	}

	profile, err := s.stores.Profiles.GetProfile(ctx, user.UID)
	if errors.Is(err, domain.ErrNotFound) {
		profile = domain.Profile{UID: user.UID, Email: user.Email, DisplayName: user.DisplayName}
	} else if err != nil {
		return err
	}
	if update.DisplayName != nil {
		profile.DisplayName = *update.DisplayName
	}
	if update.PhotoURL != nil {
		profile.PhotoURL = *update.PhotoURL
	}
	return s.stores.Profiles.PutProfile(ctx, profile)
}

// UpdateProfilePicture stores the image under profile-pictures/<uid> and
// points the profile at it.
func (s *Service) UpdateProfilePicture(ctx context.Context, contentType string, data []byte) (string, error) {
	user := s.auth.CurrentUser()
	if user == nil {
		return "", ErrNotSignedIn
	}
	if len(data) == 0 {
		return "", errors.New("profile picture is empty")
	}
	ref, err := s.stores.Blobs.Upload(ctx, "profile-pictures/"+user.UID, contentType, data)
	if err != nil {
		return "", fmt.Errorf("%w: upload profile picture: %v", domain.ErrPersistenceFailure, err)
	}
	if err := s.UpdateProfile(ctx, domain.ProfileUpdate{PhotoURL: &ref}); err != nil {
		return "", err
	}
	return ref, nil
}

// Role returns the role document of uid; a missing user has no role.
func (s *Service) Role(ctx context.Context, uid string) (domain.UserRole, error) {
	profile, err := s.stores.Profiles.GetProfile(ctx, uid)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.UserRole{}, nil
	}
	if err != nil {
		return domain.UserRole{}, err
	}
	return domain.UserRole{Role: profile.Role, Permissions: profile.Permissions}, nil
}

// HasPermission reports whether uid's role document grants permission.
// Lookup failures deny.
func (s *Service) HasPermission(ctx context.Context, uid, permission string) bool {
	role, err := s.Role(ctx, uid)
	if err != nil {
		s.logger.Warn("role lookup failed", "uid", uid, "error", err)
		return false
	}
	return slices.Contains(role.Permissions, permission)
}

// CanShare reports whether uid may share calls: admins and supervisors only.
func (s *Service) CanShare(ctx context.Context, uid string) bool {
	role, err := s.Role(ctx, uid)
	if err != nil {
		return false
	}
	return role.Role == domain.RoleAdmin || role.Role == domain.RoleSupervisor
}

// SetRole assigns role and its permissions to uid. The signed-in user needs
// manage_users.
func (s *Service) SetRole(ctx context.Context, uid, role string) error {
	if err := s.requirePermission(ctx, PermManageUsers); err != nil {
		return err
	}
	permissions, ok := rolePermissions[role]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}
	return s.stores.Profiles.SetRole(ctx, uid, domain.UserRole{Role: role, Permissions: slices.Clone(permissions)})
}

// Users lists admins, supervisors and agents. The signed-in user needs
// manage_users.
func (s *Service) Users(ctx context.Context) ([]domain.Profile, error) {
	if err := s.requirePermission(ctx, PermManageUsers); err != nil {
		return nil, err
	}
	var all []domain.Profile
	for _, role := range []string{domain.RoleAdmin, domain.RoleSupervisor, domain.RoleAgent} {
		profiles, err := s.stores.Profiles.ListByRole(ctx, role)
		if err != nil {
			return nil, err
		}
		all = append(all, profiles...)
	}
	return all, nil
}

// ShareTargets lists the agents the signed-in user can share calls with.
func (s *Service) ShareTargets(ctx context.Context) ([]domain.Profile, error) {
	if err := s.requireShare(ctx); err != nil {
		return nil, err
	}
	return s.stores.Profiles.ListByRole(ctx, domain.RoleAgent)
}

// ShareCall shares callID with targetUID on behalf of the signed-in user.
func (s *Service) ShareCall(ctx context.Context, callID, targetUID string) (domain.SharedCall, error) {
	if strings.TrimSpace(targetUID) == "" {
		return domain.SharedCall{}, errors.New("please select a user to share with")
	}
	if err := s.requireShare(ctx); err != nil {
		return domain.SharedCall{}, err
	}
	share, err := s.stores.Shares.ShareCall(ctx, callID, targetUID)
	if err != nil {
		return domain.SharedCall{}, err
	}
	s.logger.Info("call shared", "call_id", callID, "target_uid", targetUID)
	return share, nil
}

// SharedCalls resolves the calls shared with uid. Shares whose call no
// longer exists are skipped.
func (s *Service) SharedCalls(ctx context.Context, uid string) ([]domain.RecordedCall, error) {
	shares, err := s.stores.Shares.ListSharedWith(ctx, uid)
	if err != nil {
		return nil, err
	}
	calls := make([]domain.RecordedCall, 0, len(shares))
	for _, share := range shares {
		call, err := s.stores.Calls.GetCall(ctx, share.CallID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	return calls, nil
}

func (s *Service) requirePermission(ctx context.Context, permission string) error {
	user := s.auth.CurrentUser()
	if user == nil {
		return ErrNotSignedIn
	}
	if !s.HasPermission(ctx, user.UID, permission) {
		return fmt.Errorf("%w: %s required", domain.ErrPermissionDenied, permission)
	}
	return nil
}

func (s *Service) requireShare(ctx context.Context) error {
	user := s.auth.CurrentUser()
	if user == nil {
		return ErrNotSignedIn
	}
	if !s.CanShare(ctx, user.UID) {
		return fmt.Errorf("%w: you do not have permission to share calls", domain.ErrPermissionDenied)
	}
	return nil
}
