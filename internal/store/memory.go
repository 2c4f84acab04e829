package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"emocall/internal/domain"
)

// Memory keeps calls, profiles and shares in process. It backs tests and
// runs without a database DSN.
type Memory struct {
	mu       sync.RWMutex
	calls    map[string]domain.RecordedCall
	profiles map[string]domain.Profile
	shares   []domain.SharedCall
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		calls:    make(map[string]domain.RecordedCall),
		profiles: make(map[string]domain.Profile),
		now:      time.Now,
	}
}

func (m *Memory) CreateCall(_ context.Context, call domain.RecordedCall) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = m.now()
	}
	call.Emotions = slices.Clone(call.Emotions)
	if call.Emotions == nil {
		call.Emotions = []domain.EmotionEvent{}
	}
	m.calls[call.ID] = call
	return call.ID, nil
}

func (m *Memory) ListCalls(_ context.Context, userID string) ([]domain.RecordedCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := []domain.RecordedCall{}
	for _, call := range m.calls {
		if call.UserID == userID {
			call.Emotions = slices.Clone(call.Emotions)
			calls = append(calls, call)
		}
	}
	slices.SortFunc(calls, func(a, b domain.RecordedCall) int {
		if c := cmp.Compare(b.StartTime, a.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return calls, nil
}

func (m *Memory) GetCall(_ context.Context, id string) (domain.RecordedCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	call, ok := m.calls[id]
	if !ok {
		return domain.RecordedCall{}, fmt.Errorf("call %s: %w", id, domain.ErrNotFound)
	}
	call.Emotions = slices.Clone(call.Emotions)
	return call, nil
}

func (m *Memory) GetProfile(_ context.Context, uid string) (domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profile, ok := m.profiles[uid]
	if !ok {
		return domain.Profile{}, fmt.Errorf("user %s: %w", uid, domain.ErrNotFound)
	}
	profile.Permissions = slices.Clone(profile.Permissions)
	return profile, nil
}

func (m *Memory) PutProfile(_ context.Context, profile domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if existing, ok := m.profiles[profile.UID]; ok && profile.CreatedAt.IsZero() {
		profile.CreatedAt = existing.CreatedAt
	}
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.LastUpdated = now
	profile.Permissions = slices.Clone(profile.Permissions)
	m.profiles[profile.UID] = profile
	return nil
}

func (m *Memory) SetRole(_ context.Context, uid string, role domain.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	profile, ok := m.profiles[uid]
	if !ok {
		profile = domain.Profile{UID: uid, CreatedAt: now}
	}
	profile.Role = role.Role
	profile.Permissions = slices.Clone(role.Permissions)
	profile.LastUpdated = now
	m.profiles[uid] = profile
	return nil
}

func (m *Memory) ListByRole(_ context.Context, role string) ([]domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	profiles := []domain.Profile{}
	for _, profile := range m.profiles {
		if profile.Role == role {
			profile.Permissions = slices.Clone(profile.Permissions)
			profiles = append(profiles, profile)
		}
	}
	slices.SortFunc(profiles, func(a, b domain.Profile) int {
		if c := strings.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return strings.Compare(a.UID, b.UID)
	})
	return profiles, nil
}

func (m *Memory) ShareCall(_ context.Context, callID, targetUserID string) (domain.SharedCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[callID]; !ok {
		return domain.SharedCall{}, fmt.Errorf("share call: call %s: %w", callID, domain.ErrNotFound)
	}
	share := domain.SharedCall{
		ID:           uuid.NewString(),
		CallID:       callID,
		TargetUserID: targetUserID,
		SharedAt:     m.now().UTC(),
		Status:       domain.SharedCallPending,
	}
	m.shares = append(m.shares, share)
	return share, nil
}

func (m *Memory) ListSharedWith(_ context.Context, userID string) ([]domain.SharedCall, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	shares := []domain.SharedCall{}
	for i := len(m.shares) - 1; i >= 0; i-- {
		if m.shares[i].TargetUserID == userID {
			shares = append(shares, m.shares[i])
		}
	}
	return shares, nil
}
