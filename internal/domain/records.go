package domain

import "time"

// RecordedCall is the persisted artifact of a finished session.
// StartTime, EndTime and Duration are milliseconds.
type RecordedCall struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	AudioRef  string         `json:"audioUrl"`
	Emotions  []EmotionEvent `json:"emotions"`
	StartTime int64          `json:"startTime"`
	EndTime   int64          `json:"endTime"`
	Duration  int64          `json:"duration"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SharedCall links a call to a user it was shared with.
type SharedCall struct {
	ID           string    `json:"id"`
	CallID       string    `json:"callId"`
	TargetUserID string    `json:"targetUserId"`
	SharedAt     time.Time `json:"sharedAt"`
	Status       string    `json:"status"`
}

const SharedCallPending = "pending"

// User is the signed-in identity.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

// Role names stored on the user document.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
)

// UserRole is the role document of a user.
type UserRole struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Profile is the user document.
type Profile struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	Role        string    `json:"role,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ProfileUpdate holds optional profile fields to change.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	PhotoURL    *string `json:"photoURL,omitempty"`
}

// Insight is one generated analytics observation.
type Insight struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
}
