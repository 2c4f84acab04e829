package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"emocall/internal/domain"
)

const DefaultBaseURL = "https://identitytoolkit.googleapis.com/v1"

var ErrNotSignedIn = errors.New("no user is signed in")

// AuthError is a rejection reported by the identity provider.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return domain.ErrAuthFailure
}

var authMessages = map[string]string{
	"EMAIL_NOT_FOUND":                "No account found with this email.",
	"INVALID_PASSWORD":               "Incorrect password.",
	"INVALID_LOGIN_CREDENTIALS":      "Invalid email or password.",
	"EMAIL_EXISTS":                   "An account with this email already exists.",
	"WEAK_PASSWORD":                  "Password should be at least 6 characters.",
	"INVALID_EMAIL":                  "The email address is invalid.",
	"MISSING_PASSWORD":               "Password is required.",
	"USER_DISABLED":                  "This account has been disabled.",
	"TOO_MANY_ATTEMPTS_TRY_LATER":    "Too many attempts. Try again later.",
	"TOKEN_EXPIRED":                  "Your session has expired. Please sign in again.",
	"INVALID_ID_TOKEN":               "Your session is no longer valid. Please sign in again.",
	"CREDENTIAL_TOO_OLD_LOGIN_AGAIN": "Please sign in again before changing your password.",
}

// Config configures the identity REST client.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type session struct {
	user      domain.User
	idToken   string
	expiresAt time.Time
}

// Client signs users in against a Firebase-compatible identity REST API and
// tracks the signed-in user.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	current   *session
	listeners map[int]func(*domain.User)
	nextID    int
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      cfg.HTTPClient,
		logger:    logger.With("component", "identity"),
		now:       time.Now,
		listeners: make(map[int]func(*domain.User)),
	}
}

type tokenResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
}

// SignIn authenticates with email and password.
func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.User, error) {
	var resp tokenResponse
	err := c.post(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return c.establish(resp)
}

// SignUp creates an account and sets its display name.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*domain.User, error) {
	var resp tokenResponse
	err := c.post(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if _, err := c.establish(resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(displayName) != "" {
		if err := c.UpdateProfile(ctx, domain.ProfileUpdate{DisplayName: &displayName}); err != nil {
			return nil, err
		}
	}
	return c.CurrentUser(), nil
}

// SignOut forgets the signed-in user.
func (c *Client) SignOut() {
	c.mu.Lock()
	was := c.current != nil
	c.current = nil
	c.mu.Unlock()
	if was {
		c.notify()
	}
}

// SendPasswordReset asks the provider to email a reset link.
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.post(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// SendEmailVerification emails a verification link to the signed-in user.
func (c *Client) SendEmailVerification(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	return c.post(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "VERIFY_EMAIL",
		"idToken":     token,
	}, nil)
}

// UpdateProfile changes the display name and/or photo of the signed-in user.
func (c *Client) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	body := map[string]any{"idToken": token, "returnSecureToken": false}
	if update.DisplayName != nil {
		body["displayName"] = *update.DisplayName
	}
	if update.PhotoURL != nil {
		body["photoUrl"] = *update.PhotoURL
	}

	var resp tokenResponse
	if err := c.post(ctx, "accounts:update", body, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	if c.current != nil {
		if update.DisplayName != nil {
			c.current.user.DisplayName = *update.DisplayName
		}
		if update.PhotoURL != nil {
			c.current.user.PhotoURL = *update.PhotoURL
		}
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// UpdatePassword re-authenticates with the current password, then sets the
// new one.
func (c *Client) UpdatePassword(ctx context.Context, currentPassword, newPassword string) error {
	user := c.CurrentUser()
	if user == nil || user.Email == "" {
		return ErrNotSignedIn
	}
	if _, err := c.SignIn(ctx, user.Email, currentPassword); err != nil {
		return err
	}
	token, err := c.token()
	if err != nil {
		return err
	}

	var resp tokenResponse
	err = c.post(ctx, "accounts:update", map[string]any{
		"idToken":           token,
		"password":          newPassword,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.IDToken != "" {
		_, err = c.establish(resp)
	}
	return err
}

// Reload refreshes the signed-in user's attributes from the provider.
func (c *Client) Reload(ctx context.Context) error {
	token, err := c.token()
	if err != nil {
		return err
	}
	var resp struct {
		Users []struct {
			LocalID       string `json:"localId"`
			Email         string `json:"email"`
			EmailVerified bool   `json:"emailVerified"`
			DisplayName   string `json:"displayName"`
			PhotoURL      string `json:"photoUrl"`
		} `json:"users"`
	}
	if err := c.post(ctx, "accounts:lookup", map[string]any{"idToken": token}, &resp); err != nil {
		return err
	}
	if len(resp.Users) == 0 {
		return &AuthError{Code: "USER_NOT_FOUND", Message: "Account no longer exists."}
	}

	u := resp.Users[0]
	c.mu.Lock()
	if c.current != nil && c.current.user.UID == u.LocalID {
		c.current.user.Email = u.Email
		c.current.user.EmailVerified = u.EmailVerified
		c.current.user.DisplayName = u.DisplayName
		c.current.user.PhotoURL = u.PhotoURL
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// CurrentUser returns a copy of the signed-in user, or nil.
func (c *Client) CurrentUser() *domain.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return nil
	}
	user := c.current.user
	return &user
}

// IDToken returns the current ID token.
func (c *Client) IDToken() (string, error) {
	return c.token()
}

// OnAuthStateChanged calls fn with the current user now and after every
// sign-in, sign-out or profile change.
func (c *Client) OnAuthStateChanged(fn func(*domain.User)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	fn(c.CurrentUser())

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) notify() {
	c.mu.RLock()
	listeners := make([]func(*domain.User), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()

	user := c.CurrentUser()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("auth listener panicked", "panic", r)
				}
			}()
			fn(user)
		}()
	}
}

func (c *Client) token() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return "", ErrNotSignedIn
	}
	if !c.current.expiresAt.IsZero() && c.now().After(c.current.expiresAt) {
		return "", &AuthError{Code: "TOKEN_EXPIRED", Message: authMessages["TOKEN_EXPIRED"]}
	}
	return c.current.idToken, nil
}

func (c *Client) establish(resp tokenResponse) (*domain.User, error) {
	claims, err := decodeIDToken(resp.IDToken)
	if err != nil {
		return nil, err
	}

	user := domain.User{
		UID:           firstNonEmpty(claims.UserID, claims.Subject, resp.LocalID),
		Email:         firstNonEmpty(claims.Email, resp.Email),
		DisplayName:   firstNonEmpty(resp.DisplayName, claims.Name),
		PhotoURL:      firstNonEmpty(resp.PhotoURL, claims.Picture),
		EmailVerified: claims.EmailVerified,
	}
	if user.UID == "" {
		return nil, &AuthError{Code: "INVALID_ID_TOKEN", Message: authMessages["INVALID_ID_TOKEN"]}
	}
	s := &session{user: user, idToken: resp.IDToken}
	if claims.ExpiresAt != nil {
		s.expiresAt = claims.ExpiresAt.Time
	}

	c.mu.Lock()
	c.current = s
	c.mu.Unlock()

	c.logger.Info("user signed in", "uid", user.UID)
	c.notify()
	out := user
	return &out, nil
}

type idTokenClaims struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// decodeIDToken reads claims without verifying the signature; the token
// came straight from the provider over TLS.
func decodeIDToken(token string) (idTokenClaims, error) {
	var claims idTokenClaims
	if strings.TrimSpace(token) == "" {
		return claims, &AuthError{Code: "INVALID_ID_TOKEN", Message: authMessages["INVALID_ID_TOKEN"]}
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return claims, fmt.Errorf("%w: decode id token: %v", domain.ErrAuthFailure, err)
	}
	return claims, nil
}

type providerError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("identity encode: %w", err)
	}

	endpoint := c.baseURL + "/" + method + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("identity request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: identity http: %v", domain.ErrAuthFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return mapProviderError(resp.StatusCode, raw)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity decode: %w", err)
	}
	return nil
}

func mapProviderError(status int, raw []byte) error {
	var perr providerError
	if err := json.Unmarshal(raw, &perr); err != nil || perr.Error.Message == "" {
		return &AuthError{Code: http.StatusText(status), Message: fmt.Sprintf("Authentication failed (status %d).", status)}
	}

	// Messages look like "WEAK_PASSWORD : Password should be at least 6 characters".
	code, detail, _ := strings.Cut(perr.Error.Message, ":")
	code = strings.TrimSpace(code)
	if msg, ok := authMessages[code]; ok {
		return &AuthError{Code: code, Message: msg}
	}
	if detail = strings.TrimSpace(detail); detail != "" {
		return &AuthError{Code: code, Message: detail}
	}
	return &AuthError{Code: code, Message: "Authentication failed: " + strings.ToLower(strings.ReplaceAll(code, "_", " ")) + "."}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
