package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"emocall/internal/analytics"
	"emocall/internal/bootstrap"
	"emocall/internal/domain"
	"emocall/internal/identity"
	"emocall/internal/ports"
	"emocall/internal/usecase"
)

const (
	eventSession = "emocall:session"
	eventEmotion = "emocall:emotion"
	eventFrame   = "emocall:frame"
	eventAuth    = "emocall:auth"
	eventError   = "emocall:error"
)

const shutdownTimeout = 90 * time.Second

// App is the Wails application root.
type App struct {
	ctx context.Context

	services  *bootstrap.Services
	clipboard ports.Clipboard
	bootErr   error
	unsubAuth func()
}

func NewApp() *App {
	return &App{clipboard: &wailsClipboard{}}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.unsubAuth = services.Auth.OnAuthStateChanged(a.authChanged)
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(_ context.Context) {
	if a.unsubAuth != nil {
		a.unsubAuth()
	}
	if a.services == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.services.Close(ctx); err != nil {
		a.services.Logger.Warn("shutdown incomplete", "error", err)
	}
}

// StartCall begins recording a call.
func (a *App) StartCall() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	err := a.services.Controller.Start(a.ctx)
	if err != nil && !errors.Is(err, usecase.ErrStartAborted) {
		// Capture failures were already reported by the controller.
		if errors.Is(err, usecase.ErrSessionActive) {
			a.SessionError(domain.ErrorCodeCapture, err.Error())
		}
		return a.services.Controller.Status(), err
	}
	return a.services.Controller.Status(), nil
}

// EndCall stops the current call. The recording is saved in the background.
func (a *App) EndCall() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.Stop(a.ctx); err != nil {
		a.SessionError(domain.ErrorCodeCapture, err.Error())
		return domain.Status{}, err
	}
	return a.services.Controller.Status(), nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.services.Controller.Status()
}

func (a *App) GetTimeline() []domain.TimelinePoint {
	if a.services == nil {
		return []domain.TimelinePoint{}
	}
	return a.services.Controller.Timeline()
}

func (a *App) GetCurrentEmotion() *domain.EmotionEvent {
	if a.services == nil {
		return nil
	}
	return a.services.Controller.CurrentEmotion()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	info := map[string]string{
		"classifier":       cfg.Classifier.WSURL,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"model":            cfg.LLM.Model,
		"rulesFile":        cfg.Rules.Path,
		"storage":          "memory",
	}
	if cfg.Store.PostgresDSN != "" {
		info["storage"] = "postgres"
	}
	if a.services.Diagnostics != nil {
		info["diagnostics"] = "http://" + a.services.Diagnostics.Addr()
	}
	return info
}

func (a *App) SignIn(email, password string) (*domain.User, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	user, err := a.services.Identity.SignIn(a.ctx, email, password)
	if err != nil {
		return nil, a.fail(domain.ErrorCodeAuth, err)
	}
	return user, nil
}

func (a *App) SignUp(email, password, displayName string) (*domain.User, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	user, err := a.services.Identity.SignUp(a.ctx, email, password, displayName)
	if err != nil {
		return nil, a.fail(domain.ErrorCodeAuth, err)
	}
	return user, nil
}

func (a *App) SignOut() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.services.Auth.SignOut()
	return nil
}

func (a *App) SendPasswordReset(email string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Auth.SendPasswordReset(a.ctx, email); err != nil {
		return a.fail(domain.ErrorCodeAuth, err)
	}
	return nil
}

func (a *App) SendEmailVerification() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Auth.SendEmailVerification(a.ctx); err != nil {
		return a.fail(domain.ErrorCodeAuth, err)
	}
	return nil
}

func (a *App) UpdatePassword(currentPassword, newPassword string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Auth.UpdatePassword(a.ctx, currentPassword, newPassword); err != nil {
		return a.fail(domain.ErrorCodeAuth, err)
	}
	return nil
}

// CurrentUser returns the signed-in user, or nil.
func (a *App) CurrentUser() *domain.User {
	if a.services == nil {
		return nil
	}
	return a.services.Auth.CurrentUser()
}

func (a *App) GetProfile() (domain.Profile, error) {
	uid, err := a.currentUID()
	if err != nil {
		return domain.Profile{}, err
	}
	return a.services.Identity.Profile(a.ctx, uid)
}

func (a *App) UpdateProfile(update domain.ProfileUpdate) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Identity.UpdateProfile(a.ctx, update); err != nil {
		return a.fail(domain.ErrorCodeAuth, err)
	}
	return nil
}

// UploadProfilePicture stores a base64 encoded image and returns its ref.
func (a *App) UploadProfilePicture(contentType, dataBase64 string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(dataBase64)
	if err != nil {
		return "", fmt.Errorf("decoding picture: %w", err)
	}
	ref, err := a.services.Identity.UpdateProfilePicture(a.ctx, contentType, data)
	if err != nil {
		return "", a.fail(domain.ErrorCodePersistence, err)
	}
	return ref, nil
}

func (a *App) GetRole() (domain.UserRole, error) {
	uid, err := a.currentUID()
	if err != nil {
		return domain.UserRole{}, err
	}
	return a.services.Identity.Role(a.ctx, uid)
}

func (a *App) CanShare() bool {
	uid, err := a.currentUID()
	if err != nil {
		return false
	}
	return a.services.Identity.CanShare(a.ctx, uid)
}

func (a *App) GetUsers() ([]domain.Profile, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	users, err := a.services.Identity.Users(a.ctx)
	if err != nil {
		return nil, a.fail(domain.ErrorCodePermission, err)
	}
	return users, nil
}

func (a *App) SetUserRole(uid, role string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Identity.SetRole(a.ctx, uid, role); err != nil {
		return a.fail(domain.ErrorCodePermission, err)
	}
	return nil
}

// GetCalls lists the signed-in user's calls, newest first.
func (a *App) GetCalls() ([]domain.RecordedCall, error) {
	uid, err := a.currentUID()
	if err != nil {
		return nil, err
	}
	calls, err := a.services.Calls.ListCalls(a.ctx, uid)
	if err != nil {
		return nil, a.fail(domain.ErrorCodePersistence, err)
	}
	return calls, nil
}

func (a *App) GetCall(id string) (domain.RecordedCall, error) {
	if err := a.requireReady(); err != nil {
		return domain.RecordedCall{}, err
	}
	return a.services.Calls.GetCall(a.ctx, id)
}

func (a *App) GetShareTargets() ([]domain.Profile, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	return a.services.Identity.ShareTargets(a.ctx)
}

func (a *App) ShareCall(callID, targetUID string) (domain.SharedCall, error) {
	if err := a.requireReady(); err != nil {
		return domain.SharedCall{}, err
	}
	shared, err := a.services.Identity.ShareCall(a.ctx, callID, targetUID)
	if err != nil {
		return domain.SharedCall{}, a.fail(domain.ErrorCodePermission, err)
	}
	return shared, nil
}

func (a *App) GetSharedCalls() ([]domain.RecordedCall, error) {
	uid, err := a.currentUID()
	if err != nil {
		return nil, err
	}
	return a.services.Identity.SharedCalls(a.ctx, uid)
}

func (a *App) GetAnalytics() (analytics.Summary, error) {
	uid, err := a.currentUID()
	if err != nil {
		return analytics.Summary{}, err
	}
	return a.services.Analytics.Summary(a.ctx, uid)
}

func (a *App) GetAdvancedAnalytics() (analytics.Advanced, error) {
	uid, err := a.currentUID()
	if err != nil {
		return analytics.Advanced{}, err
	}
	return a.services.Analytics.Advanced(a.ctx, uid)
}

// ExportCalls asks where to save and writes the user's calls there. It
// returns the chosen path, or "" when the dialog was cancelled.
func (a *App) ExportCalls(format string) (string, error) {
	uid, err := a.currentUID()
	if err != nil {
		return "", err
	}
	data, err := a.services.Analytics.Export(a.ctx, uid, format)
	if err != nil {
		return "", a.fail(domain.ErrorCodeExport, err)
	}

	path, err := runtime.SaveFileDialog(a.ctx, runtime.SaveDialogOptions{
		Title:           "Export calls",
		DefaultFilename: "calls-export." + format,
		Filters:         []runtime.FileFilter{{DisplayName: format, Pattern: "*." + format}},
	})
	if err != nil {
		return "", a.fail(domain.ErrorCodeExport, err)
	}
	if path == "" {
		return "", nil
	}
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return "", a.fail(domain.ErrorCodeExport, err)
	}
	return path, nil
}

// GetInsights returns three coaching insights built from the user's
// analytics. It never fails; unusable replies become fallback insights.
func (a *App) GetInsights() ([]domain.Insight, error) {
	report, err := a.GetAdvancedAnalytics()
	if err != nil {
		return nil, err
	}
	data, err := jsonString(report)
	if err != nil {
		return nil, err
	}
	return a.services.Insights.GenerateInsights(a.ctx, data), nil
}

func (a *App) GetAnalyticsInsight() (string, error) {
	report, err := a.GetAdvancedAnalytics()
	if err != nil {
		return "", err
	}
	return a.services.Insights.AnalyticsInsight(a.ctx, report)
}

func (a *App) Chat(prompt string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.services.Insights.Chat(a.ctx, prompt)
}

func (a *App) GetEmotionRecommendation(emotion string) (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.services.Insights.EmotionRecommendation(a.ctx, emotion)
}

// CopyText writes text to the system clipboard.
func (a *App) CopyText(text string) error {
	if a.ctx == nil {
		return fmt.Errorf("application is not initialized")
	}
	return a.clipboard.SetText(a.ctx, text)
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) currentUID() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	user := a.services.Auth.CurrentUser()
	if user == nil {
		return "", identity.ErrNotSignedIn
	}
	return user.UID, nil
}

func jsonString(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding analytics: %w", err)
	}
	return string(data), nil
}

func (a *App) fail(code domain.ErrorCode, err error) error {
	a.SessionError(code, err.Error())
	return err
}

func (a *App) emit(name string, data any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, data)
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.emit(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// EmotionUpdated emits each accepted emotion event.
func (a *App) EmotionUpdated(event domain.EmotionEvent) {
	a.emit(eventEmotion, event)
}

// RenderFrame emits render-loop frames for the visualizer.
func (a *App) RenderFrame(frame domain.Frame) {
	a.emit(eventFrame, frame)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) authChanged(user *domain.User) {
	a.emit(eventAuth, map[string]any{
		"signedIn": user != nil,
		"user":     user,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonStarting:
		return "Starting call..."
	case domain.SessionReasonRecordingStarted:
		return "Recording"
	case domain.SessionReasonStopping:
		return "Ending call..."
	case domain.SessionReasonCallEnded:
		return "Call ended"
	case domain.SessionReasonStartAborted:
		return "Call start cancelled"
	case domain.SessionReasonDeviceFailed:
		return "Microphone unavailable"
	case domain.SessionReasonCaptureFailed:
		return "Recording failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDevice:
		return "Microphone unavailable"
	case domain.ErrorCodeCapture:
		return "Recording failed"
	case domain.ErrorCodeAuth:
		return "Sign-in problem"
	case domain.ErrorCodePermission:
		return "Permission denied"
	case domain.ErrorCodePersistence:
		return "Could not save"
	case domain.ErrorCodeExport:
		return "Export failed"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
