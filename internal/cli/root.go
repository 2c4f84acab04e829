// Package cli defines the emocallctl commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"emocall/internal/bootstrap"
	"emocall/internal/tui"
)

var version = "dev" // set via ldflags at build time

const closeTimeout = 90 * time.Second

var errNoUser = errors.New("no user: pass --user or sign in with --email")

type buildFunc func(ctx context.Context, sink *tui.Sink) (*bootstrap.Services, error)

func buildServices(ctx context.Context, sink *tui.Sink) (*bootstrap.Services, error) {
	return bootstrap.Build(ctx, sink, sink)
}

type rootOptions struct {
	build    buildFunc
	email    string
	password string
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd returns the emocallctl command tree.
func NewRootCmd() *cobra.Command {
	return newRootCmd(buildServices)
}

func newRootCmd(build buildFunc) *cobra.Command {
	opts := &rootOptions{build: build}
	root := &cobra.Command{
		Use:   "emocallctl",
		Short: "Record calls with live emotion feedback and review call history",
		Long: `emocallctl records a call from the microphone, streams it to the emotion
classifier and shows the live reading in the terminal. It also exports call
history and asks the language model for coaching insights.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.email, "email", os.Getenv("EMOCALL_EMAIL"), "Sign in with this email (or EMOCALL_EMAIL)")
	root.PersistentFlags().StringVar(&opts.password, "password", "", "Password for --email (or EMOCALL_PASSWORD)")

	root.AddCommand(newRecordCmd(opts))
	root.AddCommand(newExportCmd(opts))
	root.AddCommand(newAnalyticsCmd(opts))
	root.AddCommand(newInsightsCmd(opts))
	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newConfigCmd())
	return root
}

// open builds the services and signs in when credentials were given.
// Callers must close the returned services.
func (o *rootOptions) open(ctx context.Context) (*bootstrap.Services, *tui.Sink, error) {
	sink := &tui.Sink{}
	svc, err := o.build(ctx, sink)
	if err != nil {
		return nil, nil, err
	}
	if o.email == "" {
		return svc, sink, nil
	}

	password := o.password
	if password == "" {
		password = os.Getenv("EMOCALL_PASSWORD")
	}
	if svc.Identity == nil {
		closeServices(svc)
		return nil, nil, errors.New("sign-in is not available")
	}
	if _, err := svc.Identity.SignIn(ctx, o.email, password); err != nil {
		closeServices(svc)
		return nil, nil, err
	}
	return svc, sink, nil
}

// userID picks the explicit --user value, then the signed-in user.
func userID(svc *bootstrap.Services, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if svc.Auth != nil {
		if user := svc.Auth.CurrentUser(); user != nil {
			return user.UID, nil
		}
	}
	return "", errNoUser
}

func closeServices(svc *bootstrap.Services) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := svc.Close(ctx); err != nil && svc.Logger != nil {
		svc.Logger.Warn("shutdown incomplete", "error", err)
	}
}

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
