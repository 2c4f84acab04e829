package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"emocall/internal/tui"
	"emocall/internal/usecase"
)

const stopTimeout = 30 * time.Second

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var (
		duration time.Duration
		plain    bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a call with live emotion feedback",
		Long: `Record a call from the microphone and show the live emotion reading.
Press q to end the call. The call is saved when you are signed in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, sink, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer closeServices(svc)

			out := cmd.OutOrStdout()
			if svc.Auth == nil || svc.Auth.CurrentUser() == nil {
				fmt.Fprintln(out, "Not signed in; this call will not be saved.")
			}

			if plain || !isTTY() {
				return recordPlain(ctx, out, svc.Controller, sink, duration)
			}

			p := tea.NewProgram(tui.New(svc.Controller, duration))
			sink.Attach(p)
			final, err := p.Run()
			if err != nil {
				return fmt.Errorf("running terminal view: %w", err)
			}
			if m, ok := final.(tui.Model); ok {
				return ignoreAborted(m.Err())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "End the call automatically after this long (0 waits for q or Ctrl+C)")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print events as lines instead of the interactive view")
	return cmd
}

// recordPlain runs a call without the interactive view, printing state
// changes and emotions until the duration elapses or ctx is cancelled.
func recordPlain(ctx context.Context, out io.Writer, ctrl tui.Controller, sink *tui.Sink, duration time.Duration) error {
	var mu sync.Mutex
	sink.AttachFunc(func(msg tea.Msg) {
		var line string
		switch m := msg.(type) {
		case tui.StateMsg:
			line = fmt.Sprintf("state: %s (%s)", m.State, m.Reason)
		case tui.EmotionMsg:
			line = fmt.Sprintf("emotion: %s %.0f%%", m.Event.Emotion, m.Event.Confidence*100)
			if s := m.Event.Suggestions; s != nil && s.Message != "" {
				line += " - " + s.Message
			}
		case tui.ErrorMsg:
			line = "error: " + m.Message
		default:
			return
		}
		mu.Lock()
		fmt.Fprintln(out, line)
		mu.Unlock()
	})

	// Capture outlives the signal context so Stop can drain it.
	if err := ctrl.Start(context.WithoutCancel(ctx)); err != nil {
		return ignoreAborted(err)
	}

	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	} else {
		<-ctx.Done()
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	return ctrl.Stop(stopCtx)
}

func ignoreAborted(err error) error {
	if errors.Is(err, usecase.ErrStartAborted) {
		return nil
	}
	return err
}
