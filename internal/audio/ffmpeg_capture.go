package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"emocall/internal/ports"
)

const (
	// startupGrace is how long ffmpeg must survive before the device is
	// considered open.
	startupGrace = 250 * time.Millisecond
	stopGrace    = 1200 * time.Millisecond
)

// FFMPEGCapture records the microphone by running ffmpeg.
type FFMPEGCapture struct {
	command string
	logger  *slog.Logger
}

func NewFFMPEGCapture(command string, logger *slog.Logger) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFMPEGCapture{command: command, logger: logger.With("component", "audio")}
}

// pipePair holds both ends of an os.Pipe. os.Pipe is used instead of
// cmd.StdoutPipe because Wait would close the read end before the tail of
// the stream is drained.
type pipePair struct{ r, w *os.File }

func newPipePair() (pipePair, error) {
	r, w, err := os.Pipe()
	return pipePair{r: r, w: w}, err
}

func (p pipePair) close() {
	closeFiles(p.r, p.w)
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	cfg = withDefaults(cfg)
	if cfg.EchoCancellation && cfg.EchoCancelSource == "" {
		c.logger.Debug("no echo-cancel source configured", "device", cfg.InputDevice)
	}

	encoded, err := newPipePair()
	if err != nil {
		return nil, fmt.Errorf("creating encoded pipe: %w", err)
	}
	tap, err := newPipePair()
	if err != nil {
		encoded.close()
		return nil, fmt.Errorf("creating analysis pipe: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.command, buildArgs(cfg)...)
	cmd.Stdout = encoded.w
	cmd.Stderr = &stderr
	cmd.ExtraFiles = []*os.File{tap.w}
	if err := cmd.Start(); err != nil {
		encoded.close()
		tap.close()
		return nil, fmt.Errorf("starting %s: %w", c.command, err)
	}
	// The child holds its own copies of the write ends.
	closeFiles(encoded.w, tap.w)

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	timer := time.NewTimer(startupGrace)
	defer timer.Stop()
	select {
	case err := <-exited:
		closeFiles(encoded.r, tap.r)
		detail := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail)
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-timer.C:
	}

	s := &ffmpegSession{
		encoded:  encoded.r,
		tap:      tap.r,
		stderr:   &stderr,
		process:  cmd.Process,
		exited:   exited,
		analyser: NewAnalyser(analysisRate),
		tapDone:  make(chan struct{}),
	}
	go s.runTap(c.logger)
	return s, nil
}

type ffmpegSession struct {
	encoded *os.File
	tap     *os.File
	stderr  *bytes.Buffer

	process *os.Process
	exited  <-chan error

	analyser *Analyser
	tapDone  chan struct{}

	once    sync.Once
	stopErr error
}

func (s *ffmpegSession) runTap(logger *slog.Logger) {
	defer close(s.tapDone)
	if err := s.analyser.Run(s.tap); err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Debug("analysis tap ended", "error", err)
	}
}

func (s *ffmpegSession) Read(p []byte) (int, error) { return s.encoded.Read(p) }

func (s *ffmpegSession) Stream() ports.LiveStream { return s.analyser }

// Stop asks ffmpeg to finish the container with SIGINT and kills it after
// stopGrace. The encoded stream stays readable until EOF.
func (s *ffmpegSession) Stop() error {
	s.once.Do(func() {
		s.stopErr = cleanExit(s.awaitExit())
		_ = s.tap.Close()
		<-s.tapDone
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

func (s *ffmpegSession) awaitExit() error {
	_ = s.process.Signal(os.Interrupt)
	timer := time.NewTimer(stopGrace)
	defer timer.Stop()
	select {
	case err := <-s.exited:
		return err
	case <-timer.C:
		_ = s.process.Kill()
		return <-s.exited
	}
}

// Close stops the process and releases the encoded stream. Call it once
// Read has returned io.EOF.
func (s *ffmpegSession) Close() error {
	err := s.Stop()
	if cerr := s.encoded.Close(); err == nil && cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		err = cerr
	}
	return err
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// cleanExit treats a non-zero exit status as success; ffmpeg reports one
// when it is interrupted.
func cleanExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
