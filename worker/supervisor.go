// Package worker spawns and supervises the build worker subprocess: framed
// IPC over its stdin/stdout, a stderr line pump, and SIGTERM→grace→SIGKILL
// cancellation (spec §4.4). It is built on the teacher's process package for
// subprocess lifecycle, generalised from a PTY-capable job runner to a
// non-interactive pipe supervisor.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/qowoz/hercules-ci-agent/buildtask"
	"github.com/qowoz/hercules-ci-agent/logger"
	"github.com/qowoz/hercules-ci-agent/process"
	"github.com/qowoz/hercules-ci-agent/protocol"
	"golang.org/x/sync/errgroup"
)

// Config configures one worker spawn.
type Config struct {
	// Path is the worker executable.
	Path string

	// ExtraArgs is passed to the worker verbatim. Per spec §9 Open
	// Questions, today this is always empty; the field exists so a future
	// caller can populate it without an API break.
	ExtraArgs []string

	// WallTimeout bounds the total lifetime of the build (default 10h).
	WallTimeout time.Duration

	// SilenceTimeout bounds the time since the last byte observed on
	// stdout or stderr (default 30m).
	SilenceTimeout time.Duration

	// GracePeriod is how long the supervisor waits after SIGTERM before
	// sending SIGKILL.
	GracePeriod time.Duration

	// MaxFrameSize overrides protocol.DefaultMaxFrameSize; zero uses the
	// default.
	MaxFrameSize uint64
}

const (
	DefaultWallTimeout    = 10 * time.Hour
	DefaultSilenceTimeout = 30 * time.Minute
	DefaultGracePeriod    = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.WallTimeout == 0 {
		c.WallTimeout = DefaultWallTimeout
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	return c
}

// Handler receives the structural events and log entries a worker run
// produces. StderrLine is invoked for human diagnostics only; it is not part
// of the remote build log (spec §4.4).
type Handler interface {
	OnBuildResult(success bool)
	OnException(text string)
	StderrLine(line string)
}

// Result is the outcome of one supervised worker run.
type Result struct {
	// Crashed is true if the worker exited (cleanly or not) without ever
	// sending a BuildResult event.
	Crashed bool
}

// Run spawns the worker, sends exactly one Build command, pumps events into
// bus and handler until the worker exits, and returns once every pump has
// drained. The returned error is non-nil only for fatal conditions
// (*CrashError, *TimeoutError, a *protocol.ProtocolError, or an error
// starting the process); a normal BuildResult(false) is reported via
// handler.OnBuildResult and is not an error.
func Run(ctx context.Context, l logger.Logger, conf Config, cmd buildtask.Command, bus *logger.Bus, h Handler) error {
	conf = conf.withDefaults()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	env := []string{"NIX_PATH="}

	proc := process.New(l, process.Config{
		Path:              conf.Path,
		Args:              conf.ExtraArgs,
		Env:               env,
		Stdin:             stdinR,
		Stdout:            stdoutW,
		Stderr:            stderrW,
		Dir:               "/",
		InterruptSignal:   process.SIGTERM,
		SignalGracePeriod: conf.GracePeriod,
	})

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var lastActivityNanos atomic.Int64
	lastActivityNanos.Store(time.Now().UnixNano())
	touch := func() { lastActivityNanos.Store(time.Now().UnixNano()) }

	wallTimer := time.AfterFunc(conf.WallTimeout, func() {
		cancel(&TimeoutError{Silence: false})
	})
	defer wallTimer.Stop()

	silenceCheck := time.NewTicker(conf.SilenceTimeout / 4)
	defer silenceCheck.Stop()
	silenceDone := make(chan struct{})
	go func() {
		defer close(silenceDone)
		for {
			select {
			case <-runCtx.Done():
				return
			case <-silenceCheck.C:
				last := time.Unix(0, lastActivityNanos.Load())
				if time.Since(last) >= conf.SilenceTimeout {
					cancel(&TimeoutError{Silence: true})
					return
				}
			}
		}
	}()

	var crashed atomic.Bool
	crashed.Store(true)

	g, gctx := errgroup.WithContext(runCtx)

	// Command pump: exactly one Build command, then close stdin.
	g.Go(func() error {
		defer stdinW.Close()
		if err := protocol.WriteFrame(stdinW, protocol.EncodeCommand(cmd)); err != nil {
			return fmt.Errorf("worker: writing build command: %w", err)
		}
		return nil
	})

	// Event pump: demultiplex log-bearing frames to the bus, structural
	// events to the handler.
	g.Go(func() error {
		maxFrame := conf.MaxFrameSize
		if maxFrame == 0 {
			maxFrame = protocol.DefaultMaxFrameSize
		}
		dec := protocol.NewDecoderSize(stdoutR, maxFrame)
		for {
			payload, err := dec.ReadFrame()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			touch()

			tag, err := protocol.PeekTag(payload)
			if err != nil {
				return err
			}
			if protocol.IsLogTag(tag) {
				entry, err := protocol.DecodeLogEntry(payload)
				if err != nil {
					return err
				}
				bus.Push(entry)
				continue
			}

			ev, err := protocol.DecodeEvent(payload)
			if err != nil {
				return err
			}
			switch ev.Kind {
			case buildtask.EventBuildResult:
				crashed.Store(false)
				h.OnBuildResult(ev.Success)
			case buildtask.EventException:
				crashed.Store(false)
				h.OnException(ev.Text)
				cancel(fmt.Errorf("worker: exception: %s", ev.Text))
				return nil
			}
		}
	})

	// Stderr pump: line-oriented diagnostics only.
	g.Go(func() error {
		scanner := bufio.NewScanner(stderrR)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			touch()
			h.StderrLine(scanner.Text())
		}
		return scanner.Err()
	})

	g.Go(func() error {
		err := proc.Run(gctx)
		// proc.Run only copies the child's stdout/stderr into our pipes;
		// it never closes them, so the event and stderr pumps would block
		// forever past the child's exit without this.
		stdoutW.Close()
		stderrW.Close()
		return err
	})

	waitErr := g.Wait()

	stdoutR.Close()
	stderrR.Close()
	stdinR.Close()

	if cause := context.Cause(runCtx); cause != nil {
		var te *TimeoutError
		if errors.As(cause, &te) {
			return te
		}
	}

	if waitErr != nil {
		return waitErr
	}

	if crashed.Load() {
		exit := 0
		sig := ""
		ws := proc.WaitStatus()
		if ws.Signaled() {
			sig = process.SignalString(ws.Signal())
		} else {
			exit = ws.ExitStatus()
		}
		return &CrashError{ExitCode: exit, Signal: sig}
	}

	return nil
}
