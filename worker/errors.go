package worker

import "fmt"

// CrashError is returned when the worker exits without ever sending a
// BuildResult event (spec §4.4, §7). It is always fatal for the task; the
// runner maps it to buildtask.StatusExceptional.
type CrashError struct {
	ExitCode int
	Signal   string
}

func (e *CrashError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("worker: killed by %s without completing the build", e.Signal)
	}
	return fmt.Sprintf("worker: exited %d without completing the build", e.ExitCode)
}

// TimeoutError is returned when the wall-clock or silence timeout elapses
// before the worker produces a BuildResult (spec §5, §7).
type TimeoutError struct {
	// Silence is true for a silence timeout (no stdout/stderr byte for the
	// configured duration); false for the overall wall-clock timeout.
	Silence bool
}

func (e *TimeoutError) Error() string {
	if e.Silence {
		return "worker: silence timeout exceeded"
	}
	return "worker: wall-clock timeout exceeded"
}
