// Package buildtask defines the data model driven through the build
// execution core: the task handed to the agent, the outputs it produces,
// and the terminal status reported back to the CI API.
package buildtask

import "fmt"

// Task is the immutable input to a single build. It is created by the CI
// API and consumed exactly once by a Runner.
type Task struct {
	// ID identifies the task for the lifetime of the build; it is echoed
	// back in every reported event.
	ID string

	// DrvPath is the store path of the derivation to realise.
	DrvPath string

	// InputPaths are the output paths of dependencies that have already
	// been realised, passed to the worker so it need not re-resolve them.
	InputPaths []string

	// LogToken authenticates the task's stream to the remote log socket.
	LogToken string

	// LogHost is the host part of the remote log socket's URL.
	LogHost string

	// LogPath is the path part of the remote log socket's URL.
	LogPath string

	// DeclaredOutputs lists the outputs named in the derivation's own
	// metadata, independent of whether they have been realised yet. The
	// runner's post-processing step (spec §4.5, §4.6) queries exactly
	// this set after a successful build.
	DeclaredOutputs []DeclaredOutput
}

// DeclaredOutput names one output of a derivation and the store path Nix
// assigned it ahead of realisation.
type DeclaredOutput struct {
	Name      string
	StorePath string
}

func (t *Task) String() string {
	return fmt.Sprintf("Task{ID: %s, DrvPath: %s}", t.ID, t.DrvPath)
}

// OutputInfo describes one realised output of a derivation.
type OutputInfo struct {
	// DeriverPath is the store path of the derivation that produced this
	// output.
	DeriverPath string

	// Name is the output name, e.g. "out" or "dev".
	Name string

	// StorePath is the realised, content-addressed store path.
	StorePath string

	// Hash is an opaque content hash string as reported by Nix.
	Hash string

	// Size is the byte size of the store path itself, as reported by
	// nix-store --query --size (not the size of its closure).
	Size uint64
}

// Status is the terminal outcome of a task. Exactly one is produced per
// task run to completion.
type Status int

const (
	// StatusSuccessful means the build succeeded and post-processing ran
	// to completion (cache pushes may still have partially failed).
	StatusSuccessful Status = iota

	// StatusTerminated means the build failed cleanly: BuildResult(false)
	// or a non-zero worker exit with a result reported.
	StatusTerminated

	// StatusExceptional means something went fatally wrong outside of an
	// ordinary build failure: a protocol error, worker crash, or timeout.
	StatusExceptional
)

func (s Status) String() string {
	switch s {
	case StatusSuccessful:
		return "successful"
	case StatusTerminated:
		return "terminated"
	case StatusExceptional:
		return "exceptional"
	default:
		return "unknown"
	}
}

// Outcome pairs a terminal Status with an optional explanatory reason; the
// reason is set (and only set) for StatusExceptional.
type Outcome struct {
	Status Status
	Reason string
}

func Success() Outcome { return Outcome{Status: StatusSuccessful} }

func Terminated() Outcome { return Outcome{Status: StatusTerminated} }

func Exceptional(reason string) Outcome {
	return Outcome{Status: StatusExceptional, Reason: reason}
}

func (o Outcome) String() string {
	if o.Reason == "" {
		return o.Status.String()
	}
	return fmt.Sprintf("%s: %s", o.Status, o.Reason)
}
