package buildtask

// BuildEventKind discriminates the events the runner reports to the CI API
// via updateBuild (spec §4.5, §6). All variants are additive; the server is
// expected to tolerate duplicates from a retried updateBuild call.
type BuildEventKind int

const (
	BuildEventOutputInfo BuildEventKind = iota
	BuildEventPushed
	BuildEventDone
)

// BuildEvent is one reported step of a task's post-processing. Exactly one
// of the per-kind fields below is meaningful, selected by Kind.
type BuildEvent struct {
	Kind BuildEventKind

	// OutputInfo fields.
	Output OutputInfo

	// Pushed fields.
	Cache string

	// Done fields.
	Success bool
	Outcome Outcome
}

func OutputInfoEvent(o OutputInfo) BuildEvent {
	return BuildEvent{Kind: BuildEventOutputInfo, Output: o}
}

func PushedEvent(cache string) BuildEvent {
	return BuildEvent{Kind: BuildEventPushed, Cache: cache}
}

func DoneEvent(outcome Outcome) BuildEvent {
	return BuildEvent{Kind: BuildEventDone, Success: outcome.Status == StatusSuccessful, Outcome: outcome}
}
