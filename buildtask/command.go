package buildtask

// LogSettings tells the worker where and how to authenticate when it
// forwards log-bearing frames (it doesn't dial the remote log socket
// itself; these fields are threaded through so the worker's own embedded
// logger can tag its output the same way the agent's log shipper does).
type LogSettings struct {
	Token string
	Path  string
	Host  string
}

// Command is a message sent to the worker. Only one variant exists today
// (spec §3): Build. The type is kept as a sum type (rather than a bare
// struct) so the frame codec and supervisor have a single place to extend
// it if a second command is ever introduced.
type Command struct {
	Build *BuildCommand
}

// BuildCommand instructs the worker to realise one derivation.
type BuildCommand struct {
	DrvPath     string
	InputPaths  []string
	LogSettings LogSettings
}

// NewBuildCommand constructs the Command for a Task, per spec §4.5
// ("construct Build command from the task").
func NewBuildCommand(t *Task) Command {
	return Command{
		Build: &BuildCommand{
			DrvPath:    t.DrvPath,
			InputPaths: t.InputPaths,
			LogSettings: LogSettings{
				Token: t.LogToken,
				Path:  t.LogPath,
				Host:  t.LogHost,
			},
		},
	}
}

// EventKind discriminates the structural Event variants a worker emits
// (log-bearing frames are handled separately, see protocol.LogEntryTag*).
type EventKind uint8

const (
	EventBuildResult EventKind = iota
	EventException
)

// Event is a structural message received from the worker (spec §3).
// Log-bearing frames are decoded directly into LogEntry by the protocol
// package and never become an Event.
type Event struct {
	Kind EventKind

	// BuildResult fields.
	Success bool

	// Exception fields.
	Text string
}

func BuildResultEvent(success bool) Event {
	return Event{Kind: EventBuildResult, Success: success}
}

func ExceptionEvent(text string) Event {
	return Event{Kind: EventException, Text: text}
}
