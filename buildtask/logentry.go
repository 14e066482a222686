package buildtask

// LogLevel mirrors logger.Level without importing the logger package, so
// the data model stays free of presentation concerns; the protocol package
// writes it as a single byte on the wire.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogNotice
	LogInfo
	LogWarn
	LogError
	LogFatal
)

// FieldKind distinguishes the two typed-value variants a LogEntry's Fields
// may carry, per spec §3 ("fields is a sequence of typed values, integer or
// string").
type FieldKind uint8

const (
	FieldInt FieldKind = iota
	FieldString
)

// Field is one typed value attached to a StartActivity or Result entry.
type Field struct {
	Kind FieldKind
	Int  int64
	Str  string
}

func IntField(v int64) Field  { return Field{Kind: FieldInt, Int: v} }
func StrField(v string) Field { return Field{Kind: FieldString, Str: v} }

// LogEntryKind discriminates the LogEntry variants.
type LogEntryKind uint8

const (
	EntryMsg LogEntryKind = iota
	EntryStartActivity
	EntryStopActivity
	EntryResult
)

// LogEntry is the discriminated record produced by the in-process logger
// (spec §3). Exactly one of the per-kind field groups below is meaningful,
// selected by Kind.
type LogEntry struct {
	Kind LogEntryKind

	// Ms is milliseconds since logger start (monotonic), present on every
	// variant.
	Ms uint64

	// Msg fields.
	Level LogLevel
	Text  string

	// StartActivity / StopActivity / Result fields.
	ActivityID   uint64
	ParentID     uint64
	ActivityType string
	Fields       []Field
}

// NewMsg builds a Msg LogEntry.
func NewMsg(level LogLevel, ms uint64, text string) LogEntry {
	return LogEntry{Kind: EntryMsg, Level: level, Ms: ms, Text: text}
}

// NewStartActivity builds a StartActivity LogEntry.
func NewStartActivity(id, parent uint64, ms uint64, level LogLevel, actType, text string, fields []Field) LogEntry {
	return LogEntry{
		Kind:         EntryStartActivity,
		ActivityID:   id,
		ParentID:     parent,
		Ms:           ms,
		Level:        level,
		ActivityType: actType,
		Text:         text,
		Fields:       fields,
	}
}

// NewStopActivity builds a StopActivity LogEntry.
func NewStopActivity(id uint64, ms uint64) LogEntry {
	return LogEntry{Kind: EntryStopActivity, ActivityID: id, Ms: ms}
}

// NewResult builds a Result LogEntry.
func NewResult(id uint64, ms uint64, resultType string, fields []Field) LogEntry {
	return LogEntry{
		Kind:         EntryResult,
		ActivityID:   id,
		Ms:           ms,
		ActivityType: resultType,
		Fields:       fields,
	}
}

// Discardable reports whether this entry may ever be dropped by the logger
// bus under backpressure (spec §4.2): only Msg entries are droppable,
// activity records (StartActivity/StopActivity/Result) never are.
func (e LogEntry) Discardable() bool {
	return e.Kind == EntryMsg
}
