package protocol

import "github.com/qowoz/hercules-ci-agent/buildtask"

// Log-bearing frame tags (spec §6): 0x20..0x23.
const (
	tagMsg           uint8 = 0x20
	tagStartActivity uint8 = 0x21
	tagStopActivity  uint8 = 0x22
	tagResult        uint8 = 0x23
)

// field kind markers within an encoded Fields list.
const (
	fieldKindInt uint8 = 0
	fieldKindStr uint8 = 1
)

func (w *writer) fields(fields []buildtask.Field) {
	w.u32(uint32(len(fields)))
	for _, f := range fields {
		switch f.Kind {
		case buildtask.FieldInt:
			w.u8(fieldKindInt)
			w.i64(f.Int)
		case buildtask.FieldString:
			w.u8(fieldKindStr)
			w.str(f.Str)
		}
	}
}

func (r *reader) fields() ([]buildtask.Field, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]buildtask.Field, 0, n)
	for range n {
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		switch kind {
		case fieldKindInt:
			v, err := r.i64()
			if err != nil {
				return nil, err
			}
			out = append(out, buildtask.IntField(v))
		case fieldKindStr:
			s, err := r.str()
			if err != nil {
				return nil, err
			}
			out = append(out, buildtask.StrField(s))
		default:
			return nil, unknownTag(r.op, kind)
		}
	}
	return out, nil
}

// EncodeLogEntry renders a LogEntry into a frame payload.
func EncodeLogEntry(e buildtask.LogEntry) []byte {
	w := &writer{}
	switch e.Kind {
	case buildtask.EntryMsg:
		w.u8(tagMsg)
		w.u8(uint8(e.Level))
		w.u64(e.Ms)
		w.str(e.Text)

	case buildtask.EntryStartActivity:
		w.u8(tagStartActivity)
		w.u64(e.ActivityID)
		w.u8(uint8(e.Level))
		w.u64(e.Ms)
		w.str(e.ActivityType)
		w.str(e.Text)
		w.fields(e.Fields)
		w.u64(e.ParentID)

	case buildtask.EntryStopActivity:
		w.u8(tagStopActivity)
		w.u64(e.ActivityID)
		w.u64(e.Ms)

	case buildtask.EntryResult:
		w.u8(tagResult)
		w.u64(e.ActivityID)
		w.u64(e.Ms)
		w.str(e.ActivityType)
		w.fields(e.Fields)

	default:
		panic("protocol: EncodeLogEntry called with an unknown LogEntry kind")
	}
	return w.bytes()
}

// DecodeLogEntry parses a log-bearing frame payload (tags 0x20..0x23).
func DecodeLogEntry(payload []byte) (buildtask.LogEntry, error) {
	const op = "decode log entry"
	r := newReader(op, payload)

	e, err := decodeLogEntryAt(r)
	if err != nil {
		return buildtask.LogEntry{}, err
	}
	if err := r.finish(); err != nil {
		return buildtask.LogEntry{}, err
	}
	return e, nil
}

// decodeLogEntryAt decodes one LogEntry record starting at r's current
// position and leaves r positioned just past it, without requiring r to be
// fully consumed. Used both by DecodeLogEntry (one record per payload) and
// DecodeLogBatch (several records concatenated per payload).
func decodeLogEntryAt(r *reader) (buildtask.LogEntry, error) {
	const op = "decode log entry"

	tag, err := r.u8()
	if err != nil {
		return buildtask.LogEntry{}, err
	}

	switch tag {
	case tagMsg:
		level, err := r.u8()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		ms, err := r.u64()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		text, err := r.str()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		return buildtask.NewMsg(buildtask.LogLevel(level), ms, text), nil

	case tagStartActivity:
		id, err := r.u64()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		level, err := r.u8()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		ms, err := r.u64()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		actType, err := r.str()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		text, err := r.str()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		fields, err := r.fields()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		parent, err := r.u64()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		return buildtask.NewStartActivity(id, parent, ms, buildtask.LogLevel(level), actType, text, fields), nil

	case tagStopActivity:
		id, err := r.u64()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		ms, err := r.u64()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		return buildtask.NewStopActivity(id, ms), nil

	case tagResult:
		id, err := r.u64()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		ms, err := r.u64()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		resultType, err := r.str()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		fields, err := r.fields()
		if err != nil {
			return buildtask.LogEntry{}, err
		}
		return buildtask.NewResult(id, ms, resultType, fields), nil

	default:
		return buildtask.LogEntry{}, unknownTag(op, tag)
	}
}
