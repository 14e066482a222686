package protocol

import "github.com/qowoz/hercules-ci-agent/buildtask"

// Event tags (spec §6).
const (
	tagBuildResult uint8 = 0x10
	tagException   uint8 = 0x11
)

// IsLogTag reports whether tag belongs to the log-bearing frame range
// (0x20..0x23); such frames decode via DecodeLogEntry, not DecodeEvent.
func IsLogTag(tag uint8) bool {
	return tag >= tagMsg && tag <= tagResult
}

// PeekTag returns the variant tag of a frame payload without consuming it,
// so the event pump can route the frame to DecodeEvent or DecodeLogEntry.
func PeekTag(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, protocolErrorf("peek tag", "empty payload")
	}
	return payload[0], nil
}

// EncodeEvent renders an Event into a frame payload. Used by test doubles
// standing in for a worker process.
func EncodeEvent(e buildtask.Event) []byte {
	w := &writer{}
	switch e.Kind {
	case buildtask.EventBuildResult:
		w.u8(tagBuildResult)
		if e.Success {
			w.u8(1)
		} else {
			w.u8(0)
		}
	case buildtask.EventException:
		w.u8(tagException)
		w.str(e.Text)
	default:
		panic("protocol: EncodeEvent called with an unknown Event kind")
	}
	return w.bytes()
}

// DecodeEvent parses a structural Event frame payload (tags 0x10, 0x11).
// Log-bearing frames (0x20..0x23) must be routed to DecodeLogEntry instead.
func DecodeEvent(payload []byte) (buildtask.Event, error) {
	const op = "decode event"
	r := newReader(op, payload)

	tag, err := r.u8()
	if err != nil {
		return buildtask.Event{}, err
	}

	switch tag {
	case tagBuildResult:
		b, err := r.u8()
		if err != nil {
			return buildtask.Event{}, err
		}
		if err := r.finish(); err != nil {
			return buildtask.Event{}, err
		}
		return buildtask.BuildResultEvent(b != 0), nil

	case tagException:
		text, err := r.str()
		if err != nil {
			return buildtask.Event{}, err
		}
		if err := r.finish(); err != nil {
			return buildtask.Event{}, err
		}
		return buildtask.ExceptionEvent(text), nil

	default:
		return buildtask.Event{}, unknownTag(op, tag)
	}
}
