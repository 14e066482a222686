package protocol

import "github.com/qowoz/hercules-ci-agent/buildtask"

// EncodeLogBatch renders a batch of LogEntry records in the remote log
// wire format (spec §6): a u32_le count followed by that many concatenated
// LogEntry records. Unlike a worker-IPC frame, a batch has no length
// prefix around each record; record boundaries are implied by each
// variant's fixed field layout.
func EncodeLogBatch(entries []buildtask.LogEntry) []byte {
	w := &writer{}
	w.u32(uint32(len(entries)))
	for _, e := range entries {
		w.buf = append(w.buf, EncodeLogEntry(e)...)
	}
	return w.bytes()
}

// DecodeLogBatch parses a batch encoded by EncodeLogBatch.
func DecodeLogBatch(payload []byte) ([]buildtask.LogEntry, error) {
	const op = "decode log batch"
	r := newReader(op, payload)

	n, err := r.u32()
	if err != nil {
		return nil, err
	}

	out := make([]buildtask.LogEntry, 0, n)
	for range n {
		e, err := decodeLogEntryAt(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return out, nil
}
