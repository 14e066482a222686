package protocol

import (
	"encoding/binary"
	"fmt"
)

// writer accumulates a payload using the primitive encodings from spec §6:
// str = u32_le length + UTF-8 bytes; integers are little-endian.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) strList(ss []string) {
	w.u32(uint32(len(ss)))
	for _, s := range ss {
		w.str(s)
	}
}

func (w *writer) bytes() []byte { return w.buf }

// reader consumes a payload using the same primitive encodings.
type reader struct {
	buf []byte
	pos int
	op  string
}

func newReader(op string, buf []byte) *reader {
	return &reader{buf: buf, op: op}
}

func (r *reader) need(n int) error {
	if len(r.buf)-r.pos < n {
		return protocolErrorf(r.op, "need %d bytes, have %d", n, len(r.buf)-r.pos)
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *reader) strList() ([]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for range n {
		s, err := r.str()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *reader) atEnd() bool { return r.pos == len(r.buf) }

func (r *reader) finish() error {
	if !r.atEnd() {
		return protocolErrorf(r.op, "%d trailing bytes after decoding payload", len(r.buf)-r.pos)
	}
	return nil
}

func unknownTag(op string, tag uint8) error {
	return protocolErrorf(op, fmt.Sprintf("unknown variant tag 0x%02x", tag))
}
