// Package protocol implements the length-prefixed binary framing used on
// the worker's stdin/stdout (spec §4.1, §6), and the tagged-variant record
// encoding for Command, Event, and LogEntry payloads carried inside frames.
//
// Framing is purely transport: no compression, no checksum, because the
// channel is a trusted local pipe between the agent and a worker it just
// spawned.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize is the frame length ceiling applied when a Decoder is
// constructed with NewDecoder; 16 MiB per spec §4.1.
const DefaultMaxFrameSize = 16 << 20

// WriteFrame writes a single length-prefixed frame: an 8-byte little-endian
// length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return newProtocolError("write frame header", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return newProtocolError("write frame payload", err)
	}
	return nil
}

// Decoder reads length-prefixed frames from an underlying reader, rejecting
// any frame whose declared length exceeds MaxFrameSize.
type Decoder struct {
	r            io.Reader
	maxFrameSize uint64
}

// NewDecoder returns a Decoder with the default 16 MiB frame size ceiling.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, maxFrameSize: DefaultMaxFrameSize}
}

// NewDecoderSize returns a Decoder with a caller-specified frame size
// ceiling, mainly useful for tests that want to exercise the ceiling
// without allocating 16 MiB.
func NewDecoderSize(r io.Reader, maxFrameSize uint64) *Decoder {
	return &Decoder{r: r, maxFrameSize: maxFrameSize}
}

// ReadFrame reads one frame's payload. It returns io.EOF (unwrapped) only
// when zero bytes were read before the stream closed, so callers can
// distinguish "worker closed stdout cleanly" from "worker closed stdout
// mid-frame" (the latter is a ProtocolError wrapping io.ErrUnexpectedEOF).
func (d *Decoder) ReadFrame() ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, newProtocolError("read frame header", err)
	}

	length := binary.LittleEndian.Uint64(hdr[:])
	if length > d.maxFrameSize {
		return nil, protocolErrorf("read frame header", "frame length %d exceeds ceiling %d", length, d.maxFrameSize)
	}

	if length == 0 {
		return nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, newProtocolError("read frame payload", fmt.Errorf("short read: %w", err))
	}
	return payload, nil
}
