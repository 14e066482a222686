package protocol

import "fmt"

// ProtocolError is returned for any malformed frame, unknown variant tag, or
// unparseable length on the worker IPC channel (spec §4.1, §7). It is
// always fatal for the task it occurred on; callers map it to
// buildtask.StatusExceptional.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func newProtocolError(op string, err error) error {
	return &ProtocolError{Op: op, Err: err}
}

func protocolErrorf(op, format string, args ...any) error {
	return &ProtocolError{Op: op, Err: fmt.Errorf(format, args...)}
}
