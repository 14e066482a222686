package apireporter

import (
	"net"
	"net/url"
	"strings"
	"syscall"
)

var retryableErrorSuffixes = []string{
	syscall.ECONNREFUSED.Error(),
	syscall.ECONNRESET.Error(),
	syscall.ETIMEDOUT.Error(),
	"no such host",
	"remote error: handshake failure",
}

// isRetryableError mirrors the teacher's api.IsRetryableError: connection
// resets, timeouts, and DNS failures are worth retrying, everything else is
// treated as a permanent failure.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if neterr, ok := err.(net.Error); ok && neterr.Timeout() {
		return true
	}

	if urlerr, ok := err.(*url.Error); ok {
		if strings.Contains(urlerr.Error(), "use of closed network connection") {
			return true
		}
		if neturlerr, ok := urlerr.Err.(net.Error); ok && neturlerr.Timeout() {
			return true
		}
	}

	if strings.Contains(err.Error(), "request canceled while waiting for connection") {
		return true
	}

	s := err.Error()
	for _, suffix := range retryableErrorSuffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}

	return false
}
