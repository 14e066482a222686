package tracetools

import (
	"context"
	"errors"
	"testing"
)

func TestStartSpanAndEndWithError(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test-op")
	if ctx == nil {
		t.Fatal("StartSpan returned a nil context")
	}
	AddAttributes(span, map[string]string{"task.id": "t1"})
	EndWithError(span, errors.New("boom"))
}

func TestStartSpanNoopWithoutConfigure(t *testing.T) {
	// Without Configure, the global provider is the otel no-op default;
	// StartSpan must still be safe to call.
	_, span := StartSpan(context.Background(), "noop-op")
	EndWithError(span, nil)
}
