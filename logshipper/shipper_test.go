package logshipper_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qowoz/hercules-ci-agent/buildtask"
	"github.com/qowoz/hercules-ci-agent/logger"
	"github.com/qowoz/hercules-ci-agent/logshipper"
	"github.com/qowoz/hercules-ci-agent/protocol"
)

func testLogger() logger.Logger {
	l := logger.NewConsoleLogger(logger.NewTextPrinter(io.Discard), os.Exit)
	l.SetLevel(logger.ERROR)
	return l
}

func TestRunShipsEntriesAndStopsWhenBusCloses(t *testing.T) {
	var gotBatches atomic.Int64
	var gotEntries atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logs" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		entries, err := protocol.DecodeLogBatch(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotBatches.Add(1)
		gotEntries.Add(int64(len(entries)))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}

	bus := logger.NewBus(16)
	bus.Push(buildtask.NewMsg(buildtask.LogInfo, 1, "one"))
	bus.Push(buildtask.NewMsg(buildtask.LogInfo, 2, "two"))
	bus.Close()

	s := logshipper.New(testLogger(), bus, logshipper.Config{
		Scheme:    "http",
		Host:      u.Host,
		Path:      "/logs",
		Token:     "tok",
		BatchSize: 16,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if gotBatches.Load() != 1 {
		t.Errorf("batches delivered = %d, want 1", gotBatches.Load())
	}
	if gotEntries.Load() != 2 {
		t.Errorf("entries delivered = %d, want 2", gotEntries.Load())
	}
}

func TestRunReturnsImmediatelyOnEmptyClosedBus(t *testing.T) {
	bus := logger.NewBus(4)
	bus.Close()

	s := logshipper.New(testLogger(), bus, logshipper.Config{
		Scheme: "http",
		Host:   "127.0.0.1:1", // unreachable; must never be dialed
		Path:   "/logs",
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDefaultBatchSizeConstant(t *testing.T) {
	if logshipper.DefaultBatchSize <= 0 {
		t.Fatalf("DefaultBatchSize = %d, want > 0", logshipper.DefaultBatchSize)
	}
}
