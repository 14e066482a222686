package apireporter_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/qowoz/hercules-ci-agent/apireporter"
	"github.com/qowoz/hercules-ci-agent/buildtask"
	"github.com/qowoz/hercules-ci-agent/logger"
)

func testLogger() logger.Logger {
	l := logger.NewConsoleLogger(logger.NewTextPrinter(io.Discard), os.Exit)
	l.SetLevel(logger.ERROR)
	return l
}

func TestUpdateBuildAndReportTaskStatus(t *testing.T) {
	var mu sync.Mutex
	var gotEvents []json.RawMessage
	var gotStatus string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tasks/t1/events":
			var body struct {
				Events []json.RawMessage `json:"events"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			gotEvents = append(gotEvents, body.Events...)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case "/tasks/t1/status":
			var body struct {
				Status string `json:"status"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			mu.Lock()
			gotStatus = body.Status
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := apireporter.NewClient(testLogger(), apireporter.Config{Endpoint: srv.URL})

	if err := c.UpdateBuild(context.Background(), "t1", []buildtask.BuildEvent{buildtask.PushedEvent("demo")}); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}
	if err := c.ReportTaskStatus(context.Background(), "t1", buildtask.Success()); err != nil {
		t.Fatalf("ReportTaskStatus: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotEvents) != 1 {
		t.Fatalf("gotEvents = %d, want 1", len(gotEvents))
	}
	if gotStatus != buildtask.StatusSuccessful.String() {
		t.Fatalf("gotStatus = %q, want %q", gotStatus, buildtask.StatusSuccessful.String())
	}
}

func TestWriteLog(t *testing.T) {
	var mu sync.Mutex
	var gotToken string
	var gotBytes []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/t1/log" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Token string `json:"token"`
			Bytes []byte `json:"bytes"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		gotToken = body.Token
		gotBytes = body.Bytes
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := apireporter.NewClient(testLogger(), apireporter.Config{Endpoint: srv.URL})

	if err := c.WriteLog(context.Background(), "t1", "tok-1", []byte("building...\n")); err != nil {
		t.Fatalf("WriteLog: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotToken != "tok-1" {
		t.Fatalf("gotToken = %q, want %q", gotToken, "tok-1")
	}
	if string(gotBytes) != "building...\n" {
		t.Fatalf("gotBytes = %q, want %q", string(gotBytes), "building...\n")
	}
}

func TestGetActivePushCaches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/push-caches" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(struct {
			Caches []string `json:"caches"`
		}{Caches: []string{"a", "b"}})
	}))
	defer srv.Close()

	c := apireporter.NewClient(testLogger(), apireporter.Config{Endpoint: srv.URL})

	caches, err := c.GetActivePushCaches(context.Background())
	if err != nil {
		t.Fatalf("GetActivePushCaches: %v", err)
	}
	if len(caches) != 2 || caches[0] != "a" || caches[1] != "b" {
		t.Fatalf("caches = %v, want [a b]", caches)
	}
}

func TestIsRetryableNeverRetries4xx(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
	}

	for _, tc := range tests {
		err := &apireporter.ResponseError{StatusCode: tc.status}
		if got := apireporter.IsRetryable(err); got != tc.want {
			t.Errorf("IsRetryable(%d) = %t, want %t", tc.status, got, tc.want)
		}
	}
}
