package task_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/buildkite/bintest/v3"
	"github.com/qowoz/hercules-ci-agent/apireporter"
	"github.com/qowoz/hercules-ci-agent/buildtask"
	"github.com/qowoz/hercules-ci-agent/cachepush"
	"github.com/qowoz/hercules-ci-agent/logger"
	"github.com/qowoz/hercules-ci-agent/protocol"
	"github.com/qowoz/hercules-ci-agent/task"
	"github.com/qowoz/hercules-ci-agent/worker"
)

func testLogger() logger.Logger {
	l := logger.NewConsoleLogger(logger.NewTextPrinter(io.Discard), os.Exit)
	l.SetLevel(logger.ERROR)
	return l
}

type fakeCacheBackend struct {
	mu     sync.Mutex
	pushed []string
	fail   bool
}

func (b *fakeCacheBackend) Push(ctx context.Context, storePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return context.DeadlineExceeded
	}
	b.pushed = append(b.pushed, storePath)
	return nil
}

// fakeAPI records every build event reported and serves a fixed list of
// active push caches, mirroring the CI API's build-reporting endpoints
// (spec §6).
type fakeAPI struct {
	mu          sync.Mutex
	events      []json.RawMessage
	statuses    []string
	pushCaches  []string
	srv         *httptest.Server
	logReceived int
}

func newFakeAPI(pushCaches []string) *fakeAPI {
	f := &fakeAPI{pushCaches: pushCaches}
	mux := http.NewServeMux()
	mux.HandleFunc("/tasks/t1/events", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []json.RawMessage `json:"events"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.events = append(f.events, body.Events...)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/tasks/t1/status", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.statuses = append(f.statuses, body.Status)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/push-caches", func(w http.ResponseWriter, r *http.Request) {
		out := struct {
			Caches []string `json:"caches"`
		}{Caches: f.pushCaches}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if _, err := protocol.DecodeLogBatch(body); err == nil {
			f.mu.Lock()
			f.logReceived++
			f.mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	})
	f.srv = httptest.NewServer(mux)
	return f
}

func (f *fakeAPI) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kinds []string
	for _, raw := range f.events {
		var e struct {
			Kind string `json:"kind"`
		}
		_ = json.Unmarshal(raw, &e)
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func compileWorkerProxy(t *testing.T, success bool) *bintest.Proxy {
	t.Helper()
	proxy, err := bintest.CompileProxy("hci-worker-task-test")
	if err != nil {
		t.Fatalf("bintest.CompileProxy: %v", err)
	}
	go func() {
		call := <-proxy.Ch
		dec := protocol.NewDecoder(call.Stdin)
		payload, err := dec.ReadFrame()
		if err != nil {
			call.Exit(1)
			return
		}
		if _, err := protocol.DecodeCommand(payload); err != nil {
			call.Exit(1)
			return
		}
		entry := buildtask.NewMsg(buildtask.LogInfo, 1, "building")
		_ = protocol.WriteFrame(call.Stdout, protocol.EncodeLogEntry(entry))
		_ = protocol.WriteFrame(call.Stdout, protocol.EncodeEvent(buildtask.BuildResultEvent(success)))
		call.Exit(0)
	}()
	return proxy
}

func compileNixStoreProxy(t *testing.T) *bintest.Proxy {
	t.Helper()
	proxy, err := bintest.CompileProxy("nix-store-task-test")
	if err != nil {
		t.Fatalf("bintest.CompileProxy: %v", err)
	}
	go func() {
		for i := 0; i < 2; i++ {
			call := <-proxy.Ch
			switch call.Args[1] {
			case "--size":
				call.Stdout.Write([]byte("2048\n"))
			case "--hash":
				call.Stdout.Write([]byte("sha256:cafef00d\n"))
			}
			call.Exit(0)
		}
	}()
	return proxy
}

func TestRunSuccessfulBuildPushesAndReportsDone(t *testing.T) {
	workerProxy := compileWorkerProxy(t, true)
	defer workerProxy.Close()
	nixProxy := compileNixStoreProxy(t)
	defer nixProxy.Close()

	api := newFakeAPI([]string{"cache-a"})
	defer api.srv.Close()

	backend := &fakeCacheBackend{}
	reporter := apireporter.NewClient(testLogger(), apireporter.Config{Endpoint: api.srv.URL})

	u, err := url.Parse(api.srv.URL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}

	r := task.New(testLogger(), reporter, cachepush.Registry{"cache-a": backend}, nil, task.Config{
		Worker: worker.Config{
			Path:           workerProxy.Path,
			WallTimeout:    10 * time.Second,
			SilenceTimeout: 5 * time.Second,
			GracePeriod:    time.Second,
		},
		NixStorePath: nixProxy.Path,
		LogScheme:    "http",
	})

	tsk := &buildtask.Task{
		ID:       "t1",
		DrvPath:  "/nix/store/aaa.drv",
		LogHost:  u.Host,
		LogPath:  "/logs",
		LogToken: "tok",
		DeclaredOutputs: []buildtask.DeclaredOutput{
			{Name: "out", StorePath: "/nix/store/bbb-hello"},
		},
	}

	outcome := r.Run(context.Background(), tsk)
	if outcome.Status != buildtask.StatusSuccessful {
		t.Fatalf("outcome = %v, want successful", outcome)
	}

	backend.mu.Lock()
	pushed := append([]string(nil), backend.pushed...)
	backend.mu.Unlock()
	if len(pushed) != 1 || pushed[0] != "/nix/store/bbb-hello" {
		t.Fatalf("pushed = %v, want [/nix/store/bbb-hello]", pushed)
	}

	kinds := api.kinds()
	wantKinds := []string{"output_info", "pushed", "done"}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("reported event kinds = %v, want %v", kinds, wantKinds)
	}
	for i, k := range wantKinds {
		if kinds[i] != k {
			t.Fatalf("reported event kinds = %v, want %v", kinds, wantKinds)
		}
	}

	api.mu.Lock()
	statuses := append([]string(nil), api.statuses...)
	api.mu.Unlock()
	if len(statuses) != 1 || statuses[0] != "successful" {
		t.Fatalf("statuses = %v, want [successful]", statuses)
	}
}

func TestRunFailedBuildSkipsPostprocessing(t *testing.T) {
	workerProxy := compileWorkerProxy(t, false)
	defer workerProxy.Close()

	api := newFakeAPI(nil)
	defer api.srv.Close()

	backend := &fakeCacheBackend{}
	reporter := apireporter.NewClient(testLogger(), apireporter.Config{Endpoint: api.srv.URL})

	u, _ := url.Parse(api.srv.URL)

	r := task.New(testLogger(), reporter, cachepush.Registry{"cache-a": backend}, nil, task.Config{
		Worker: worker.Config{
			Path:           workerProxy.Path,
			WallTimeout:    10 * time.Second,
			SilenceTimeout: 5 * time.Second,
			GracePeriod:    time.Second,
		},
		LogScheme: "http",
	})

	tsk := &buildtask.Task{
		ID:      "t1",
		DrvPath: "/nix/store/aaa.drv",
		LogHost: u.Host,
		LogPath: "/logs",
		DeclaredOutputs: []buildtask.DeclaredOutput{
			{Name: "out", StorePath: "/nix/store/bbb-hello"},
		},
	}

	outcome := r.Run(context.Background(), tsk)
	if outcome.Status != buildtask.StatusTerminated {
		t.Fatalf("outcome = %v, want terminated", outcome)
	}

	backend.mu.Lock()
	n := len(backend.pushed)
	backend.mu.Unlock()
	if n != 0 {
		t.Fatalf("pushed %d paths, want 0 for a failed build", n)
	}

	kinds := api.kinds()
	if len(kinds) != 1 || kinds[0] != "done" {
		t.Fatalf("reported event kinds = %v, want [done]", kinds)
	}
}

func TestRunCrashIsExceptional(t *testing.T) {
	proxy, err := bintest.CompileProxy("hci-worker-crash-test")
	if err != nil {
		t.Fatalf("bintest.CompileProxy: %v", err)
	}
	defer proxy.Close()
	go func() {
		call := <-proxy.Ch
		// Exit without ever sending a BuildResult event.
		call.Exit(1)
	}()

	api := newFakeAPI(nil)
	defer api.srv.Close()

	reporter := apireporter.NewClient(testLogger(), apireporter.Config{Endpoint: api.srv.URL})
	u, _ := url.Parse(api.srv.URL)

	r := task.New(testLogger(), reporter, cachepush.Registry{}, nil, task.Config{
		Worker: worker.Config{
			Path:           proxy.Path,
			WallTimeout:    10 * time.Second,
			SilenceTimeout: 5 * time.Second,
			GracePeriod:    time.Second,
		},
		LogScheme: "http",
	})

	tsk := &buildtask.Task{ID: "t1", DrvPath: "/nix/store/aaa.drv", LogHost: u.Host, LogPath: "/logs"}

	outcome := r.Run(context.Background(), tsk)
	if outcome.Status != buildtask.StatusExceptional {
		t.Fatalf("outcome = %v, want exceptional", outcome)
	}
}
