// Command agent runs a single build task end to end: it spawns the worker,
// supervises it, queries and pushes its outputs, and reports progress and
// the terminal status to the CI API (spec §4.5). It is deliberately thin:
// one task in, one Outcome out. Fleet management, scheduling, and task
// acquisition live outside this core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/qowoz/hercules-ci-agent/apireporter"
	"github.com/qowoz/hercules-ci-agent/buildtask"
	"github.com/qowoz/hercules-ci-agent/cachepush"
	"github.com/qowoz/hercules-ci-agent/logger"
	"github.com/qowoz/hercules-ci-agent/metrics"
	"github.com/qowoz/hercules-ci-agent/task"
	"github.com/qowoz/hercules-ci-agent/worker"
)

// taskSpec is the on-disk JSON shape of one task descriptor. It exists only
// at this boundary; everywhere else the core works in terms of
// buildtask.Task.
type taskSpec struct {
	ID         string   `json:"id"`
	DrvPath    string   `json:"drv_path"`
	InputPaths []string `json:"input_paths"`
	LogToken   string   `json:"log_token"`
	LogHost    string   `json:"log_host"`
	LogPath    string   `json:"log_path"`
	Outputs    []struct {
		Name      string `json:"name"`
		StorePath string `json:"store_path"`
	} `json:"outputs"`
}

func (s taskSpec) toTask() *buildtask.Task {
	outputs := make([]buildtask.DeclaredOutput, len(s.Outputs))
	for i, o := range s.Outputs {
		outputs[i] = buildtask.DeclaredOutput{Name: o.Name, StorePath: o.StorePath}
	}
	return &buildtask.Task{
		ID:              s.ID,
		DrvPath:         s.DrvPath,
		InputPaths:      s.InputPaths,
		LogToken:        s.LogToken,
		LogHost:         s.LogHost,
		LogPath:         s.LogPath,
		DeclaredOutputs: outputs,
	}
}

func main() {
	var (
		taskFile    = flag.String("task", "", "path to a task descriptor JSON file (- for stdin)")
		workerPath  = flag.String("worker", "hci-worker", "path to the worker executable")
		apiEndpoint = flag.String("api-endpoint", os.Getenv("HCI_API_ENDPOINT"), "base URL of the CI API")
		apiToken    = flag.String("api-token", os.Getenv("HCI_API_TOKEN"), "bearer token for the CI API")
		metricsAddr = flag.String("metrics-addr", "", "address to serve Prometheus metrics on; empty disables")
	)
	flag.Parse()

	l := logger.NewConsoleLogger(logger.NewTextPrinter(os.Stderr), os.Exit)
	if os.Getenv("HCI_DEBUG") != "" {
		l.SetLevel(logger.DEBUG)
	}

	if *taskFile == "" {
		l.Fatal("agent: -task is required")
	}
	if *apiEndpoint == "" {
		l.Fatal("agent: -api-endpoint (or HCI_API_ENDPOINT) is required")
	}

	spec, err := readTaskSpec(*taskFile)
	if err != nil {
		l.Fatal("agent: reading task descriptor: %v", err)
	}
	if spec.ID == "" {
		// A hand-written descriptor (as opposed to one assigned an ID by
		// the CI API) may omit it; a random one is enough to correlate
		// this run's reported events.
		spec.ID = uuid.NewString()
	}

	collector := metrics.NewCollector()
	if *metricsAddr != "" {
		go func() {
			l.Error("agent: metrics server exited: %v", serveMetrics(*metricsAddr, collector))
		}()
	}

	reporter := apireporter.NewClient(l, apireporter.Config{
		Endpoint: *apiEndpoint,
		Token:    *apiToken,
	})

	caches, err := loadCacheRegistry(context.Background(), l)
	if err != nil {
		l.Fatal("agent: configuring cache backends: %v", err)
	}

	runner := task.New(l, reporter, caches, collector, task.Config{
		Worker: worker.Config{
			Path:           *workerPath,
			WallTimeout:    worker.DefaultWallTimeout,
			SilenceTimeout: worker.DefaultSilenceTimeout,
			GracePeriod:    worker.DefaultGracePeriod,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome := runner.Run(ctx, spec.toTask())
	l.Info("agent: task %s finished: %s", spec.ID, outcome)

	if outcome.Status != buildtask.StatusSuccessful {
		os.Exit(1)
	}
}

func readTaskSpec(path string) (taskSpec, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return taskSpec{}, err
		}
		defer f.Close()
		r = f
	}

	var spec taskSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return taskSpec{}, fmt.Errorf("decoding task descriptor: %w", err)
	}
	return spec, nil
}

// loadCacheRegistry builds the cache Registry from environment-provided
// destinations. The core never owns cache credentials (spec §1 Non-goals);
// each backend resolves its own from the ambient environment (AWS/GCS/Azure
// default credential chains), the same as the teacher's artifact uploaders.
func loadCacheRegistry(ctx context.Context, l logger.Logger) (cachepush.Registry, error) {
	reg := cachepush.Registry{}

	if dest := os.Getenv("HCI_CACHE_S3"); dest != "" {
		backend, err := cachepush.NewS3Backend(ctx, l, cachepush.S3Config{Destination: dest})
		if err != nil {
			return nil, fmt.Errorf("s3 cache backend: %w", err)
		}
		reg["s3"] = backend
	}

	if dest := os.Getenv("HCI_CACHE_GCS"); dest != "" {
		backend, err := cachepush.NewGCSBackend(ctx, l, cachepush.GCSConfig{Destination: dest})
		if err != nil {
			return nil, fmt.Errorf("gcs cache backend: %w", err)
		}
		reg["gcs"] = backend
	}

	if account := os.Getenv("HCI_CACHE_AZURE_ACCOUNT"); account != "" {
		backend, err := cachepush.NewAzureBlobBackend(l, cachepush.AzureBlobConfig{
			StorageAccount: account,
			Container:      os.Getenv("HCI_CACHE_AZURE_CONTAINER"),
			Prefix:         os.Getenv("HCI_CACHE_AZURE_PREFIX"),
		})
		if err != nil {
			return nil, fmt.Errorf("azure cache backend: %w", err)
		}
		reg["azure"] = backend
	}

	return reg, nil
}

func serveMetrics(addr string, collector *metrics.Collector) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return srv.ListenAndServe()
}
