// Package task drives a single build through the state machine described
// in spec §4.5: INIT → SPAWNING → BUILDING → POSTPROCESS →
// (REPORTING_OK | REPORTING_FAIL) → DONE. It is the glue between the
// worker supervisor, the Nix store inspector, the cache pusher, and the
// API reporter.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qowoz/hercules-ci-agent/apireporter"
	"github.com/qowoz/hercules-ci-agent/buildtask"
	"github.com/qowoz/hercules-ci-agent/cachepush"
	"github.com/qowoz/hercules-ci-agent/logger"
	"github.com/qowoz/hercules-ci-agent/logshipper"
	"github.com/qowoz/hercules-ci-agent/metrics"
	"github.com/qowoz/hercules-ci-agent/nixstore"
	"github.com/qowoz/hercules-ci-agent/tracetools"
	"github.com/qowoz/hercules-ci-agent/worker"
)

// Config configures a Runner. All fields apply to every task the Runner
// handles.
type Config struct {
	Worker worker.Config

	// NixStorePath is the nix-store executable used to query outputs;
	// empty uses nixstore.DefaultBinary.
	NixStorePath string

	// CachePushParallelism bounds concurrent uploads per active cache;
	// zero uses cachepush.DefaultParallelism.
	CachePushParallelism int

	// LogBusCapacity bounds the number of buffered log entries awaiting
	// shipment before discardable entries are dropped; zero uses
	// logger.DefaultBusCapacity.
	LogBusCapacity int

	LogScheme string // defaults to "https"; tests override to "http"
}

func (c Config) withDefaults() Config {
	if c.CachePushParallelism <= 0 {
		c.CachePushParallelism = cachepush.DefaultParallelism
	}
	return c
}

// Runner executes tasks one at a time (callers wanting concurrency run
// multiple Runners, each with its own Config.Worker.Path invocation).
type Runner struct {
	logger    logger.Logger
	reporter  *apireporter.Client
	inspector *nixstore.Inspector
	caches    cachepush.Registry
	metrics   *metrics.Collector
	conf      Config
}

// New returns a Runner. caches maps a cache identifier (as returned by
// apireporter.GetActivePushCaches) to the Backend that serves it; m may be
// nil.
func New(l logger.Logger, reporter *apireporter.Client, caches cachepush.Registry, m *metrics.Collector, conf Config) *Runner {
	conf = conf.withDefaults()
	return &Runner{
		logger:    l,
		reporter:  reporter,
		inspector: nixstore.NewInspector(conf.NixStorePath),
		caches:    caches,
		metrics:   m,
		conf:      conf,
	}
}

// Run drives t to a terminal Outcome, reporting its progress and final
// status to the API reporter along the way. It returns once DONE is
// reached; the only error paths are reflected in the returned Outcome, not
// a Go error, since a build failure is an expected terminal state (spec
// §4.5, §7).
func (r *Runner) Run(ctx context.Context, t *buildtask.Task) buildtask.Outcome {
	ctx, span := tracetools.StartSpan(ctx, "task.run")
	tracetools.AddAttributes(span, map[string]string{"task.id": t.ID})
	start := time.Now()

	outcome := r.run(ctx, t)

	tracetools.EndWithError(span, nil)
	if r.metrics != nil {
		r.metrics.ObserveBuildDuration(outcome.Status.String(), time.Since(start).Seconds())
	}
	return outcome
}

func (r *Runner) run(ctx context.Context, t *buildtask.Task) buildtask.Outcome {
	_, spawnSpan := tracetools.StartSpan(ctx, "task.spawning")
	tracetools.AddAttributes(spawnSpan, map[string]string{"task.id": t.ID})

	bus := logger.NewBus(r.conf.LogBusCapacity)

	shipCtx, cancelShip := context.WithCancel(ctx)
	defer cancelShip()

	shipper := logshipper.New(r.logger, bus, logshipper.Config{
		Host:   t.LogHost,
		Path:   t.LogPath,
		Scheme: r.conf.LogScheme,
		Token:  t.LogToken,
	}, r.metrics)

	var shipWG sync.WaitGroup
	shipWG.Add(1)
	go func() {
		defer shipWG.Done()
		if err := shipper.Run(shipCtx); err != nil {
			r.logger.Error("task %s: log shipper: %v", t.ID, err)
		}
	}()

	h := &resultHandler{ctx: ctx, logger: r.logger, reporter: r.reporter, taskID: t.ID, logToken: t.LogToken}

	if r.metrics != nil {
		r.metrics.WorkerSpawned()
	}
	cmd := buildtask.NewBuildCommand(t)
	tracetools.EndWithError(spawnSpan, nil)

	buildCtx, buildSpan := tracetools.StartSpan(ctx, "task.building")
	tracetools.AddAttributes(buildSpan, map[string]string{"task.id": t.ID})
	runErr := worker.Run(buildCtx, r.logger, r.conf.Worker, cmd, bus, h)
	if r.metrics != nil {
		r.metrics.WorkerExited()
	}

	bus.Close()
	shipWG.Wait()

	if r.metrics != nil {
		if dropped := bus.Dropped(); dropped > 0 {
			r.metrics.LoggerBusDropped(dropped)
		}
	}
	tracetools.EndWithError(buildSpan, runErr)

	outcome := r.classify(runErr, h)

	if outcome.Status == buildtask.StatusSuccessful {
		postCtx, postSpan := tracetools.StartSpan(ctx, "task.postprocess")
		tracetools.AddAttributes(postSpan, map[string]string{"task.id": t.ID})
		outcome = r.postprocess(postCtx, t)
		tracetools.EndWithError(postSpan, nil)
	} else {
		r.reportDoneTraced(ctx, t, outcome, "task.reporting_fail")
	}

	return outcome
}

// classify maps a worker.Run error (or a clean exit) to the BUILDING →
// {POSTPROCESS, REPORTING_FAIL} transition (spec §4.5).
func (r *Runner) classify(runErr error, h *resultHandler) buildtask.Outcome {
	if runErr != nil {
		return buildtask.Exceptional(runErr.Error())
	}
	if h.exceptionText() != "" {
		return buildtask.Exceptional(h.exceptionText())
	}
	if !h.hasResult() {
		return buildtask.Exceptional("worker exited without a build result")
	}
	if h.success() {
		return buildtask.Success()
	}
	return buildtask.Terminated()
}

// postprocess implements the POSTPROCESS state (spec §4.5): query output
// info, emit it, push to every active cache, emit Pushed per successful
// cache, then emit Done and report the terminal status.
func (r *Runner) postprocess(ctx context.Context, t *buildtask.Task) buildtask.Outcome {
	outputs, err := r.inspector.Inspect(ctx, t.DrvPath, t.DeclaredOutputs)
	if err != nil {
		outcome := buildtask.Exceptional(fmt.Sprintf("querying outputs: %v", err))
		r.reportDoneTraced(ctx, t, outcome, "task.reporting_fail")
		return outcome
	}

	outputEvents := make([]buildtask.BuildEvent, 0, len(outputs))
	paths := make([]string, 0, len(outputs))
	for _, out := range outputs {
		outputEvents = append(outputEvents, buildtask.OutputInfoEvent(out))
		paths = append(paths, out.StorePath)
	}
	if len(outputEvents) > 0 {
		if err := r.reporter.UpdateBuild(ctx, t.ID, outputEvents); err != nil {
			r.logger.Error("task %s: reporting output info: %v", t.ID, err)
		}
	}

	r.pushCaches(ctx, t, paths)

	outcome := buildtask.Success()
	r.reportDoneTraced(ctx, t, outcome, "task.reporting_ok")
	return outcome
}

// reportDoneTraced wraps reportDone in a span named for the REPORTING_OK /
// REPORTING_FAIL state transition it belongs to (spec §4.10).
func (r *Runner) reportDoneTraced(ctx context.Context, t *buildtask.Task, outcome buildtask.Outcome, spanName string) {
	ctx, span := tracetools.StartSpan(ctx, spanName)
	tracetools.AddAttributes(span, map[string]string{"task.id": t.ID})
	r.reportDone(ctx, t, outcome)
	tracetools.EndWithError(span, nil)
}

// pushCaches implements §4.5(c)/(d) and §4.7: push every output path to
// every active cache the reporter knows about, at Config.CachePushParallelism
// per cache, emitting Pushed only for caches that fully succeeded. A cache
// the reporter lists but this process has no Backend for is skipped with a
// warning, not a failure.
func (r *Runner) pushCaches(ctx context.Context, t *buildtask.Task, paths []string) {
	if len(paths) == 0 {
		return
	}

	cacheIDs, err := r.reporter.GetActivePushCaches(ctx)
	if err != nil {
		r.logger.Error("task %s: fetching active push caches: %v", t.ID, err)
		return
	}

	var pushedEvents []buildtask.BuildEvent
	for _, cacheID := range cacheIDs {
		backend, ok := r.caches.Backend(cacheID)
		if !ok {
			r.logger.Warn("task %s: no backend registered for cache %q, skipping", t.ID, cacheID)
			continue
		}

		ctx, span := tracetools.StartSpan(ctx, "task.push_cache")
		tracetools.AddAttributes(span, map[string]string{"task.id": t.ID, "cache.id": cacheID})
		pusher := cachepush.New(r.logger, r.metrics, cacheID, backend, r.conf.CachePushParallelism)
		ok = pusher.PushAll(ctx, paths)
		tracetools.EndWithError(span, nil)

		if ok {
			pushedEvents = append(pushedEvents, buildtask.PushedEvent(cacheID))
		}
	}

	if len(pushedEvents) > 0 {
		if err := r.reporter.UpdateBuild(ctx, t.ID, pushedEvents); err != nil {
			r.logger.Error("task %s: reporting pushed caches: %v", t.ID, err)
		}
	}
}

func (r *Runner) reportDone(ctx context.Context, t *buildtask.Task, outcome buildtask.Outcome) {
	if err := r.reporter.UpdateBuild(ctx, t.ID, []buildtask.BuildEvent{buildtask.DoneEvent(outcome)}); err != nil {
		r.logger.Error("task %s: reporting done event: %v", t.ID, err)
	}
	if err := r.reporter.ReportTaskStatus(ctx, t.ID, outcome); err != nil {
		r.logger.Error("task %s: reporting terminal status: %v", t.ID, err)
	}
}

// resultHandler implements worker.Handler, capturing the single structural
// outcome a worker run produces (spec §4.4: BuildResult is terminal).
type resultHandler struct {
	ctx      context.Context
	logger   logger.Logger
	reporter *apireporter.Client
	taskID   string
	logToken string

	mu        sync.Mutex
	gotResult bool
	succeeded bool
	exception string
}

func (h *resultHandler) OnBuildResult(success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gotResult {
		h.logger.Warn("task %s: ignoring duplicate BuildResult", h.taskID)
		return
	}
	h.gotResult = true
	h.succeeded = success
}

func (h *resultHandler) OnException(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gotResult {
		h.logger.Warn("task %s: ignoring Exception after terminal BuildResult", h.taskID)
		return
	}
	h.exception = text
}

// StderrLine forwards one line of worker stderr to the API's build log
// (spec §6 writeLog) in addition to the agent's own diagnostic log; a
// failure to ship it is not fatal to the build.
func (h *resultHandler) StderrLine(line string) {
	h.logger.Debug("task %s: worker stderr: %s", h.taskID, line)
	if h.reporter == nil {
		return
	}
	if err := h.reporter.WriteLog(h.ctx, h.taskID, h.logToken, []byte(line+"\n")); err != nil {
		h.logger.Warn("task %s: writing stderr to build log: %v", h.taskID, err)
	}
}

func (h *resultHandler) hasResult() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gotResult
}

func (h *resultHandler) success() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.succeeded
}

func (h *resultHandler) exceptionText() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exception
}
