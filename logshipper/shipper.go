// Package logshipper streams LogEntry batches drained from the logger bus
// to a remote log endpoint over a reused, authenticated HTTP connection
// (spec §4.3), reconnecting with backoff on transport/5xx failures.
package logshipper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/buildkite/roko"
	"github.com/dustin/go-humanize"
	"github.com/qowoz/hercules-ci-agent/apireporter"
	"github.com/qowoz/hercules-ci-agent/buildtask"
	"github.com/qowoz/hercules-ci-agent/internal/agenthttp"
	"github.com/qowoz/hercules-ci-agent/logger"
	"github.com/qowoz/hercules-ci-agent/metrics"
	"github.com/qowoz/hercules-ci-agent/protocol"
)

// DefaultBatchSize bounds how many LogEntry records are drained from the
// bus per delivered batch.
const DefaultBatchSize = 256

// DefaultCloseGrace bounds how long the delivery of a single batch, retries
// included, may take before that batch is given up. It does not put an
// overall limit on draining the bus after it is closed.
const DefaultCloseGrace = 10 * time.Second

// Config identifies the remote log socket and tunes batching.
type Config struct {
	// Host and Path identify the remote endpoint: <Scheme>://<Host><Path>.
	Host string
	Path string

	// Scheme defaults to "https"; tests override it to "http" against an
	// httptest server.
	Scheme string

	// Token authenticates the stream (spec §6).
	Token string

	BatchSize  int
	CloseGrace time.Duration

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.CloseGrace <= 0 {
		c.CloseGrace = DefaultCloseGrace
	}
	if c.Scheme == "" {
		c.Scheme = "https"
	}
	return c
}

// Shipper drains a logger.Bus and delivers batches to the remote log
// endpoint until the bus is closed and drained.
type Shipper struct {
	conf    Config
	bus     *logger.Bus
	logger  logger.Logger
	metrics *metrics.Collector
	client  *http.Client
}

// New returns a Shipper for conf, draining bus. m may be nil.
func New(l logger.Logger, bus *logger.Bus, conf Config, m *metrics.Collector) *Shipper {
	conf = conf.withDefaults()
	client := conf.HTTPClient
	if client == nil {
		client = agenthttp.NewClient(agenthttp.WithAuthToken(conf.Token))
	}
	return &Shipper{conf: conf, bus: bus, logger: l, metrics: m, client: client}
}

// Run drains the bus and ships batches until the bus is closed (the normal
// stop signal per spec §4.2, §4.3), then ships whatever remains and returns.
// Each batch's delivery is bounded by CloseGrace; the drain after close as a
// whole has no time limit. ctx governs each individual delivery's deadline
// and cancellation; it is not how Run itself is told to stop — the caller
// stops Run by calling bus.Close().
//
// A delivery failure that exhausts retries is logged and the batch is
// dropped (spec §4.3: "no duplicate suppression... acceptable by design"
// tolerates loss of a batch the server never received, not a crash of the
// shipper).
func (s *Shipper) Run(ctx context.Context) error {
	for {
		entries := s.bus.PopMany(s.conf.BatchSize)
		if entries == nil {
			return nil
		}

		deliverCtx, cancel := context.WithTimeout(ctx, s.conf.CloseGrace)
		err := s.deliver(deliverCtx, entries)
		cancel()
		if err != nil {
			s.logger.Error("logshipper: giving up on a batch of %d entries (%s): %v",
				len(entries), humanize.IBytes(uint64(len(protocol.EncodeLogBatch(entries)))), err)
		}
	}
}

// deliver POSTs one batch, reconnecting with backoff on transport/5xx
// failures (spec §4.3's reconnect policy).
func (s *Shipper) deliver(ctx context.Context, entries []buildtask.LogEntry) error {
	body := protocol.EncodeLogBatch(entries)

	r := roko.NewRetrier(
		roko.WithMaxAttempts(6),
		roko.WithStrategy(roko.Exponential(time.Second, 500*time.Millisecond)),
		roko.WithJitter(),
	)

	_, err := roko.DoFunc(ctx, r, func(r *roko.Retrier) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url(), bytes.NewReader(body))
		if err != nil {
			r.Break()
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := agenthttp.Do(s.logger, s.client, req)
		if err != nil {
			if s.metrics != nil && r.AttemptCount() > 1 {
				s.metrics.LogBatchRetried()
			}
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			respErr := &apireporter.ResponseError{StatusCode: resp.StatusCode}
			if !apireporter.IsRetryable(respErr) {
				r.Break()
			} else if s.metrics != nil {
				s.metrics.LogBatchRetried()
			}
			return struct{}{}, respErr
		}

		if s.metrics != nil {
			s.metrics.LogBatchShipped()
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Shipper) url() string {
	return fmt.Sprintf("%s://%s%s", s.conf.Scheme, s.conf.Host, s.conf.Path)
}
