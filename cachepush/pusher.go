package cachepush

import (
	"context"
	"fmt"
	"time"

	"github.com/buildkite/roko"
	"github.com/puzpuzpuz/xsync/v2"
	"github.com/qowoz/hercules-ci-agent/logger"
	"github.com/qowoz/hercules-ci-agent/metrics"
	"github.com/qowoz/hercules-ci-agent/pool"
)

// DefaultParallelism is the per-cache upload concurrency adopted as a
// default per spec §9 ("the cache-push parallelism of 4 ... hard-coded in
// the source; this spec adopts them as defaults but recommends making them
// configurable").
const DefaultParallelism = 4

// Pusher pushes a set of store paths to one cache, bounding concurrent
// uploads to Parallelism and retrying each path independently with the
// standard retry policy (spec §4.7).
type Pusher struct {
	CacheID     string
	Backend     Backend
	Parallelism int

	logger  logger.Logger
	metrics *metrics.Collector
}

// New returns a Pusher for one active cache. parallelism <= 0 uses
// DefaultParallelism. m may be nil.
func New(l logger.Logger, m *metrics.Collector, cacheID string, backend Backend, parallelism int) *Pusher {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	return &Pusher{
		CacheID:     cacheID,
		Backend:     backend,
		Parallelism: parallelism,
		logger:      l,
		metrics:     m,
	}
}

// PushAll pushes every path to the cache concurrently, bounded by
// Parallelism, retrying each path independently. It returns true only if
// every path succeeded; a path that exhausts retries is logged and folded
// into the false result, but does not abort pushes still in flight (spec
// §4.7: "a path that ultimately fails is logged and the pusher reports a
// partial-failure flag").
func (p *Pusher) PushAll(ctx context.Context, paths []string) bool {
	results := xsync.NewMapOf[bool]()
	wp := pool.New(p.Parallelism)

	for _, path := range paths {
		path := path
		if p.metrics != nil {
			p.metrics.CachePushAttempt(p.CacheID)
		}
		wp.Spawn(func() {
			err := p.pushOne(ctx, path)
			results.Store(path, err == nil)
			if err != nil {
				p.logger.Error("cachepush: %s: giving up pushing %s: %v", p.CacheID, path, err)
				if p.metrics != nil {
					p.metrics.CachePushFailure(p.CacheID)
				}
				return
			}
			if p.metrics != nil {
				p.metrics.CachePushSuccess(p.CacheID)
			}
		})
	}
	wp.Wait()

	allOK := true
	results.Range(func(_ string, ok bool) bool {
		if !ok {
			allOK = false
		}
		return true
	})
	return allOK
}

func (p *Pusher) pushOne(ctx context.Context, storePath string) error {
	r := roko.NewRetrier(
		roko.WithMaxAttempts(8),
		roko.WithStrategy(roko.Exponential(2*time.Second, time.Second)),
		roko.WithJitter(),
	)

	_, err := roko.DoFunc(ctx, r, func(r *roko.Retrier) (struct{}, error) {
		if err := p.Backend.Push(ctx, storePath); err != nil {
			return struct{}{}, fmt.Errorf("attempt %d: %w", r.AttemptCount(), err)
		}
		return struct{}{}, nil
	})
	return err
}
