// Package cachepush pushes realised Nix store paths to binary caches with
// bounded per-cache concurrency (spec §4.7), backed by S3, GCS, or Azure
// Blob storage.
package cachepush

import "context"

// Backend uploads one realised store path to a single binary cache. The
// core never owns cache credentials (spec §1 Non-goals); a Backend's
// constructor resolves them the same way the teacher's artifact uploaders
// do (env vars, ambient cloud credentials).
type Backend interface {
	Push(ctx context.Context, storePath string) error
}

// Registry resolves a cache identifier (as returned by
// apireporter.GetActivePushCaches) to the Backend that serves it. The core
// consults an external push-cache registry for this mapping rather than
// owning it (spec §1 Non-goals); Registry is how that mapping is threaded
// into the task runner.
type Registry map[string]Backend

func (r Registry) Backend(cacheID string) (Backend, bool) {
	b, ok := r[cacheID]
	return b, ok
}
