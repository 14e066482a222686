package nixstore

import (
	"context"
	"fmt"
	"time"
)

// Realiser invokes nix-store --realise directly, bypassing the worker
// subprocess. The worker path is canonical (spec §9); Realiser exists for
// callers that only need a derivation built and have no log socket to
// stream to.
type Realiser struct {
	Path string
}

// NewRealiser returns a Realiser invoking path, or DefaultBinary if path
// is empty.
func NewRealiser(path string) *Realiser {
	return &Realiser{Path: path}
}

func (r *Realiser) bin() string {
	if r.Path == "" {
		return DefaultBinary
	}
	return r.Path
}

// Realise runs `nix-store --realise --timeout <sec> --max-silent-time
// <sec> <drvPath>`, returning once the derivation has been built or the
// given timeouts have been exceeded by the subprocess itself. ctx governs
// cancellation of the subprocess in addition to those timeouts.
func (r *Realiser) Realise(ctx context.Context, drvPath string, timeout, maxSilentTime time.Duration) error {
	i := &Inspector{Path: r.bin()}

	_, err := i.run(ctx, "--realise",
		"--timeout", formatSeconds(timeout),
		"--max-silent-time", formatSeconds(maxSilentTime),
		drvPath,
	)
	return err
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%d", int64(d/time.Second))
}
