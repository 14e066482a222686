// Package nixstore invokes the nix-store CLI to inspect realised outputs
// and, as a fallback to the worker-subprocess path, to realise a
// derivation directly (spec §4.6, §9).
package nixstore

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/qowoz/hercules-ci-agent/buildtask"
)

// DefaultBinary is the nix-store executable name resolved against PATH
// when Inspector.Path is empty.
const DefaultBinary = "nix-store"

// QueryError is returned when nix-store's stdout cannot be parsed into the
// value the caller asked for. It is always fatal for the task it occurred
// on, mirroring protocol.ProtocolError's role for the worker IPC channel.
type QueryError struct {
	Op     string
	Output string
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("nixstore: %s: %v (output: %q)", e.Op, e.Err, e.Output)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Inspector queries a local Nix store via the nix-store CLI.
type Inspector struct {
	// Path is the nix-store executable to invoke. Empty means DefaultBinary,
	// resolved against PATH.
	Path string
}

// NewInspector returns an Inspector invoking path, or DefaultBinary if path
// is empty.
func NewInspector(path string) *Inspector {
	return &Inspector{Path: path}
}

func (i *Inspector) bin() string {
	if i.Path == "" {
		return DefaultBinary
	}
	return i.Path
}

// Inspect queries size and hash for every output in outputs and returns a
// mapping keyed by output name. deriverPath is recorded on every returned
// OutputInfo. The call is atomic: either every declared output yields an
// entry, or the first failure is returned and the map is discarded.
func (i *Inspector) Inspect(ctx context.Context, deriverPath string, outputs []buildtask.DeclaredOutput) (map[string]buildtask.OutputInfo, error) {
	result := make(map[string]buildtask.OutputInfo, len(outputs))

	for _, out := range outputs {
		size, err := i.querySize(ctx, out.StorePath)
		if err != nil {
			return nil, err
		}
		hash, err := i.queryHash(ctx, out.StorePath)
		if err != nil {
			return nil, err
		}

		result[out.Name] = buildtask.OutputInfo{
			DeriverPath: deriverPath,
			Name:        out.Name,
			StorePath:   out.StorePath,
			Hash:        hash,
			Size:        size,
		}
	}

	return result, nil
}

func (i *Inspector) querySize(ctx context.Context, storePath string) (uint64, error) {
	out, err := i.run(ctx, "--query", "--size", storePath)
	if err != nil {
		return 0, err
	}

	trimmed := strings.TrimSpace(out)
	size, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, &QueryError{Op: "query --size", Output: trimmed, Err: err}
	}
	return size, nil
}

func (i *Inspector) queryHash(ctx context.Context, storePath string) (string, error) {
	out, err := i.run(ctx, "--query", "--hash", storePath)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return "", &QueryError{Op: "query --hash", Output: out, Err: fmt.Errorf("empty hash")}
	}
	return trimmed, nil
}

func (i *Inspector) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, i.bin(), args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", &QueryError{
			Op:     strings.Join(args, " "),
			Output: stderr.String(),
			Err:    err,
		}
	}

	return stdout.String(), nil
}
