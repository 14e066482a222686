package apireporter

import (
	"context"
	"time"

	"github.com/buildkite/roko"
	"github.com/google/go-querystring/query"
	"github.com/qowoz/hercules-ci-agent/buildtask"
)

// defaultRetrier returns the standard retry policy (spec §4.8): exponential
// backoff with jitter, a fixed attempt ceiling, retried only for transport or
// 5xx failures.
func defaultRetrier() *roko.Retrier {
	return roko.NewRetrier(
		roko.WithMaxAttempts(8),
		roko.WithStrategy(roko.Exponential(2*time.Second, time.Second)),
		roko.WithJitter(),
	)
}

type buildEventPayload struct {
	Kind   string             `json:"kind"`
	Output *outputInfoPayload `json:"output,omitempty"`
	Cache  string             `json:"cache,omitempty"`
	Status string             `json:"status,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

type outputInfoPayload struct {
	DeriverPath string `json:"deriver_path"`
	Name        string `json:"name"`
	StorePath   string `json:"store_path"`
	Hash        string `json:"hash"`
	Size        uint64 `json:"size"`
}

func toPayload(e buildtask.BuildEvent) buildEventPayload {
	switch e.Kind {
	case buildtask.BuildEventOutputInfo:
		return buildEventPayload{Kind: "output_info", Output: &outputInfoPayload{
			DeriverPath: e.Output.DeriverPath,
			Name:        e.Output.Name,
			StorePath:   e.Output.StorePath,
			Hash:        e.Output.Hash,
			Size:        e.Output.Size,
		}}
	case buildtask.BuildEventPushed:
		return buildEventPayload{Kind: "pushed", Cache: e.Cache}
	case buildtask.BuildEventDone:
		return buildEventPayload{Kind: "done", Status: e.Outcome.Status.String(), Reason: e.Outcome.Reason}
	default:
		panic("apireporter: unknown BuildEvent kind")
	}
}

// UpdateBuild appends one or more build events to the task's timeline. The
// call is idempotent: the server tolerates duplicate events from a retried
// attempt (spec §6, §7).
func (c *Client) UpdateBuild(ctx context.Context, taskID string, events []buildtask.BuildEvent) error {
	payloads := make([]buildEventPayload, len(events))
	for i, e := range events {
		payloads[i] = toPayload(e)
	}
	body := struct {
		Events []buildEventPayload `json:"events"`
	}{Events: payloads}

	return roko.DoFunc(ctx, defaultRetrier(), func(r *roko.Retrier) (struct{}, error) {
		req, err := c.newJSONRequest(ctx, "POST", "/tasks/"+taskID+"/events", body)
		if err != nil {
			r.Break()
			return struct{}{}, err
		}
		if err := c.doJSON(req, nil); err != nil {
			if !IsRetryable(err) {
				r.Break()
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// WriteLog appends raw stderr bytes to the task's build log (spec §6).
func (c *Client) WriteLog(ctx context.Context, taskID, token string, data []byte) error {
	return roko.DoFunc(ctx, defaultRetrier(), func(r *roko.Retrier) (struct{}, error) {
		req, err := c.newJSONRequest(ctx, "POST", "/tasks/"+taskID+"/log", struct {
			Token string `json:"token"`
			Bytes []byte `json:"bytes"`
		}{Token: token, Bytes: data})
		if err != nil {
			r.Break()
			return struct{}{}, err
		}
		if err := c.doJSON(req, nil); err != nil {
			if !IsRetryable(err) {
				r.Break()
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// ListPushCachesParams filters the push-cache listing. Encoded as a query
// string via go-querystring rather than a JSON body, since GetActivePushCaches
// issues a GET.
type ListPushCachesParams struct {
	// ActiveOnly excludes caches the pool has deactivated but not yet
	// forgotten. GetActivePushCaches always sets it to true.
	ActiveOnly bool `url:"active_only"`
}

// GetActivePushCaches returns the cache identifiers currently active for the
// agent's pool (spec §6); the caller pushes realised outputs to each.
func (c *Client) GetActivePushCaches(ctx context.Context) ([]string, error) {
	return roko.DoFunc(ctx, defaultRetrier(), func(r *roko.Retrier) ([]string, error) {
		values, err := query.Values(ListPushCachesParams{ActiveOnly: true})
		if err != nil {
			r.Break()
			return nil, err
		}

		req, err := c.newJSONRequest(ctx, "GET", "/push-caches?"+values.Encode(), nil)
		if err != nil {
			r.Break()
			return nil, err
		}
		var out struct {
			Caches []string `json:"caches"`
		}
		if err := c.doJSON(req, &out); err != nil {
			if !IsRetryable(err) {
				r.Break()
			}
			return nil, err
		}
		return out.Caches, nil
	})
}

// ReportTaskStatus reports the terminal outcome of a task (spec §6). It is
// the last call made for any task; the runner never reports more than one
// terminal status (spec §7).
func (c *Client) ReportTaskStatus(ctx context.Context, taskID string, outcome buildtask.Outcome) error {
	return roko.DoFunc(ctx, defaultRetrier(), func(r *roko.Retrier) (struct{}, error) {
		req, err := c.newJSONRequest(ctx, "POST", "/tasks/"+taskID+"/status", struct {
			Status string `json:"status"`
			Reason string `json:"reason,omitempty"`
		}{Status: outcome.Status.String(), Reason: outcome.Reason})
		if err != nil {
			r.Break()
			return struct{}{}, err
		}
		if err := c.doJSON(req, nil); err != nil {
			if !IsRetryable(err) {
				r.Break()
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}
