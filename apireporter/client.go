// Package apireporter is the thin, idempotent sink the build task runner
// uses to tell the CI API about a task's progress (spec §4.8, §6): updateBuild,
// writeLog, getActivePushCaches, reportTaskStatus. Every call is wrapped in
// the default retry policy — exponential backoff with jitter, retry only on
// transport/5xx, never on 4xx.
package apireporter

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qowoz/hercules-ci-agent/internal/agenthttp"
	"github.com/qowoz/hercules-ci-agent/logger"
)

const defaultUserAgent = "hercules-ci-agent/apireporter"

// Config configures a Client. Endpoint, Token and UserAgent mirror the
// shape of the teacher's api.Config; TLSConfig exists for tests.
type Config struct {
	Endpoint  string
	Token     string
	UserAgent string

	DisableHTTP2 bool
	Timeout      time.Duration
	TLSConfig    *tls.Config

	HTTPClient *http.Client
}

// Client talks to the CI API's build-reporting RPC surface.
type Client struct {
	conf   Config
	client *http.Client
	logger logger.Logger
}

// NewClient returns a Client for the given config.
func NewClient(l logger.Logger, conf Config) *Client {
	if conf.UserAgent == "" {
		conf.UserAgent = defaultUserAgent
	}
	if conf.HTTPClient != nil {
		return &Client{conf: conf, client: conf.HTTPClient, logger: l}
	}

	opts := []agenthttp.ClientOption{
		agenthttp.WithAuthToken(conf.Token),
		agenthttp.WithAllowHTTP2(!conf.DisableHTTP2),
		agenthttp.WithTLSConfig(conf.TLSConfig),
	}
	if conf.Timeout != 0 {
		opts = append(opts, agenthttp.WithTimeout(conf.Timeout))
	}

	return &Client{
		conf:   conf,
		client: agenthttp.NewClient(opts...),
		logger: l,
	}
}

func (c *Client) newJSONRequest(ctx context.Context, method, urlStr string, body any) (*http.Request, error) {
	buf := new(bytes.Buffer)
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.conf.Endpoint+urlStr, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.conf.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON sends req and, on a 2xx response, decodes the body into v (if v is
// non-nil). Non-2xx responses become a *ResponseError.
func (c *Client) doJSON(req *http.Request, v any) error {
	resp, err := agenthttp.Do(c.logger, c.client, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(resp.Body)
		return &ResponseError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ResponseError wraps a non-2xx HTTP response from the CI API.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("apireporter: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether re-issuing the request that produced err is
// safe and likely to succeed: transport errors or 5xx responses, never 4xx
// (spec §4.8, §7).
func IsRetryable(err error) bool {
	var re *ResponseError
	if errors.As(err, &re) {
		return isRetryableStatus(re.StatusCode)
	}
	return isRetryableError(err)
}

func isRetryableStatus(code int) bool {
	return code >= 500 && code <= 599
}
