package ghclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"ghchrono/internal/bootstrap/config"
	"ghchrono/internal/bootstrap/logging"
	"ghchrono/internal/errs"
)

const (
	mediaType  = "application/vnd.github+json"
	apiVersion = "2022-11-28"
)

type Options struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestTimeout    time.Duration
	PerPage           int
	UserAgent         string
}

func OptionsFromConfig(cfg config.GitHubConfig) Options {
	return Options{
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		RequestTimeout:    cfg.RequestTimeout,
		PerPage:           cfg.PerPage,
		UserAgent:         cfg.UserAgent,
	}
}

// Response is one completed GitHub call. Body is nil for 304 Not Modified.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
}

func (r *Response) NotModified() bool {
	return r != nil && r.Status == http.StatusNotModified
}

// HasNext reports whether the response links a following page.
func (r *Response) HasNext() bool {
	return r != nil && nextLink(r.Header) != ""
}

type Client struct {
	http    *http.Client
	baseURL *url.URL
	limiter *rate.Limiter
	opts    Options
}

func New(httpClient *http.Client, opts Options) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = "https://api.github.com"
	}
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
	if err != nil {
		return nil, errs.Configf("invalid github base url %q: %v", opts.BaseURL, err)
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = 100
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ghchrono"
	}

	return &Client{
		http:    httpClient,
		baseURL: base,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		opts:    opts,
	}, nil
}

func (c *Client) PerPage() int { return c.opts.PerPage }

// Request performs one GitHub call through the rate limiter with bounded
// exponential retry on 403, 429 and 5xx. Other 4xx statuses fail at once.
// A 304 response is returned as-is and is not an error.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, headers http.Header) (*Response, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	target, err := c.resolve(path, params)
	if err != nil {
		return nil, err
	}
	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "ghclient"))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialBackoff
	policy.MaxInterval = c.opts.MaxBackoff
	policy.MaxElapsedTime = 0
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0.5

	attempt := 0
	var out *Response
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(errs.Wrap(err, "wait rate limiter"))
		}
		resp, err := c.do(ctx, method, target, headers)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.Status < 300 || resp.Status == http.StatusNotModified {
			out = resp
			return nil
		}

		httpErr := &HTTPError{Status: resp.Status, Method: method, URL: target, Body: string(resp.Body)}
		if !httpErr.Retryable() {
			return backoff.Permanent(httpErr)
		}
		if wait := retryAfter(resp.Header, c.opts.MaxBackoff); wait > 0 && attempt < c.opts.MaxAttempts {
			if err := sleep(ctx, wait); err != nil {
				return backoff.Permanent(err)
			}
		}
		return httpErr
	}
	notify := func(err error, wait time.Duration) {
		logging.Warn(logCtx, "github request retry",
			slog.String("method", method),
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.Any("err", errs.Loggable(err)),
		)
	}

	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.opts.MaxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, retryPolicy, notify); err != nil {
		if attempt > 1 {
			return nil, errs.Wrapf(err, "github request failed after %d attempts", attempt)
		}
		return nil, err
	}

	logging.Debug(logCtx, "github request",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", out.Status),
		slog.Int("attempts", attempt),
	)
	return out, nil
}

// Get issues a GET and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) (*Response, error) {
	resp, err := c.Request(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, errs.Wrapf(err, "decode %s", path)
		}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, target string, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, errs.Wrap(err, "build request")
	}
	req.Header.Set("Accept", mediaType)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	for key, values := range headers {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	out := &Response{Status: resp.StatusCode, Header: resp.Header.Clone(), URL: target}
	if resp.StatusCode == http.StatusNotModified {
		return out, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	out.Body = body
	return out, nil
}

func (c *Client) resolve(path string, params url.Values) (string, error) {
	var target *url.URL
	var err error
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		target, err = url.Parse(path)
	} else {
		target, err = c.baseURL.Parse(strings.TrimPrefix(path, "/"))
	}
	if err != nil {
		return "", errs.Wrapf(err, "parse request path %q", path)
	}
	if len(params) > 0 {
		query := target.Query()
		for key, values := range params {
			query.Del(key)
			for _, v := range values {
				query.Add(key, v)
			}
		}
		target.RawQuery = query.Encode()
	}
	return target.String(), nil
}

func retryAfter(header http.Header, ceiling time.Duration) time.Duration {
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	wait := time.Duration(seconds) * time.Second
	if wait > ceiling {
		return ceiling
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
