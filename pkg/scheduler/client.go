// Package scheduler is a client for a Scheduler Unit (SU): it loads process
// metadata and clocks, and streams a process's scheduled messages page by
// page, coalescing duplicate page requests and retrying transient failures.
package scheduler

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "sync"
    "time"

    "github.com/cenkalti/backoff/v4"
    jsoniter "github.com/json-iterator/go"
    "github.com/sony/gobreaker"
    "golang.org/x/sync/singleflight"
    "golang.org/x/time/rate"

    "github.com/amirimatin/go-su/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-su/pkg/observability/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 512

// Client talks to one or more SUs. It is safe for concurrent use; streams
// created from it are not.
type Client struct {
    opts    Options
    httpc   *http.Client
    log     logutil.Logger
    flights singleflight.Group
    limiter *rate.Limiter

    mu       sync.Mutex
    waiting  map[string]*flight
    breakers map[string]*gobreaker.CircuitBreaker
}

// New constructs a Client from validated options.
func New(opts Options) (*Client, error) {
    if err := opts.Validate(); err != nil { return nil, err }
    opts = opts.withDefaults()
    c := &Client{
        opts:     opts,
        httpc:    opts.HTTPClient,
        log:      opts.Logger.Named("scheduler"),
        waiting:  make(map[string]*flight),
        breakers: make(map[string]*gobreaker.CircuitBreaker),
    }
    if opts.RateLimit > 0 {
        c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)
    }
    return c, nil
}

// breaker returns the circuit breaker of suURL's host, or nil when breaking
// is disabled. Hosts trip independently.
func (c *Client) breaker(suURL string) *gobreaker.CircuitBreaker {
    trip := c.opts.Breaker.ConsecutiveFailures
    if trip <= 0 { return nil }
    host := suURL
    if u, err := url.Parse(suURL); err == nil && u.Host != "" { host = u.Host }

    c.mu.Lock()
    defer c.mu.Unlock()
    if cb, ok := c.breakers[host]; ok { return cb }
    cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
        Name:    host,
        Timeout: c.opts.Breaker.OpenTimeout,
        ReadyToTrip: func(counts gobreaker.Counts) bool {
            return counts.ConsecutiveFailures >= uint32(trip)
        },
        IsSuccessful: healthyOutcome,
        OnStateChange: func(name string, from, to gobreaker.State) {
            open := 0.0
            if to == gobreaker.StateOpen { open = 1 }
            obsmetrics.BreakerState.WithLabelValues(name).Set(open)
            c.log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
        },
    })
    c.breakers[host] = cb
    return cb
}

// healthyOutcome reports whether err says nothing about the SU's health: a
// 4xx answer (other than 408 and 429) is about the request, and a cancelled
// caller is about the caller.
func healthyOutcome(err error) bool {
    if err == nil { return true }
    if errors.Is(err, context.Canceled) { return true }
    var se *StatusError
    if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
        return se.Code != http.StatusRequestTimeout && se.Code != http.StatusTooManyRequests
    }
    return false
}

// Options returns the effective options (defaults applied).
func (c *Client) Options() Options { return c.opts }

// getJSON performs a GET against rawURL under the retry policy and decodes
// the 2xx body into out. Decode failures are not retried.
func (c *Client) getJSON(ctx context.Context, op, suURL, processID, rawURL string, out any) error {
    attempt := func() error {
        if c.limiter != nil {
            if err := c.limiter.Wait(ctx); err != nil { return backoff.Permanent(err) }
        }
        body, err := c.execute(ctx, op, suURL, rawURL)
        if err != nil { return err }
        if err := json.Unmarshal(body, out); err != nil {
            return backoff.Permanent(fmt.Errorf("%w: %s: %v", ErrMalformed, op, err))
        }
        return nil
    }
    notify := func(err error, wait time.Duration) {
        obsmetrics.Retries.WithLabelValues(op).Inc()
        c.log.Debugf("%s from %s for process %s failed, retrying in %s: %v", op, suURL, processID, wait, err)
    }
    if err := backoff.RetryNotify(attempt, c.policy(ctx), notify); err != nil {
        return &RequestError{Op: op, SuURL: suURL, ProcessID: processID, Err: err}
    }
    return nil
}

func (c *Client) execute(ctx context.Context, op, suURL, rawURL string) ([]byte, error) {
    cb := c.breaker(suURL)
    if cb == nil { return c.do(ctx, op, rawURL) }
    v, err := cb.Execute(func() (interface{}, error) { return c.do(ctx, op, rawURL) })
    if err != nil { return nil, err }
    return v.([]byte), nil
}

func (c *Client) do(ctx context.Context, op, rawURL string) ([]byte, error) {
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
    if err != nil { return nil, backoff.Permanent(err) }
    req.Header.Set("Accept", "application/json")
    start := time.Now()
    resp, err := c.httpc.Do(req)
    obsmetrics.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
    if err != nil {
        obsmetrics.Requests.WithLabelValues(op, "error").Inc()
        return nil, err
    }
    defer resp.Body.Close()
    b, err := io.ReadAll(resp.Body)
    if err != nil {
        obsmetrics.Requests.WithLabelValues(op, "error").Inc()
        return nil, err
    }
    if resp.StatusCode < 200 || resp.StatusCode > 299 {
        obsmetrics.Requests.WithLabelValues(op, "status").Inc()
        if len(b) > maxErrorBody { b = b[:maxErrorBody] }
        return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
    }
    obsmetrics.Requests.WithLabelValues(op, "ok").Inc()
    return b, nil
}

// endpoint joins suURL with path segments (escaped) and a query.
func endpoint(suURL string, q url.Values, segments ...string) string {
    var sb strings.Builder
    sb.WriteString(strings.TrimRight(suURL, "/"))
    for _, s := range segments {
        sb.WriteByte('/')
        sb.WriteString(url.PathEscape(s))
    }
    if len(q) > 0 {
        sb.WriteByte('?')
        sb.WriteString(q.Encode())
    }
    return sb.String()
}

func checkTarget(suURL, processID string) error {
    if strings.TrimSpace(suURL) == "" { return ErrEmptyURL }
    if strings.TrimSpace(processID) == "" { return ErrEmptyProcess }
    return nil
}
