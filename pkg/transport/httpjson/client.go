package httpjson

import (
    "context"
    "crypto/tls"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "time"

    "github.com/cenkalti/backoff/v4"

    "github.com/amirimatin/go-su/pkg/state"
    "github.com/amirimatin/go-su/pkg/transport"
)

// Client is a thin HTTP client for the management API. It supports optional
// TLS configuration and retries calls the server failed through no fault of
// the caller.
type Client struct {
    httpc     *http.Client
    transport *http.Transport
    isTLS     bool
    attempts  uint64
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    tr := &http.Transport{}
    return &Client{httpc: &http.Client{Timeout: timeout, Transport: tr}, transport: tr, attempts: 3}
}

// UseTLS sets the TLS config for the underlying HTTP client and switches the
// request scheme to https.
func (c *Client) UseTLS(cfg *tls.Config) *Client {
    if c.transport != nil { c.transport.TLSClientConfig = cfg }
    c.isTLS = cfg != nil
    return c
}

// ReadState calls GET /state/{processId} on addr (host:port).
func (c *Client) ReadState(ctx context.Context, addr string, in state.Input) (*state.State, error) {
    scheme := "http"
    if c.isTLS { scheme = "https" }
    u := fmt.Sprintf("%s://%s/state/%s", scheme, addr, url.PathEscape(in.ProcessID))
    if in.To != "" { u += "?" + url.Values{"to": {in.To}}.Encode() }

    var out state.State
    attempt := func() error {
        req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
        if err != nil { return backoff.Permanent(err) }
        resp, err := c.httpc.Do(req)
        if err != nil { return err }
        defer resp.Body.Close()
        b, err := io.ReadAll(resp.Body)
        if err != nil { return err }
        if resp.StatusCode != http.StatusOK {
            var body transport.ErrorBody
            if json.Unmarshal(b, &body) != nil || body.Error == "" {
                body = transport.ErrorBody{Error: fmt.Sprintf("status %d: %s", resp.StatusCode, string(b))}
            }
            re := &transport.RemoteError{Code: body.Code, Message: body.Error}
            if !re.Retryable() { return backoff.Permanent(re) }
            return re
        }
        if err := json.Unmarshal(b, &out); err != nil { return backoff.Permanent(fmt.Errorf("httpjson: decode state: %w", err)) }
        return nil
    }
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = 100 * time.Millisecond
    b.RandomizationFactor = 0
    b.Multiplier = 2
    b.Reset()
    if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, c.attempts-1), ctx)); err != nil {
        return nil, err
    }
    return &out, nil
}

var _ transport.StateClient = (*Client)(nil)
