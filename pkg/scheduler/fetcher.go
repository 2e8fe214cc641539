package scheduler

import (
    "context"
    "net/url"
    "strconv"
    "strings"
    "time"

    obsmetrics "github.com/amirimatin/go-su/pkg/observability/metrics"
    "github.com/amirimatin/go-su/pkg/observability/tracing"
)

// PageRequest selects one page of a process's messages. From and To are
// cursors or ordinates as understood by the SU; empty values are omitted.
type PageRequest struct {
    SuURL     string
    ProcessID string
    From      string
    To        string
    Limit     int
}

func (r PageRequest) key() string {
    return strings.Join([]string{r.SuURL, r.ProcessID, r.From, r.To, strconv.Itoa(r.Limit)}, "\x00")
}

func (r PageRequest) query() url.Values {
    q := url.Values{}
    if r.ProcessID != "" { q.Set("process-id", r.ProcessID) }
    if r.From != "" { q.Set("from", r.From) }
    if r.To != "" { q.Set("to", r.To) }
    if r.Limit > 0 { q.Set("limit", strconv.Itoa(r.Limit)) }
    return q
}

// FetchPage loads one page. Identical requests made within the coalescing
// window share a single network call; once the window closes the key is
// released, so a later identical request always goes to the network.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
    if err := checkTarget(req.SuURL, req.ProcessID); err != nil { return nil, err }
    if req.Limit == 0 { req.Limit = c.opts.PageSize }
    key := req.key()
    f := c.join(ctx, key)
    defer c.leave(key, f)
    ch := c.flights.DoChan(key, func() (interface{}, error) {
        if w := c.opts.CoalesceWindow; w > 0 {
            t := time.NewTimer(w)
            select {
            case <-t.C:
            case <-f.ctx.Done():
                t.Stop()
            }
        }
        c.flights.Forget(key)
        if err := f.ctx.Err(); err != nil { return nil, err }
        return c.fetchPage(f.ctx, req)
    })
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case res := <-ch:
        if res.Shared { obsmetrics.Coalesced.Inc() }
        if res.Err != nil { return nil, res.Err }
        return res.Val.(*Page), nil
    }
}

// flight is the context shared by every caller waiting on one key. It is
// cancelled when the last of them returns.
type flight struct {
    ctx     context.Context
    cancel  context.CancelFunc
    waiters int
}

// join registers a waiter on key. The first waiter's ctx values (trace
// span) carry over to the shared call, its cancellation does not.
func (c *Client) join(ctx context.Context, key string) *flight {
    c.mu.Lock()
    defer c.mu.Unlock()
    f, ok := c.waiting[key]
    if !ok {
        fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
        f = &flight{ctx: fctx, cancel: cancel}
        c.waiting[key] = f
    }
    f.waiters++
    return f
}

func (c *Client) leave(key string, f *flight) {
    c.mu.Lock()
    defer c.mu.Unlock()
    f.waiters--
    if f.waiters > 0 { return }
    f.cancel()
    delete(c.waiting, key)
    // a call still collecting within its window must not be joined anymore
    c.flights.Forget(key)
}

func (c *Client) fetchPage(ctx context.Context, req PageRequest) (*Page, error) {
    ctx, end := tracing.StartSpan(ctx, "su.fetch_page", tracing.SU(req.SuURL), tracing.Process(req.ProcessID))
    var page Page
    err := c.getJSON(ctx, "loading the sequence of scheduled messages", req.SuURL, req.ProcessID,
        endpoint(req.SuURL, req.query(), req.ProcessID), &page)
    end(err)
    if err != nil { return nil, err }
    return &page, nil
}
