package scheduler

import (
    "context"
    "fmt"
    "io"

    "github.com/amirimatin/go-su/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-su/pkg/observability/metrics"
)

// EdgeStream is a forward-only, pull-based sequence of page edges between two
// cursors. It holds at most one page in memory and fetches the next page
// only when the buffered one is drained. Not safe for concurrent use.
type EdgeStream struct {
    c      *Client
    req    PageRequest
    log    logutil.Logger
    buf    []Edge
    done   bool
    closed bool
    err    error
    pages  int
    count  int
}

// Edges opens a stream from req.From to req.To. No request is made until the first Next.
func (c *Client) Edges(req PageRequest) *EdgeStream {
    if req.Limit == 0 { req.Limit = c.opts.PageSize }
    return &EdgeStream{c: c, req: req, log: c.log.Named("stream")}
}

// Next returns the next edge, io.EOF once the sequence is exhausted, or the
// error that terminated the stream.
func (s *EdgeStream) Next(ctx context.Context) (Edge, error) {
    for {
        if s.err != nil { return Edge{}, s.err }
        if s.closed { return Edge{}, ErrStreamClosed }
        if len(s.buf) > 0 {
            e := s.buf[0]
            s.buf = s.buf[1:]
            s.count++
            return e, nil
        }
        if s.done { return Edge{}, io.EOF }
        if err := s.load(ctx); err != nil {
            s.fail(err)
            return Edge{}, err
        }
    }
}

func (s *EdgeStream) load(ctx context.Context) error {
    s.log.Debugf("loading page %d of messages for process %s from %s (from=%q to=%q limit=%d)",
        s.pages+1, s.req.ProcessID, s.req.SuURL, s.req.From, s.req.To, s.req.Limit)
    page, err := s.c.FetchPage(ctx, s.req)
    if err != nil { return err }
    s.pages++
    obsmetrics.PagesLoaded.Inc()
    s.buf = page.Edges
    if page.PageInfo.HasNextPage && len(page.Edges) > 0 {
        next := page.Edges[len(page.Edges)-1].Cursor
        if next == "" {
            s.buf = nil
            return fmt.Errorf("%w: page %d of process %s has more pages but its last edge has no cursor", ErrMalformed, s.pages, s.req.ProcessID)
        }
        s.req.From = next
    } else {
        s.done = true
        s.log.Infof("loaded %d messages in %d pages for process %s from %s",
            s.count+len(s.buf), s.pages, s.req.ProcessID, s.req.SuURL)
    }
    return nil
}

func (s *EdgeStream) fail(err error) {
    if s.err == nil { s.err = err }
    s.buf = nil
}

// Close stops the stream; no further pages are fetched.
func (s *EdgeStream) Close() error {
    s.closed = true
    s.buf = nil
    return nil
}

// Count is the number of edges delivered so far.
func (s *EdgeStream) Count() int { return s.count }

// Pages is the number of pages fetched so far.
func (s *EdgeStream) Pages() int { return s.pages }
