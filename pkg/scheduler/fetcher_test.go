package scheduler

import (
    "context"
    "errors"
    "net/http"
    "net/url"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/sony/gobreaker"
)

func TestFetchPageQueryOmitsEmpty(t *testing.T) {
    su := newFakeSU(t, 3)
    c := newTestClient(t, nil)
    ctx := context.Background()

    if _, err := c.FetchPage(ctx, PageRequest{SuURL: su.URL(), ProcessID: su.process, Limit: 2}); err != nil {
        t.Fatalf("fetch: %v", err)
    }
    q, _ := url.ParseQuery(su.lastQuery())
    if q.Get("process-id") != su.process || q.Get("limit") != "2" {
        t.Fatalf("unexpected query %v", q)
    }
    if q.Has("from") || q.Has("to") {
        t.Fatalf("empty cursors must be omitted: %v", q)
    }

    if _, err := c.FetchPage(ctx, PageRequest{SuURL: su.URL(), ProcessID: su.process, From: "1", To: "3", Limit: 2}); err != nil {
        t.Fatalf("fetch: %v", err)
    }
    q, _ = url.ParseQuery(su.lastQuery())
    if q.Get("from") != "1" || q.Get("to") != "3" {
        t.Fatalf("cursors missing: %v", q)
    }
}

func TestFetchPageCoalescesWithinWindow(t *testing.T) {
    su := newFakeSU(t, 5)
    c := newTestClient(t, func(o *Options) { o.CoalesceWindow = 100 * time.Millisecond })
    req := PageRequest{SuURL: su.URL(), ProcessID: su.process, Limit: 10}

    const callers = 8
    var wg sync.WaitGroup
    pages := make([]*Page, callers)
    errs := make([]error, callers)
    for i := 0; i < callers; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            pages[i], errs[i] = c.FetchPage(context.Background(), req)
        }(i)
    }
    wg.Wait()
    for i := 0; i < callers; i++ {
        if errs[i] != nil { t.Fatalf("caller %d: %v", i, errs[i]) }
        if len(pages[i].Edges) != 5 { t.Fatalf("caller %d got %d edges", i, len(pages[i].Edges)) }
    }
    if got := su.pageHits.Load(); got != 1 {
        t.Fatalf("expected 1 network call, got %d", got)
    }

    // the key is released after the window: a later call goes to the network
    if _, err := c.FetchPage(context.Background(), req); err != nil { t.Fatalf("refetch: %v", err) }
    if got := su.pageHits.Load(); got != 2 {
        t.Fatalf("expected fresh request after batch, got %d calls", got)
    }
}

func TestFetchPageRetriesTransientFailure(t *testing.T) {
    su := newFakeSU(t, 2)
    su.failFirst.Store(2)
    c := newTestClient(t, nil)

    page, err := c.FetchPage(context.Background(), PageRequest{SuURL: su.URL(), ProcessID: su.process})
    if err != nil { t.Fatalf("expected success on 3rd attempt, got %v", err) }
    if len(page.Edges) != 2 { t.Fatalf("unexpected edges: %d", len(page.Edges)) }
    if got := su.pageHits.Load(); got != 3 { t.Fatalf("expected 3 attempts, got %d", got) }
}

func TestFetchPageExhaustsRetries(t *testing.T) {
    su := newFakeSU(t, 2)
    su.failFirst.Store(100)
    c := newTestClient(t, nil)

    _, err := c.FetchPage(context.Background(), PageRequest{SuURL: su.URL(), ProcessID: su.process})
    if err == nil { t.Fatalf("expected error") }
    if got := su.pageHits.Load(); got != 6 { t.Fatalf("expected 6 attempts, got %d", got) }
    var re *RequestError
    if !errors.As(err, &re) { t.Fatalf("expected RequestError, got %T: %v", err, err) }
    if re.ProcessID != su.process || re.SuURL != su.URL() { t.Fatalf("unexpected context %+v", re) }
    if !strings.Contains(err.Error(), su.process) || !strings.Contains(err.Error(), su.URL()) {
        t.Fatalf("error must name process and scheduler: %v", err)
    }
    var se *StatusError
    if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
        t.Fatalf("expected wrapped 500, got %v", err)
    }
}

func TestFetchPageMalformedNotRetried(t *testing.T) {
    su := newFakeSU(t, 0)
    su.setHook(func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"edges": "nope"`)) })
    c := newTestClient(t, nil)

    _, err := c.FetchPage(context.Background(), PageRequest{SuURL: su.URL(), ProcessID: su.process})
    if !errors.Is(err, ErrMalformed) { t.Fatalf("expected ErrMalformed, got %v", err) }
    if got := su.pageHits.Load(); got != 1 { t.Fatalf("malformed body must not be retried, got %d calls", got) }
}

func TestFetchPageSiblingKeysIsolated(t *testing.T) {
    su := newFakeSU(t, 0)
    su.setHook(func(w http.ResponseWriter, r *http.Request) {
        if strings.HasSuffix(r.URL.Path, "/bad") {
            http.Error(w, "boom", http.StatusBadGateway)
            return
        }
        _, _ = w.Write([]byte(`{"page_info":{"has_next_page":false},"edges":[]}`))
    })
    c := newTestClient(t, func(o *Options) {
        o.CoalesceWindow = 20 * time.Millisecond
        o.Retry.MaxRetries = -1
    })

    var wg sync.WaitGroup
    var goodErr, badErr error
    wg.Add(2)
    go func() { defer wg.Done(); _, goodErr = c.FetchPage(context.Background(), PageRequest{SuURL: su.URL(), ProcessID: "good"}) }()
    go func() { defer wg.Done(); _, badErr = c.FetchPage(context.Background(), PageRequest{SuURL: su.URL(), ProcessID: "bad"}) }()
    wg.Wait()
    if goodErr != nil { t.Fatalf("sibling failed: %v", goodErr) }
    if badErr == nil { t.Fatalf("expected failure for bad key") }
}

func TestFetchPageCallerContext(t *testing.T) {
    su := newFakeSU(t, 1)
    c := newTestClient(t, func(o *Options) { o.CoalesceWindow = 200 * time.Millisecond })
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
    defer cancel()
    _, err := c.FetchPage(ctx, PageRequest{SuURL: su.URL(), ProcessID: su.process})
    if !errors.Is(err, context.DeadlineExceeded) { t.Fatalf("expected deadline, got %v", err) }
}

func TestFetchPageValidatesTarget(t *testing.T) {
    c := newTestClient(t, nil)
    if _, err := c.FetchPage(context.Background(), PageRequest{ProcessID: "p"}); !errors.Is(err, ErrEmptyURL) {
        t.Fatalf("expected ErrEmptyURL, got %v", err)
    }
    if _, err := c.FetchPage(context.Background(), PageRequest{SuURL: "http://su"}); !errors.Is(err, ErrEmptyProcess) {
        t.Fatalf("expected ErrEmptyProcess, got %v", err)
    }
}

func TestFetchPageCoalescedFailureReachesEveryCaller(t *testing.T) {
    su := newFakeSU(t, 5)
    su.failFirst.Store(100)
    c := newTestClient(t, func(o *Options) {
        o.CoalesceWindow = 100 * time.Millisecond
        o.Retry.MaxRetries = -1
    })
    req := PageRequest{SuURL: su.URL(), ProcessID: su.process, Limit: 10}

    const callers = 8
    var wg sync.WaitGroup
    errs := make([]error, callers)
    for i := 0; i < callers; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            _, errs[i] = c.FetchPage(context.Background(), req)
        }(i)
    }
    wg.Wait()
    for i, err := range errs {
        var se *StatusError
        if !errors.As(err, &se) || se.Code != http.StatusInternalServerError {
            t.Fatalf("caller %d: expected the shared 500, got %v", i, err)
        }
    }
    if got := su.pageHits.Load(); got != 1 { t.Fatalf("expected 1 network call, got %d", got) }
}

func TestFetchPageCancelStopsRetries(t *testing.T) {
    su := newFakeSU(t, 1)
    su.failFirst.Store(1000)
    c := newTestClient(t, func(o *Options) {
        o.Retry = RetryPolicy{MaxRetries: 20, BaseDelay: 50 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
    })
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
    defer cancel()

    _, err := c.FetchPage(ctx, PageRequest{SuURL: su.URL(), ProcessID: su.process})
    if !errors.Is(err, context.DeadlineExceeded) { t.Fatalf("expected deadline, got %v", err) }
    atCancel := su.pageHits.Load()
    time.Sleep(300 * time.Millisecond)
    if later := su.pageHits.Load(); later > atCancel+1 {
        t.Fatalf("requests continued after the caller left: %d at cancel, %d later", atCancel, later)
    }
}

func TestFetchPageOneCallerLeavingKeepsSharedCall(t *testing.T) {
    su := newFakeSU(t, 3)
    c := newTestClient(t, func(o *Options) { o.CoalesceWindow = 50 * time.Millisecond })
    req := PageRequest{SuURL: su.URL(), ProcessID: su.process}

    short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
    defer cancel()
    var wg sync.WaitGroup
    var shortErr, longErr error
    var page *Page
    wg.Add(2)
    go func() { defer wg.Done(); _, shortErr = c.FetchPage(short, req) }()
    go func() { defer wg.Done(); page, longErr = c.FetchPage(context.Background(), req) }()
    wg.Wait()
    if !errors.Is(shortErr, context.DeadlineExceeded) { t.Fatalf("expected deadline, got %v", shortErr) }
    if longErr != nil { t.Fatalf("remaining caller failed: %v", longErr) }
    if len(page.Edges) != 3 { t.Fatalf("got %d edges", len(page.Edges)) }
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
    su := newFakeSU(t, 0)
    su.setHook(func(w http.ResponseWriter, r *http.Request) {
        if strings.HasSuffix(r.URL.Path, "/unknown") {
            http.NotFound(w, r)
            return
        }
        _, _ = w.Write([]byte(`{"page_info":{"has_next_page":false},"edges":[]}`))
    })
    c := newTestClient(t, func(o *Options) { o.Breaker.ConsecutiveFailures = 3 })

    for i := 0; i < 4; i++ {
        _, err := c.FetchPage(context.Background(), PageRequest{SuURL: su.URL(), ProcessID: "unknown"})
        var se *StatusError
        if !errors.As(err, &se) || se.Code != http.StatusNotFound { t.Fatalf("call %d: expected 404, got %v", i, err) }
    }
    before := su.pageHits.Load()
    if _, err := c.FetchPage(context.Background(), PageRequest{SuURL: su.URL(), ProcessID: "proc-1"}); err != nil {
        t.Fatalf("healthy process blocked: %v", err)
    }
    if su.pageHits.Load() != before+1 { t.Fatalf("healthy page did not reach the SU") }
}

func TestBreakerTripsPerHost(t *testing.T) {
    down := newFakeSU(t, 0)
    down.failFirst.Store(1000)
    up := newFakeSU(t, 2)
    c := newTestClient(t, func(o *Options) {
        o.Breaker.ConsecutiveFailures = 3
        o.Retry.MaxRetries = -1
    })

    for i := 0; i < 3; i++ {
        if _, err := c.FetchPage(context.Background(), PageRequest{SuURL: down.URL(), ProcessID: "proc-1"}); err == nil {
            t.Fatalf("call %d: expected failure", i)
        }
    }
    hits := down.pageHits.Load()
    _, err := c.FetchPage(context.Background(), PageRequest{SuURL: down.URL(), ProcessID: "proc-1"})
    if !errors.Is(err, gobreaker.ErrOpenState) { t.Fatalf("expected open breaker, got %v", err) }
    if down.pageHits.Load() != hits { t.Fatalf("open breaker must not reach the SU") }

    page, err := c.FetchPage(context.Background(), PageRequest{SuURL: up.URL(), ProcessID: up.process})
    if err != nil { t.Fatalf("other host blocked: %v", err) }
    if len(page.Edges) != 2 { t.Fatalf("got %d edges", len(page.Edges)) }
}
