package scheduler

import (
    "crypto/sha256"
    "encoding/base64"
    "net/http"
    "net/http/httptest"
    "strconv"
    "strings"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/amirimatin/go-su/pkg/hashchain"
    "github.com/amirimatin/go-su/pkg/internal/logutil"
    "github.com/amirimatin/go-su/pkg/tags"
)

// fakeSU serves a fixed sequence of messages for one process. Cursors are the
// decimal nonce of the edge; "from" is exclusive and "to" inclusive.
type fakeSU struct {
    t       *testing.T
    process string
    edges   []Edge
    srv     *httptest.Server

    pageHits atomic.Int64
    // failFirst makes the first N requests to any path answer 500.
    failFirst atomic.Int64
    // hook, when set, replaces the page handler.
    mu   sync.Mutex
    hook http.HandlerFunc
    last string
}

func newFakeSU(t *testing.T, n int) *fakeSU {
    t.Helper()
    f := &fakeSU{t: t, process: "proc-1", edges: buildEdges(n)}
    f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
    t.Cleanup(f.srv.Close)
    return f
}

func (f *fakeSU) URL() string { return f.srv.URL }

func (f *fakeSU) setHook(h http.HandlerFunc) { f.mu.Lock(); f.hook = h; f.mu.Unlock() }

func (f *fakeSU) lastQuery() string { f.mu.Lock(); defer f.mu.Unlock(); return f.last }

func (f *fakeSU) serve(w http.ResponseWriter, r *http.Request) {
    if f.failFirst.Load() > 0 {
        f.failFirst.Add(-1)
        f.pageHits.Add(1)
        http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
        return
    }
    f.mu.Lock()
    hook := f.hook
    f.last = r.URL.RawQuery
    f.mu.Unlock()
    if hook != nil {
        f.pageHits.Add(1)
        hook(w, r)
        return
    }
    if strings.TrimPrefix(r.URL.Path, "/") != f.process {
        http.NotFound(w, r)
        return
    }
    f.pageHits.Add(1)
    q := r.URL.Query()
    from, _ := strconv.Atoi(q.Get("from"))
    to := len(f.edges)
    if v := q.Get("to"); v != "" { to, _ = strconv.Atoi(v) }
    limit, _ := strconv.Atoi(q.Get("limit"))
    if limit <= 0 { limit = 1000 }
    var page Page
    for _, e := range f.edges {
        n, _ := strconv.Atoi(e.Cursor)
        if n <= from || n > to { continue }
        if len(page.Edges) == limit { page.PageInfo.HasNextPage = true; break }
        page.Edges = append(page.Edges, e)
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(page)
}

func b64(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

// buildEdges returns n edges with nonces 1..n and a valid hash chain. Odd
// nonces carry a message payload, even ones are bare assignments.
func buildEdges(n int) []Edge {
    edges := make([]Edge, 0, n)
    genesis := sha256.Sum256([]byte("genesis"))
    prev := &hashchain.Prev{HashChain: b64(genesis[:])}
    for i := 1; i <= n; i++ {
        idSum := sha256.Sum256([]byte("assignment-" + strconv.Itoa(i)))
        id := b64(idSum[:])
        chain, _ := hashchain.Compute(prev.ID, prev.HashChain)
        at := []tags.Tag{
            {Name: "Process", Value: "proc-1"},
            {Name: "Epoch", Value: "0"},
            {Name: "Nonce", Value: strconv.Itoa(i)},
            {Name: "Timestamp", Value: strconv.Itoa(1700000000000 + i)},
            {Name: "Block-Height", Value: "000001331218"},
            {Name: "Hash-Chain", Value: chain},
        }
        e := Edge{Cursor: strconv.Itoa(i), Node: Node{Assignment: &Assignment{ID: id, Owner: Owner{Address: "su-wallet"}}}}
        if i%2 == 1 {
            e.Node.Message = &RawMessage{
                ID:        "msg-" + strconv.Itoa(i),
                Owner:     Owner{Address: "user-wallet"},
                Data:      "1 + 1",
                Tags:      []tags.Tag{{Name: "Action", Value: "Eval"}},
                Signature: "sig",
                Recipient: "proc-1",
            }
        } else {
            at = append(at, tags.Tag{Name: "Message", Value: "tx-" + strconv.Itoa(i)})
        }
        e.Node.Assignment.Tags = at
        edges = append(edges, e)
        prev = &hashchain.Prev{ID: id, HashChain: chain}
    }
    return edges
}

func newTestClient(t *testing.T, mutate func(o *Options)) *Client {
    t.Helper()
    opts := Options{
        Logger:         logutil.Nop(),
        Retry:          RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
        CoalesceWindow: -1,
    }
    if mutate != nil { mutate(&opts) }
    c, err := New(opts)
    if err != nil { t.Fatalf("new client: %v", err) }
    return c
}
