//go:build integration

package integration

import (
    "context"
    "crypto/sha256"
    "encoding/base64"
    "encoding/json"
    "fmt"
    "net/http"
    "net/http/httptest"
    "strconv"
    "sync/atomic"
    "testing"

    "github.com/amirimatin/go-su/pkg/bootstrap"
    "github.com/amirimatin/go-su/pkg/hashchain"
    "github.com/amirimatin/go-su/pkg/scheduler"
    "github.com/amirimatin/go-su/pkg/tags"
)

// suFixture is an in-process scheduler unit serving one process whose
// assignments carry a valid hash chain.
type suFixture struct {
    *httptest.Server
    edges []scheduler.Edge
    pages atomic.Int64
    // failEvery makes every nth page request answer 503 when > 0.
    failEvery atomic.Int64
}

func newSUFixture(t *testing.T, process string, n int) *suFixture {
    t.Helper()
    f := &suFixture{edges: chainedEdges(t, process, n)}
    mux := http.NewServeMux()
    mux.HandleFunc("/processes/"+process, func(w http.ResponseWriter, r *http.Request) {
        fmt.Fprint(w, `{"owner":{"address":"owner-1"},"tags":[{"name":"Module","value":"mod-1"}],"block":{"height":"000000000100","timestamp":1},"timestamp":1}`)
    })
    mux.HandleFunc("/timestamp", func(w http.ResponseWriter, r *http.Request) {
        fmt.Fprint(w, `{"timestamp":1700000009999,"block_height":"000001331218"}`)
    })
    mux.HandleFunc("/"+process, func(w http.ResponseWriter, r *http.Request) {
        hit := f.pages.Add(1)
        if every := f.failEvery.Load(); every > 0 && hit%every == 0 {
            http.Error(w, "busy", http.StatusServiceUnavailable)
            return
        }
        q := r.URL.Query()
        from, _ := strconv.Atoi(q.Get("from"))
        to := len(f.edges)
        if v := q.Get("to"); v != "" { to, _ = strconv.Atoi(v) }
        limit, _ := strconv.Atoi(q.Get("limit"))
        var page scheduler.Page
        for i := from; i < to && i < len(f.edges); i++ {
            if len(page.Edges) == limit { page.PageInfo.HasNextPage = true; break }
            page.Edges = append(page.Edges, f.edges[i])
        }
        _ = json.NewEncoder(w).Encode(page)
    })
    f.Server = httptest.NewServer(mux)
    t.Cleanup(f.Close)
    return f
}

// chainedEdges builds n assignments with cursors 1..n linked by hash chain.
func chainedEdges(t *testing.T, process string, n int) []scheduler.Edge {
    t.Helper()
    genesis := sha256.Sum256([]byte(process))
    prev := &hashchain.Prev{}
    chain := base64.RawURLEncoding.EncodeToString(genesis[:])
    edges := make([]scheduler.Edge, 0, n)
    for i := 1; i <= n; i++ {
        if prev.Complete() {
            var err error
            if chain, err = hashchain.Compute(prev.ID, prev.HashChain); err != nil { t.Fatalf("chain %d: %v", i, err) }
        }
        id := base64.RawURLEncoding.EncodeToString([]byte("assignment-" + strconv.Itoa(i)))
        edges = append(edges, scheduler.Edge{Cursor: strconv.Itoa(i), Node: scheduler.Node{
            Assignment: &scheduler.Assignment{ID: id, Tags: []tags.Tag{
                {Name: "Process", Value: process},
                {Name: "Nonce", Value: strconv.Itoa(i)},
                {Name: "Timestamp", Value: strconv.Itoa(1700000000000 + i)},
                {Name: "Block-Height", Value: "000001331218"},
                {Name: "Message", Value: "tx-" + strconv.Itoa(i)},
                {Name: "Hash-Chain", Value: chain},
            }},
        }})
        prev = &hashchain.Prev{ID: id, HashChain: chain}
    }
    return edges
}

// tamper replaces the chain value of the edge with cursor i.
func (f *suFixture) tamper(i int) {
    a := f.edges[i-1].Node.Assignment
    for k := range a.Tags {
        if a.Tags[k].Name == "Hash-Chain" { a.Tags[k].Value = "AAAA" }
    }
}

func startNode(t *testing.T, ctx context.Context, cfg bootstrap.Config) *bootstrap.Node {
    t.Helper()
    if cfg.MgmtAddr == "" || cfg.MgmtAddr == bootstrap.Default().MgmtAddr { cfg.MgmtAddr = "127.0.0.1:0" }
    cfg.Log.Level = "error"
    n, err := bootstrap.Run(ctx, cfg)
    if err != nil { t.Fatalf("run: %v", err) }
    t.Cleanup(func() { _ = n.Close(context.Background()) })
    return n
}

func nodeConfig(suURL, proto string) bootstrap.Config {
    cfg := bootstrap.Default()
    cfg.SchedulerURL = suURL
    cfg.MgmtProto = proto
    cfg.PageSize = 100
    cfg.VerifyHashChain = true
    cfg.Retry.BaseDelay = bootstrap.Duration(1_000_000)
    return cfg
}
