//go:build integration

package integration

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/amirimatin/go-su/pkg/state"
    "github.com/amirimatin/go-su/pkg/transport"
)

// Every third page request fails; retries must hide it.
func TestFlakySURecovers(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    su := newSUFixture(t, "proc-1", 700)
    su.failEvery.Store(3)
    n := startNode(t, ctx, nodeConfig(su.URL, "http"))

    st, err := clientFor(t, "http").ReadState(ctx, n.Server.Addr(), state.Input{ProcessID: "proc-1"})
    if err != nil { t.Fatalf("read state: %v", err) }
    if st.Messages != 700 { t.Fatalf("unexpected state %+v", st) }
    if su.pages.Load() <= 7 { t.Fatalf("expected retried page requests, got %d", su.pages.Load()) }
}

func TestTamperedChainIsRejected(t *testing.T) {
    for _, proto := range []string{"http", "grpc"} {
        t.Run(proto, func(t *testing.T) {
            ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
            defer cancel()
            su := newSUFixture(t, "proc-1", 300)
            su.tamper(150)
            n := startNode(t, ctx, nodeConfig(su.URL, proto))

            _, err := clientFor(t, proto).ReadState(ctx, n.Server.Addr(), state.Input{ProcessID: "proc-1"})
            var re *transport.RemoteError
            if !errors.As(err, &re) || re.Code != "hash_chain_mismatch" { t.Fatalf("expected hash_chain_mismatch, got %v", err) }
            if re.Retryable() { t.Fatalf("mismatch must not be retryable") }
        })
    }
}

func TestUnreachableSU(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
    defer cancel()
    su := newSUFixture(t, "proc-1", 1)
    cfg := nodeConfig(su.URL, "http")
    su.Close()
    cfg.Retry.MaxRetries = 1
    n := startNode(t, ctx, cfg)

    _, err := clientFor(t, "http").ReadState(ctx, n.Server.Addr(), state.Input{ProcessID: "proc-1"})
    var re *transport.RemoteError
    if !errors.As(err, &re) || re.Code != "scheduler_unavailable" { t.Fatalf("expected scheduler_unavailable, got %v", err) }
}
