package grpc

import (
    "context"
    "errors"
    "testing"
    "time"

    "google.golang.org/grpc/codes"

    "github.com/amirimatin/go-su/pkg/hashchain"
    "github.com/amirimatin/go-su/pkg/internal/logutil"
    "github.com/amirimatin/go-su/pkg/scheduler"
    "github.com/amirimatin/go-su/pkg/state"
    "github.com/amirimatin/go-su/pkg/transport"
)

type readerFunc func(ctx context.Context, in state.Input) (*state.State, error)

func (f readerFunc) ReadState(ctx context.Context, in state.Input) (*state.State, error) { return f(ctx, in) }

func startServer(t *testing.T, r state.Reader) string {
    t.Helper()
    s := NewServer("127.0.0.1:0", logutil.Nop())
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    if err := s.Start(ctx, r); err != nil { t.Fatalf("start: %v", err) }
    return s.Addr()
}

func TestReadStateOverGRPC(t *testing.T) {
    addr := startServer(t, readerFunc(func(_ context.Context, in state.Input) (*state.State, error) {
        if in.ProcessID == "broken" { return nil, &hashchain.MismatchError{MessageID: "m", ProcessID: in.ProcessID} }
        return &state.State{ProcessID: in.ProcessID, To: in.To, Messages: 7}, nil
    }))
    c := NewClient(2 * time.Second)
    defer c.Close()
    ctx := context.Background()

    st, err := c.ReadState(ctx, addr, state.Input{ProcessID: "p1", To: "12"})
    if err != nil { t.Fatalf("read: %v", err) }
    if st.ProcessID != "p1" || st.To != "12" || st.Messages != 7 { t.Fatalf("unexpected state %+v", st) }

    var re *transport.RemoteError
    if _, err := c.ReadState(ctx, addr, state.Input{ProcessID: "not valid"}); !errors.As(err, &re) || re.Code != "invalid_input" {
        t.Fatalf("expected invalid_input, got %v", err)
    }
    if _, err := c.ReadState(ctx, addr, state.Input{ProcessID: "broken"}); !errors.As(err, &re) || re.Code != "hash_chain_mismatch" {
        t.Fatalf("expected hash_chain_mismatch, got %v", err)
    }

    ok, err := c.Healthy(ctx, addr)
    if err != nil || !ok { t.Fatalf("health: %v %v", ok, err) }
    if c.pool.Len() != 1 { t.Fatalf("expected one pooled connection, got %d", c.pool.Len()) }
}

func TestCode(t *testing.T) {
    cases := []struct {
        err  error
        want codes.Code
    }{
        {state.ErrInvalidInput, codes.InvalidArgument},
        {&hashchain.MismatchError{}, codes.FailedPrecondition},
        {&scheduler.RequestError{Err: errors.New("down")}, codes.Unavailable},
        {errors.New("other"), codes.Internal},
    }
    for _, tc := range cases {
        if got := Code(tc.err); got != tc.want { t.Fatalf("%v: got %s want %s", tc.err, got, tc.want) }
    }
}

func TestConnPoolEvictsIdle(t *testing.T) {
    addr := startServer(t, readerFunc(func(_ context.Context, in state.Input) (*state.State, error) {
        return &state.State{ProcessID: in.ProcessID}, nil
    }))
    c := NewClient(2 * time.Second)
    defer c.Close()
    for i := 0; i < 3; i++ {
        if _, err := c.ReadState(context.Background(), addr, state.Input{ProcessID: "p1"}); err != nil { t.Fatal(err) }
    }
    if c.pool.Len() != 1 { t.Fatalf("expected connection reuse, got %d", c.pool.Len()) }
    if n := c.pool.evictIdle(time.Now().Add(time.Minute)); n != 1 { t.Fatalf("evicted %d", n) }
    if c.pool.Len() != 0 { t.Fatalf("pool not empty after eviction") }
}
