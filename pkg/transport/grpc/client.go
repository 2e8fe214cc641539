package grpc

import (
    "context"
    "crypto/tls"
    "strings"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/backoff"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/credentials/insecure"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-su/pkg/state"
    "github.com/amirimatin/go-su/pkg/transport"
)

// Client calls the management gRPC service, reusing one connection per
// address.
type Client struct {
    timeout time.Duration
    tlsCfg  *tls.Config
    pool    *connPool
}

func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    c := &Client{timeout: timeout}
    c.pool = newConnPool(30*time.Second, c.dial)
    return c
}

// UseTLS sets TLS config for the client.
func (c *Client) UseTLS(cfg *tls.Config) *Client { c.tlsCfg = cfg; return c }

func (c *Client) dial(ctx context.Context, target string) (*grpc.ClientConn, error) {
    opts := []grpc.DialOption{
        grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{}), grpc.CallContentSubtype("json")),
        grpc.WithConnectParams(grpc.ConnectParams{Backoff: backoff.DefaultConfig, MinConnectTimeout: 500 * time.Millisecond}),
        grpc.WithKeepaliveParams(keepalive.ClientParameters{Time: 20 * time.Second, Timeout: 5 * time.Second, PermitWithoutStream: true}),
        grpc.WithBlock(),
    }
    if c.tlsCfg != nil {
        opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)))
    } else {
        opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
    }
    return grpc.DialContext(ctx, target, opts...)
}

// ReadState invokes su.v1.State/ReadState on addr. Server failures come back
// as *transport.RemoteError.
func (c *Client) ReadState(ctx context.Context, addr string, in state.Input) (*state.State, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.conn(cctx, addr)
    if err != nil { return nil, err }
    defer rel()
    out := new(state.State)
    if err := cc.Invoke(cctx, readStateRoute, &in, out); err != nil { return nil, remoteError(err) }
    return out, nil
}

// Healthy reports whether addr's state service is SERVING.
func (c *Client) Healthy(ctx context.Context, addr string) (bool, error) {
    cctx, cancel := context.WithTimeout(ctx, c.timeout)
    defer cancel()
    cc, rel, err := c.conn(cctx, addr)
    if err != nil { return false, err }
    defer rel()
    resp, err := healthpb.NewHealthClient(cc).Check(cctx, &healthpb.HealthCheckRequest{Service: serviceName})
    if err != nil { return false, err }
    return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close drops every pooled connection.
func (c *Client) Close() { c.pool.Close() }

func (c *Client) conn(ctx context.Context, addr string) (*grpc.ClientConn, func(), error) {
    return c.pool.Get(ctx, addr)
}

// remoteError recovers the wire failure code from a status message of the
// form "<code>: <message>".
func remoteError(err error) error {
    st, ok := status.FromError(err)
    if !ok { return err }
    code, msg, found := strings.Cut(st.Message(), ": ")
    if !found { return err }
    switch code {
    case "invalid_input", "hash_chain_mismatch", "scheduler_unavailable", "internal":
        return &transport.RemoteError{Code: code, Message: msg}
    }
    return err
}

var _ transport.StateClient = (*Client)(nil)
