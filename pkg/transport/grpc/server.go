package grpc

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-su/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-su/pkg/observability/metrics"
    "github.com/amirimatin/go-su/pkg/observability/tracing"
    "github.com/amirimatin/go-su/pkg/state"
    "github.com/amirimatin/go-su/pkg/transport"
)

const (
    serviceName    = "su.v1.State"
    readStateRoute = "/" + serviceName + "/ReadState"
)

// Server implements transport.StateServer over gRPC using a JSON codec.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
    tlsCfg *tls.Config
    log    logutil.Logger
}

func NewServer(bind string, log logutil.Logger) *Server {
    return &Server{bind: bind, log: logutil.OrNop(log).Named("grpc")}
}

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// stateServer is the method set served under su.v1.State.
type stateServer interface {
    ReadState(ctx context.Context, in *state.Input) (*state.State, error)
}

type stateImpl struct {
    reader state.Reader
    log    logutil.Logger
}

func (m *stateImpl) ReadState(ctx context.Context, in *state.Input) (*state.State, error) {
    if in == nil { in = &state.Input{} }
    start := time.Now()
    ctx, end := tracing.StartSpan(ctx, "grpc.read_state", tracing.Process(in.ProcessID))
    st, err := m.read(ctx, *in)
    end(err)
    obsmetrics.StateReadDuration.WithLabelValues("grpc").Observe(time.Since(start).Seconds())
    if err != nil {
        obsmetrics.StateReads.WithLabelValues("grpc", "error").Inc()
        code := Code(err)
        if code == codes.Internal || code == codes.Unavailable {
            m.log.Errorf("read state of process %s failed: %v", in.ProcessID, err)
        }
        return nil, status.Error(code, transport.Code(state.Classify(err))+": "+err.Error())
    }
    obsmetrics.StateReads.WithLabelValues("grpc", "ok").Inc()
    return st, nil
}

func (m *stateImpl) read(ctx context.Context, in state.Input) (*state.State, error) {
    if err := in.Validate(); err != nil { return nil, err }
    return m.reader.ReadState(ctx, in)
}

// Code maps a readState failure to its gRPC status code.
func Code(err error) codes.Code {
    switch state.Classify(err) {
    case state.ClassInvalid:
        return codes.InvalidArgument
    case state.ClassMismatch:
        return codes.FailedPrecondition
    case state.ClassUpstream:
        return codes.Unavailable
    default:
        return codes.Internal
    }
}

// Service descriptor and handler (hand-written, no codegen required)
var _State_serviceDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*stateServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "ReadState", Handler: _State_ReadState_Handler},
    },
}

func _State_ReadState_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(state.Input)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(stateServer).ReadState(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: readStateRoute}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(stateServer).ReadState(ctx, req.(*state.Input))
    }
    return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, reader state.Reader) error {
    if reader == nil { return errors.New("grpc: nil state reader") }
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.lis = lis
    // Force JSON codec to avoid requiring protobuf types
    opts := []grpc.ServerOption{
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    }
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    s.srv = srv
    s.health = health.NewServer()
    healthpb.RegisterHealthServer(srv, s.health)
    srv.RegisterService(&_State_serviceDesc, &stateImpl{reader: reader, log: s.log})
    s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

    go func() {
        <-ctx.Done()
        s.health.Shutdown()
        // Graceful stop with a small timeout fallback
        ch := make(chan struct{})
        go func() { srv.GracefulStop(); close(ch) }()
        select {
        case <-ch:
        case <-time.After(2 * time.Second):
            srv.Stop()
        }
    }()
    go func() {
        if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
            s.log.Errorf("server error: %v", err)
        }
    }()
    s.log.Infof("management gRPC listening on %s", lis.Addr())
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    srv := s.srv
    if srv == nil { return nil }
    s.health.Shutdown()
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    s.srv = nil
    return nil
}

var _ transport.StateServer = (*Server)(nil)
