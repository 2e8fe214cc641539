package httpjson

import (
    "context"
    "crypto/tls"
    "errors"
    "net"
    "net/http"
    "strings"
    "time"

    jsoniter "github.com/json-iterator/go"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/amirimatin/go-su/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-su/pkg/observability/metrics"
    "github.com/amirimatin/go-su/pkg/observability/tracing"
    "github.com/amirimatin/go-su/pkg/state"
    "github.com/amirimatin/go-su/pkg/transport"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the HTTP management server: GET /state/{processId}?to=, plus
// /healthz and /metrics.
type Server struct {
    bind   string
    srv    *http.Server
    ln     net.Listener
    log    logutil.Logger
    tlsCfg *tls.Config
}

// NewServer binds to the given TCP address (e.g., ":18080").
func NewServer(bind string, log logutil.Logger) *Server {
    return &Server{bind: bind, log: logutil.OrNop(log).Named("httpjson")}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// Handler returns the management routes backed by reader.
func Handler(reader state.Reader, log logutil.Logger) http.Handler {
    log = logutil.OrNop(log)
    mux := http.NewServeMux()
    mux.HandleFunc("/state/", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        in := state.Input{
            ProcessID: strings.TrimPrefix(r.URL.Path, "/state/"),
            To:        r.URL.Query().Get("to"),
        }
        start := time.Now()
        ctx, end := tracing.StartSpan(r.Context(), "http.read_state", tracing.Process(in.ProcessID))
        st, err := readState(ctx, reader, in)
        end(err)
        obsmetrics.StateReadDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
        if err != nil {
            obsmetrics.StateReads.WithLabelValues("http", "error").Inc()
            writeError(w, log, in, err)
            return
        }
        obsmetrics.StateReads.WithLabelValues("http", "ok").Inc()
        w.Header().Set("Content-Type", "application/json")
        _ = json.NewEncoder(w).Encode(st)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

// readState validates in before handing it to reader.
func readState(ctx context.Context, reader state.Reader, in state.Input) (*state.State, error) {
    if err := in.Validate(); err != nil { return nil, err }
    return reader.ReadState(ctx, in)
}

// StatusCode maps a readState failure to its HTTP status.
func StatusCode(err error) int {
    switch state.Classify(err) {
    case state.ClassInvalid:
        return http.StatusBadRequest
    case state.ClassMismatch:
        return http.StatusUnprocessableEntity
    case state.ClassUpstream:
        return http.StatusBadGateway
    default:
        return http.StatusInternalServerError
    }
}

func writeError(w http.ResponseWriter, log logutil.Logger, in state.Input, err error) {
    code := StatusCode(err)
    if code >= http.StatusInternalServerError {
        log.Errorf("read state of process %s failed: %v", in.ProcessID, err)
    } else {
        log.Debugf("read state of process %s rejected: %v", in.ProcessID, err)
    }
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(transport.ErrorBody{Error: err.Error(), Code: transport.Code(state.Classify(err))})
}

// Start launches the HTTP server. The server is shut down when the context
// is canceled.
func (s *Server) Start(ctx context.Context, reader state.Reader) error {
    if reader == nil { return errors.New("httpjson: nil state reader") }
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil {
        ln = tls.NewListener(ln, s.tlsCfg)
    }
    s.ln = ln
    s.srv = &http.Server{Handler: Handler(reader, s.log), ReadHeaderTimeout: 5 * time.Second}

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    srv := s.srv
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            s.log.Errorf("server error: %v", err)
        }
    }()
    s.log.Infof("management API listening on %s", ln.Addr())
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    s.srv = nil
    return err
}

var _ transport.StateServer = (*Server)(nil)
