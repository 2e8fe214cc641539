// Package bootstrap assembles an SU client, the default state reader and the
// management server from a Config.
package bootstrap

import (
    "context"
    "crypto/tls"
    "errors"
    "net/http"
    "time"

    "github.com/amirimatin/go-su/pkg/internal/logutil"
    obsmetrics "github.com/amirimatin/go-su/pkg/observability/metrics"
    "github.com/amirimatin/go-su/pkg/observability/tracing"
    "github.com/amirimatin/go-su/pkg/scheduler"
    "github.com/amirimatin/go-su/pkg/state"
    "github.com/amirimatin/go-su/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-su/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-su/pkg/transport/httpjson"
)

// Node is an assembled, not yet started, set of components.
type Node struct {
    Config Config
    Logger logutil.Logger
    Client *scheduler.Client
    Reader state.Reader
    Server transport.StateServer

    stopTrace func(context.Context) error
}

// SchedulerOptions maps cfg onto scheduler.Options. The HTTP client carries
// the SU TLS settings.
func SchedulerOptions(cfg Config, log logutil.Logger) (scheduler.Options, error) {
    suTLS, err := cfg.SchedulerTLS.Client()
    if err != nil { return scheduler.Options{}, err }
    httpc := &http.Client{Timeout: cfg.HTTPTimeout.Std()}
    if suTLS != nil {
        tr := http.DefaultTransport.(*http.Transport).Clone()
        tr.TLSClientConfig = suTLS
        httpc.Transport = tr
    }
    return scheduler.Options{
        HTTPClient: httpc,
        Logger:     log,
        Retry: scheduler.RetryPolicy{
            MaxRetries: cfg.Retry.MaxRetries,
            BaseDelay:  cfg.Retry.BaseDelay.Std(),
            MaxDelay:   cfg.Retry.MaxDelay.Std(),
        },
        Breaker: scheduler.BreakerOptions{
            ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
            OpenTimeout:         cfg.Breaker.OpenTimeout.Std(),
        },
        CoalesceWindow:  cfg.CoalesceWindow.Std(),
        PageSize:        cfg.PageSize,
        RateLimit:       cfg.RateLimit,
        RateBurst:       cfg.RateBurst,
        VerifyHashChain: cfg.VerifyHashChain,
    }, nil
}

// Logger returns cfg.Logger or a zap logger built from cfg.Log.
func Logger(cfg Config) logutil.Logger {
    if cfg.Logger != nil { return cfg.Logger }
    return logutil.New(cfg.Log)
}

// Build assembles a Node from Config without starting it.
func Build(cfg Config) (*Node, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    log := Logger(cfg)

    opts, err := SchedulerOptions(cfg, log)
    if err != nil { return nil, err }
    client, err := scheduler.New(opts)
    if err != nil { return nil, err }
    reader := state.NewSummarizer(client, cfg.SchedulerURL, cfg.PageSize, log)

    var srvTLS *tls.Config
    if cfg.TLS.Enable {
        // hot reload allows rotating the files in place
        if srvTLS, err = cfg.TLS.ServerHotReload(); err != nil { return nil, err }
    }
    var srv transport.StateServer
    switch cfg.MgmtProto {
    case "grpc":
        s := mgmtgrpc.NewServer(cfg.MgmtAddr, log)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        srv = s
    default:
        s := httpjson.NewServer(cfg.MgmtAddr, log)
        if srvTLS != nil { s.UseTLS(srvTLS) }
        srv = s
    }
    return &Node{Config: cfg, Logger: log, Client: client, Reader: reader, Server: srv}, nil
}

// Run builds the node and starts its management server. The caller is
// responsible for calling Close when finished.
func Run(ctx context.Context, cfg Config) (*Node, error) {
    stopTrace, err := tracing.Setup(cfg.Trace)
    if err != nil { return nil, err }
    obsmetrics.Register()
    n, err := Build(cfg)
    if err != nil {
        _ = stopTrace(context.Background())
        return nil, err
    }
    n.stopTrace = stopTrace
    if err := n.Server.Start(ctx, n.Reader); err != nil {
        _ = stopTrace(context.Background())
        return nil, err
    }
    n.Logger.Infof("serving readState for %s over %s on %s", cfg.SchedulerURL, protoName(cfg.MgmtProto), n.Server.Addr())
    return n, nil
}

// Close stops the management server and flushes traces.
func (n *Node) Close(ctx context.Context) error {
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    err := n.Server.Stop(ctx)
    if n.stopTrace != nil { err = errors.Join(err, n.stopTrace(ctx)) }
    return err
}

func protoName(p string) string {
    if p == "" { return "http" }
    return p
}
