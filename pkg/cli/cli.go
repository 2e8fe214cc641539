package cli

import (
    "context"
    "crypto/tls"
    "fmt"
    "io"
    "os"
    "os/signal"
    "syscall"
    "time"

    jsoniter "github.com/json-iterator/go"
    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/amirimatin/go-su/pkg/bootstrap"
    tlsx "github.com/amirimatin/go-su/pkg/security/tlsconfig"
    "github.com/amirimatin/go-su/pkg/state"
    "github.com/amirimatin/go-su/pkg/transport"
    mgmtgrpc "github.com/amirimatin/go-su/pkg/transport/grpc"
    httpjson "github.com/amirimatin/go-su/pkg/transport/httpjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// AddAll attaches the su subcommands (serve/process/timestamp/meta/messages/state)
// to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewServeCmd())
    root.AddCommand(NewProcessCmd())
    root.AddCommand(NewTimestampCmd())
    root.AddCommand(NewMetaCmd())
    root.AddCommand(NewMessagesCmd())
    root.AddCommand(NewStateCmd())
}

// NewSUCommand returns a parent command "su" containing every subcommand.
func NewSUCommand() *cobra.Command {
    parent := &cobra.Command{Use: "su", Short: "scheduler unit client commands"}
    AddAll(parent)
    return parent
}

// configFlags are the flags shared by commands that talk to an SU. Flags
// override the file given with --config.
type configFlags struct {
    path        string
    suURL       string
    pageSize    int
    verify      bool
    maxRetries  int
    baseDelay   time.Duration
    httpTimeout time.Duration
    logLevel    string
    logJSON     bool
    suTLSCA     string
    suTLSSkip   bool
}

func (f *configFlags) register(fs *pflag.FlagSet) {
    fs.StringVar(&f.path, "config", "", "config file (.yaml, .yml or .json)")
    fs.StringVar(&f.suURL, "su", "", "scheduler unit base URL")
    fs.IntVar(&f.pageSize, "page-size", 0, "messages per SU page")
    fs.BoolVar(&f.verify, "verify-hash-chain", false, "reject messages whose hash chain does not follow")
    fs.IntVar(&f.maxRetries, "max-retries", 0, "retries per SU request (negative disables)")
    fs.DurationVar(&f.baseDelay, "retry-delay", 0, "initial retry backoff")
    fs.DurationVar(&f.httpTimeout, "http-timeout", 0, "timeout of one SU HTTP request")
    fs.StringVar(&f.logLevel, "log-level", "", "log level: debug|info|warn|error")
    fs.BoolVar(&f.logJSON, "log-json", false, "log as JSON")
    fs.StringVar(&f.suTLSCA, "su-tls-ca", "", "CA bundle (PEM) for the SU's certificate")
    fs.BoolVar(&f.suTLSSkip, "su-tls-skip-verify", false, "skip SU cert verification (DEV ONLY)")
}

// load returns the file config (or defaults) with changed flags applied.
func (f *configFlags) load(fs *pflag.FlagSet) (bootstrap.Config, error) {
    cfg := bootstrap.Default()
    if f.path != "" {
        var err error
        if cfg, err = bootstrap.Load(f.path); err != nil { return cfg, err }
    }
    if fs.Changed("su") { cfg.SchedulerURL = f.suURL }
    if fs.Changed("page-size") { cfg.PageSize = f.pageSize }
    if fs.Changed("verify-hash-chain") { cfg.VerifyHashChain = f.verify }
    if fs.Changed("max-retries") { cfg.Retry.MaxRetries = f.maxRetries }
    if fs.Changed("retry-delay") { cfg.Retry.BaseDelay = bootstrap.Duration(f.baseDelay) }
    if fs.Changed("http-timeout") { cfg.HTTPTimeout = bootstrap.Duration(f.httpTimeout) }
    if fs.Changed("log-level") { cfg.Log.Level = f.logLevel }
    if fs.Changed("log-json") { cfg.Log.JSON = f.logJSON }
    if fs.Changed("su-tls-ca") || fs.Changed("su-tls-skip-verify") {
        cfg.SchedulerTLS.Enable = true
        cfg.SchedulerTLS.CAFile = f.suTLSCA
        cfg.SchedulerTLS.InsecureSkipVerify = f.suTLSSkip
    }
    return cfg, cfg.Validate()
}

// tlsFlags configure mTLS for the management transport.
type tlsFlags struct {
    enable, skip              bool
    ca, cert, key, serverName string
}

func (f *tlsFlags) register(fs *pflag.FlagSet, role string) {
    fs.BoolVar(&f.enable, "tls-enable", false, "enable mTLS for management transport")
    fs.StringVar(&f.ca, "tls-ca", "", "path to CA cert (PEM)")
    fs.StringVar(&f.cert, "tls-cert", "", "path to "+role+" certificate (PEM)")
    fs.StringVar(&f.key, "tls-key", "", "path to "+role+" private key (PEM)")
    fs.BoolVar(&f.skip, "tls-skip-verify", false, "skip server cert verification (DEV ONLY)")
    fs.StringVar(&f.serverName, "tls-server-name", "", "expected server name (for TLS validation)")
}

func (f *tlsFlags) options() tlsx.Options {
    return tlsx.Options{Enable: f.enable, CAFile: f.ca, CertFile: f.cert, KeyFile: f.key, InsecureSkipVerify: f.skip, ServerName: f.serverName}
}

// NewServeCmd returns the "serve" command, which runs the management API.
func NewServeCmd() *cobra.Command {
    var (
        cf                  configFlags
        tf                  tlsFlags
        mgmtAddr, mgmtProto string
        traceEnable         bool
    )
    cmd := &cobra.Command{
        Use:   "serve",
        Short: "Serve readState over HTTP or gRPC",
        RunE: func(cmd *cobra.Command, args []string) error {
            fs := cmd.Flags()
            cfg, err := cf.load(fs)
            if err != nil { return err }
            if fs.Changed("mgmt-addr") { cfg.MgmtAddr = mgmtAddr }
            if fs.Changed("mgmt-proto") { cfg.MgmtProto = mgmtProto }
            if fs.Changed("trace") { cfg.Trace = traceEnable }
            if tf.enable { cfg.TLS = tf.options() }

            ctx, cancel := signalContext(cmd.Context())
            defer cancel()
            n, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer func() { _ = n.Close(context.Background()) }()

            fmt.Fprintf(cmd.OutOrStdout(), "serving on %s. Press Ctrl+C to exit.\n", n.Server.Addr())
            <-ctx.Done()
            return nil
        },
    }
    cf.register(cmd.Flags())
    tf.register(cmd.Flags(), "server")
    cmd.Flags().StringVar(&mgmtAddr, "mgmt-addr", ":18080", "management address (tcp)")
    cmd.Flags().StringVar(&mgmtProto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}

// NewStateCmd returns the "state" command, a client of a running "serve".
func NewStateCmd() *cobra.Command {
    var (
        addr, proto, to string
        timeout         time.Duration
        tf              tlsFlags
    )
    cmd := &cobra.Command{
        Use:   "state <processId>",
        Short: "Read a process's state from a management server",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            var cliTLS *tls.Config
            if tf.enable {
                var err error
                if cliTLS, err = tf.options().ClientHotReload(); err != nil { return fmt.Errorf("tls client config: %w", err) }
            }
            var client transport.StateClient
            switch proto {
            case "grpc":
                c := mgmtgrpc.NewClient(timeout)
                if cliTLS != nil { c.UseTLS(cliTLS) }
                defer c.Close()
                client = c
            default:
                c := httpjson.NewClient(timeout)
                if cliTLS != nil { c.UseTLS(cliTLS) }
                client = c
            }
            ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
            defer cancel()
            st, err := client.ReadState(ctx, addr, state.Input{ProcessID: args[0], To: to})
            if err != nil { return fmt.Errorf("state error: %w", err) }
            return writeJSON(cmd.OutOrStdout(), st)
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:18080", "management address of a server (host:port)")
    cmd.Flags().StringVar(&proto, "mgmt-proto", "http", "management RPC protocol: http|grpc")
    cmd.Flags().StringVar(&to, "to", "", "read up to this cursor")
    cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
    tf.register(cmd.Flags(), "client")
    return cmd
}

func writeJSON(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
    if parent == nil { parent = context.Background() }
    return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
