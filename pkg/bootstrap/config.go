package bootstrap

import (
    "bytes"
    "errors"
    "fmt"
    "net/url"
    "os"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    jsoniter "github.com/json-iterator/go"
    yaml "go.yaml.in/yaml/v3"

    "github.com/amirimatin/go-su/pkg/internal/logutil"
    "github.com/amirimatin/go-su/pkg/scheduler"
    tlsx "github.com/amirimatin/go-su/pkg/security/tlsconfig"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Duration decodes from a Go duration string ("500ms") or a number of
// nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
    s := strings.TrimSpace(string(b))
    if s == "null" { return nil }
    if uq, err := strconv.Unquote(s); err == nil {
        v, err := time.ParseDuration(uq)
        if err != nil { return fmt.Errorf("bootstrap: duration %q: %w", uq, err) }
        *d = Duration(v)
        return nil
    }
    n, err := strconv.ParseInt(s, 10, 64)
    if err != nil { return fmt.Errorf("bootstrap: duration %s: %w", s, err) }
    *d = Duration(n)
    return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(time.Duration(d).String()) }

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config defines the inputs to assemble an SU client and its management API.
// Zero fields take the defaults of Default.
type Config struct {
    // SU base URL, e.g. "https://su.example.net"
    SchedulerURL string `json:"schedulerUrl"`

    // Management API (readState/healthz/metrics)
    MgmtAddr  string `json:"mgmtAddr"`
    MgmtProto string `json:"mgmtProto"` // "http" (default) or "grpc"

    PageSize        int           `json:"pageSize"`
    CoalesceWindow  Duration      `json:"coalesceWindow"`
    Retry           RetryConfig   `json:"retry"`
    RateLimit       float64       `json:"rateLimit"`
    RateBurst       int           `json:"rateBurst"`
    Breaker         BreakerConfig `json:"breaker"`
    VerifyHashChain bool          `json:"verifyHashChain"`
    HTTPTimeout     Duration      `json:"httpTimeout"`

    // TLS for the management API; SchedulerTLS for calls to the SU.
    TLS          tlsx.Options `json:"tls"`
    SchedulerTLS tlsx.Options `json:"schedulerTls"`

    Log   logutil.Config `json:"log"`
    Trace bool           `json:"trace"`

    // Logger overrides Log when set.
    Logger logutil.Logger `json:"-"`
}

type RetryConfig struct {
    MaxRetries int      `json:"maxRetries"`
    BaseDelay  Duration `json:"baseDelay"`
    MaxDelay   Duration `json:"maxDelay"`
}

type BreakerConfig struct {
    ConsecutiveFailures int      `json:"consecutiveFailures"`
    OpenTimeout         Duration `json:"openTimeout"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
    return Config{
        MgmtAddr:       ":18080",
        MgmtProto:      "http",
        PageSize:       scheduler.DefaultPageSize,
        CoalesceWindow: Duration(scheduler.DefaultCoalesceWindow),
        Retry: RetryConfig{
            MaxRetries: scheduler.DefaultMaxRetries,
            BaseDelay:  Duration(scheduler.DefaultBaseDelay),
            MaxDelay:   Duration(scheduler.DefaultMaxDelay),
        },
        Breaker: BreakerConfig{
            ConsecutiveFailures: scheduler.DefaultBreakerTrip,
            OpenTimeout:         Duration(scheduler.DefaultBreakerTimeout),
        },
        HTTPTimeout: Duration(30 * time.Second),
        Log:         logutil.Config{Level: "info"},
    }
}

// Validate checks the fields Build cannot default.
func (c Config) Validate() error {
    if strings.TrimSpace(c.SchedulerURL) == "" { return errors.New("bootstrap: schedulerUrl is required") }
    u, err := url.Parse(c.SchedulerURL)
    if err != nil { return fmt.Errorf("bootstrap: schedulerUrl: %w", err) }
    if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
        return fmt.Errorf("bootstrap: schedulerUrl %q must be an absolute http(s) URL", c.SchedulerURL)
    }
    switch c.MgmtProto {
    case "", "http", "grpc":
    default:
        return fmt.Errorf("bootstrap: unknown mgmtProto %q", c.MgmtProto)
    }
    if c.PageSize < 0 { return errors.New("bootstrap: pageSize must be >= 0") }
    return nil
}

// Load reads a YAML (.yaml/.yml) or JSON config file over Default. Unknown
// keys are rejected.
func Load(path string) (Config, error) {
    data, err := os.ReadFile(path)
    if err != nil { return Config{}, err }
    return Parse(data, filepath.Ext(path))
}

// Parse decodes data in the format named by ext (".yaml", ".yml" or ".json").
func Parse(data []byte, ext string) (Config, error) {
    cfg := Default()
    switch strings.ToLower(ext) {
    case ".yaml", ".yml":
        var v any
        var err error
        if err = yaml.Unmarshal(data, &v); err != nil { return Config{}, fmt.Errorf("bootstrap: yaml: %w", err) }
        if v == nil { return cfg, nil }
        data, err = json.Marshal(normalizeYAML(v))
        if err != nil { return Config{}, fmt.Errorf("bootstrap: yaml->json: %w", err) }
    case ".json", "":
    default:
        return Config{}, fmt.Errorf("bootstrap: unsupported config format %q", ext)
    }
    dec := json.NewDecoder(bytes.NewReader(data))
    dec.DisallowUnknownFields()
    if err := dec.Decode(&cfg); err != nil { return Config{}, fmt.Errorf("bootstrap: decode config: %w", err) }
    return cfg, nil
}

// normalizeYAML turns map[any]any into map[string]any so the tree can be
// re-encoded as JSON.
func normalizeYAML(in any) any {
    switch x := in.(type) {
    case map[any]any:
        m := make(map[string]any, len(x))
        for k, v := range x { m[fmt.Sprint(k)] = normalizeYAML(v) }
        return m
    case map[string]any:
        for k, v := range x { x[k] = normalizeYAML(v) }
        return x
    case []any:
        for i := range x { x[i] = normalizeYAML(x[i]) }
        return x
    default:
        return in
    }
}
