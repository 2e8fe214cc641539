package scheduler

import (
    "errors"
    "net/http"
    "time"

    "github.com/amirimatin/go-su/pkg/internal/logutil"
)

const (
    DefaultPageSize       = 1000
    DefaultMaxRetries     = 5
    DefaultBaseDelay      = 500 * time.Millisecond
    DefaultMaxDelay       = 10 * time.Second
    DefaultCoalesceWindow = 10 * time.Millisecond
    DefaultBreakerTrip    = 20
    DefaultBreakerTimeout = 30 * time.Second
)

// RetryPolicy bounds re-attempts of a failed SU request. Delays grow
// exponentially from BaseDelay up to MaxDelay.
type RetryPolicy struct {
    // MaxRetries is the number of re-attempts after the first try. Zero
    // selects DefaultMaxRetries; negative disables retries.
    MaxRetries int
    BaseDelay  time.Duration
    MaxDelay   time.Duration
}

// BreakerOptions tune the circuit breaker wrapped around SU calls.
type BreakerOptions struct {
    // ConsecutiveFailures trips the breaker. Zero selects DefaultBreakerTrip;
    // negative disables the breaker.
    ConsecutiveFailures int
    // OpenTimeout is how long the breaker stays open before probing again.
    OpenTimeout time.Duration
}

// Options configure a Client. The zero value is usable.
type Options struct {
    // HTTPClient performs SU requests. Defaults to a client with a 30s timeout.
    HTTPClient *http.Client
    Logger     logutil.Logger

    Retry   RetryPolicy
    Breaker BreakerOptions

    // CoalesceWindow is how long a page request waits for identical
    // requests to join it before hitting the network. Negative disables
    // the window (only truly simultaneous calls are merged).
    CoalesceWindow time.Duration

    // PageSize is the default limit for page requests that set none.
    PageSize int

    // RateLimit caps outbound SU requests per second; zero means unlimited.
    RateLimit float64
    RateBurst int

    // VerifyHashChain makes message streams reject messages whose hash chain
    // does not follow from the previous assignment.
    VerifyHashChain bool
}

// Validate performs a minimal validation of Options.
func (o Options) Validate() error {
    if o.PageSize < 0 {
        return errors.New("scheduler: negative PageSize")
    }
    if o.RateLimit < 0 {
        return errors.New("scheduler: negative RateLimit")
    }
    if o.Retry.BaseDelay < 0 || o.Retry.MaxDelay < 0 {
        return errors.New("scheduler: negative retry delay")
    }
    return nil
}

func (o Options) withDefaults() Options {
    if o.HTTPClient == nil { o.HTTPClient = &http.Client{Timeout: 30 * time.Second} }
    o.Logger = logutil.OrNop(o.Logger)
    if o.Retry.MaxRetries == 0 { o.Retry.MaxRetries = DefaultMaxRetries }
    if o.Retry.MaxRetries < 0 { o.Retry.MaxRetries = 0 }
    if o.Retry.BaseDelay == 0 { o.Retry.BaseDelay = DefaultBaseDelay }
    if o.Retry.MaxDelay == 0 { o.Retry.MaxDelay = DefaultMaxDelay }
    if o.Retry.MaxDelay < o.Retry.BaseDelay { o.Retry.MaxDelay = o.Retry.BaseDelay }
    if o.Breaker.ConsecutiveFailures == 0 { o.Breaker.ConsecutiveFailures = DefaultBreakerTrip }
    if o.Breaker.OpenTimeout <= 0 { o.Breaker.OpenTimeout = DefaultBreakerTimeout }
    if o.CoalesceWindow == 0 { o.CoalesceWindow = DefaultCoalesceWindow }
    if o.PageSize == 0 { o.PageSize = DefaultPageSize }
    if o.RateLimit > 0 && o.RateBurst <= 0 { o.RateBurst = int(o.RateLimit) + 1 }
    return o
}
