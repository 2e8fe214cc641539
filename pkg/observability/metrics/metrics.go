package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "client",
        Name:      "requests_total",
        Help:      "Total SU HTTP attempts by operation and result",
    }, []string{"op", "result"})

    RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "go_su",
        Subsystem: "client",
        Name:      "request_duration_seconds",
        Help:      "Latency of SU HTTP attempts",
        Buckets:   prometheus.DefBuckets,
    }, []string{"op"})

    Retries = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "client",
        Name:      "retries_total",
        Help:      "Total SU request retries after a transient failure",
    }, []string{"op"})

    Coalesced = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "client",
        Name:      "coalesced_total",
        Help:      "Total page requests served by an in-flight identical request",
    })

    BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_su",
        Subsystem: "client",
        Name:      "breaker_open",
        Help:      "1 if the circuit breaker of an SU host is open, else 0",
    }, []string{"su"})

    PagesLoaded = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "stream",
        Name:      "pages_total",
        Help:      "Total pages fetched by message streams",
    })

    MessagesStreamed = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "stream",
        Name:      "messages_total",
        Help:      "Total scheduled messages yielded to consumers",
    })

    HashChainMismatches = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "stream",
        Name:      "hashchain_mismatch_total",
        Help:      "Total messages rejected for an invalid hash chain",
    })

    StateReads = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "state",
        Name:      "reads_total",
        Help:      "Total readState calls served by the management API",
    }, []string{"proto", "result"})

    StateReadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "go_su",
        Subsystem: "state",
        Name:      "read_duration_seconds",
        Help:      "Latency of readState calls served by the management API",
        Buckets:   prometheus.DefBuckets,
    }, []string{"proto"})

    // management gRPC client connection pool
    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "grpc",
        Name:      "conn_dials_total",
        Help:      "Total gRPC client connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "grpc",
        Name:      "conn_reuse_total",
        Help:      "Total gRPC calls served by a pooled connection",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_su",
        Subsystem: "grpc",
        Name:      "conn_active",
        Help:      "Pooled gRPC client connections",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_su",
        Subsystem: "grpc",
        Name:      "conn_evictions_total",
        Help:      "Total idle gRPC client connections closed",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(Requests)
        prometheus.MustRegister(RequestDuration)
        prometheus.MustRegister(Retries)
        prometheus.MustRegister(Coalesced)
        prometheus.MustRegister(BreakerState)
        prometheus.MustRegister(PagesLoaded)
        prometheus.MustRegister(MessagesStreamed)
        prometheus.MustRegister(HashChainMismatches)
        prometheus.MustRegister(StateReads)
        prometheus.MustRegister(StateReadDuration)
        prometheus.MustRegister(GRPCConnDials, GRPCConnReuse, GRPCConnActive, GRPCConnEvictions)
    })
}
