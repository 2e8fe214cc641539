package grpc

import (
    "context"
    "sync"
    "time"

    "google.golang.org/grpc"

    obsmetrics "github.com/amirimatin/go-su/pkg/observability/metrics"
)

type dialFunc func(ctx context.Context, target string) (*grpc.ClientConn, error)

// connPool keeps one client connection per management address and closes
// those left idle for longer than ttl.
type connPool struct {
    mu      sync.Mutex
    conns   map[string]*pooledConn
    ttl     time.Duration
    dial    dialFunc
    closing chan struct{}
    once    sync.Once
}

type pooledConn struct {
    cc       *grpc.ClientConn
    lastUsed time.Time
    refs     int
}

func newConnPool(ttl time.Duration, dial dialFunc) *connPool {
    if ttl <= 0 { ttl = 30 * time.Second }
    p := &connPool{ttl: ttl, dial: dial, conns: make(map[string]*pooledConn), closing: make(chan struct{})}
    go p.evictLoop()
    return p
}

// Get returns a connection for target and a release func to call when done.
func (p *connPool) Get(ctx context.Context, target string) (*grpc.ClientConn, func(), error) {
    if cc := p.acquire(target); cc != nil {
        obsmetrics.GRPCConnReuse.Inc()
        return cc, func() { p.release(target) }, nil
    }

    cc, err := p.dial(ctx, target)
    if err != nil { return nil, func() {}, err }

    p.mu.Lock()
    defer p.mu.Unlock()
    if pc, ok := p.conns[target]; ok {
        // lost the race to a concurrent dial
        _ = cc.Close()
        pc.refs++
        pc.lastUsed = time.Now()
        obsmetrics.GRPCConnReuse.Inc()
        return pc.cc, func() { p.release(target) }, nil
    }
    p.conns[target] = &pooledConn{cc: cc, lastUsed: time.Now(), refs: 1}
    obsmetrics.GRPCConnDials.Inc()
    obsmetrics.GRPCConnActive.Inc()
    return cc, func() { p.release(target) }, nil
}

func (p *connPool) acquire(target string) *grpc.ClientConn {
    p.mu.Lock()
    defer p.mu.Unlock()
    pc, ok := p.conns[target]
    if !ok { return nil }
    pc.refs++
    pc.lastUsed = time.Now()
    return pc.cc
}

func (p *connPool) release(target string) {
    p.mu.Lock()
    defer p.mu.Unlock()
    if pc, ok := p.conns[target]; ok {
        if pc.refs > 0 { pc.refs-- }
        pc.lastUsed = time.Now()
    }
}

// Close closes all pooled connections and stops eviction.
func (p *connPool) Close() {
    p.once.Do(func() { close(p.closing) })
    p.mu.Lock()
    defer p.mu.Unlock()
    for target, pc := range p.conns {
        _ = pc.cc.Close()
        obsmetrics.GRPCConnActive.Dec()
        delete(p.conns, target)
    }
}

// Len is the number of pooled connections.
func (p *connPool) Len() int {
    p.mu.Lock()
    defer p.mu.Unlock()
    return len(p.conns)
}

func (p *connPool) evictLoop() {
    ticker := time.NewTicker(p.ttl / 2)
    defer ticker.Stop()
    for {
        select {
        case <-p.closing:
            return
        case now := <-ticker.C:
            p.evictIdle(now.Add(-p.ttl))
        }
    }
}

func (p *connPool) evictIdle(cutoff time.Time) int {
    p.mu.Lock()
    defer p.mu.Unlock()
    n := 0
    for target, pc := range p.conns {
        if pc.refs == 0 && pc.lastUsed.Before(cutoff) {
            _ = pc.cc.Close()
            obsmetrics.GRPCConnEvictions.Inc()
            obsmetrics.GRPCConnActive.Dec()
            delete(p.conns, target)
            n++
        }
    }
    return n
}
