// Package tlsconfig builds tls.Configs for the SU HTTP client and the
// management servers and clients from file paths.
package tlsconfig

import (
    "crypto/tls"
    "crypto/x509"
    "errors"
    "fmt"
    "os"
    "sync"
    "time"
)

// reloadTTL bounds how long a loaded certificate is reused before the files
// are read again.
const reloadTTL = 10 * time.Second

// Options defines (m)TLS configuration inputs.
type Options struct {
    Enable             bool   `yaml:"enable" json:"enable"`
    CAFile             string `yaml:"caFile" json:"caFile"`
    CertFile           string `yaml:"certFile" json:"certFile"`
    KeyFile            string `yaml:"keyFile" json:"keyFile"`
    InsecureSkipVerify bool   `yaml:"insecureSkipVerify" json:"insecureSkipVerify"`
    ServerName         string `yaml:"serverName" json:"serverName"`
}

// Server returns a tls.Config for servers if enabled, otherwise nil. A CA
// file turns on client certificate verification.
func (o Options) Server() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
    if err != nil { return nil, err }
    cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
    if err := o.requireClientCerts(cfg); err != nil { return nil, err }
    return cfg, nil
}

// Client returns a tls.Config for clients if enabled, otherwise nil.
func (o Options) Client() (*tls.Config, error) {
    cfg, err := o.clientBase()
    if err != nil || cfg == nil { return nil, err }
    if o.CertFile != "" && o.KeyFile != "" {
        cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
        if err != nil { return nil, err }
        cfg.Certificates = []tls.Certificate{cert}
    }
    return cfg, nil
}

// ServerHotReload is Server, except the certificate is re-read from disk
// (at most every reloadTTL, on handshake) so files can be rotated in place.
func (o Options) ServerHotReload() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    if o.CertFile == "" || o.KeyFile == "" {
        return nil, errors.New("tls: server cert/key required when TLS enabled")
    }
    cfg := &tls.Config{MinVersion: tls.VersionTLS12}
    if err := o.requireClientCerts(cfg); err != nil { return nil, err }
    r := &reloader{certFile: o.CertFile, keyFile: o.KeyFile}
    if _, err := r.get(); err != nil { return nil, err }
    cfg.GetCertificate = func(*tls.ClientHelloInfo) (*tls.Certificate, error) { return r.get() }
    return cfg, nil
}

// ClientHotReload is Client with on-demand reloading of the client
// certificate.
func (o Options) ClientHotReload() (*tls.Config, error) {
    cfg, err := o.clientBase()
    if err != nil || cfg == nil { return nil, err }
    if o.CertFile != "" && o.KeyFile != "" {
        r := &reloader{certFile: o.CertFile, keyFile: o.KeyFile}
        cfg.GetClientCertificate = func(*tls.CertificateRequestInfo) (*tls.Certificate, error) { return r.get() }
    }
    return cfg, nil
}

func (o Options) clientBase() (*tls.Config, error) {
    if !o.Enable { return nil, nil }
    cfg := &tls.Config{InsecureSkipVerify: o.InsecureSkipVerify, MinVersion: tls.VersionTLS12} //nolint:gosec
    if o.ServerName != "" { cfg.ServerName = o.ServerName }
    if o.CAFile != "" {
        pool, err := loadPool(o.CAFile)
        if err != nil { return nil, err }
        cfg.RootCAs = pool
    }
    return cfg, nil
}

func (o Options) requireClientCerts(cfg *tls.Config) error {
    if o.CAFile == "" { return nil }
    pool, err := loadPool(o.CAFile)
    if err != nil { return err }
    cfg.ClientCAs = pool
    cfg.ClientAuth = tls.RequireAndVerifyClientCert
    return nil
}

func loadPool(path string) (*x509.CertPool, error) {
    ca, err := os.ReadFile(path)
    if err != nil { return nil, err }
    pool := x509.NewCertPool()
    if !pool.AppendCertsFromPEM(ca) { return nil, fmt.Errorf("tls: no certificates in %s", path) }
    return pool, nil
}

type reloader struct {
    certFile, keyFile string

    mu       sync.RWMutex
    cached   *tls.Certificate
    lastLoad time.Time
}

func (r *reloader) get() (*tls.Certificate, error) {
    r.mu.RLock()
    if r.cached != nil && time.Since(r.lastLoad) < reloadTTL {
        c := r.cached
        r.mu.RUnlock()
        return c, nil
    }
    r.mu.RUnlock()
    cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
    if err != nil { return nil, err }
    r.mu.Lock()
    r.cached, r.lastLoad = &cert, time.Now()
    r.mu.Unlock()
    return &cert, nil
}
