// Package transport holds the management API contract shared by the HTTP/JSON
// and gRPC implementations: one readState call over a choice of protocol.
package transport

import (
    "context"

    "github.com/amirimatin/go-su/pkg/state"
)

// StateServer serves readState for a state.Reader.
type StateServer interface {
    Start(ctx context.Context, reader state.Reader) error
    Addr() string
    Stop(ctx context.Context) error
}

// StateClient calls readState on a management server at addr (host:port).
type StateClient interface {
    ReadState(ctx context.Context, addr string, in state.Input) (*state.State, error)
}

// ErrorBody is the error payload of a failed readState call.
type ErrorBody struct {
    Error string `json:"error"`
    Code  string `json:"code"`
}

// Code is the stable name of a failure class on the wire.
func Code(c state.Class) string {
    switch c {
    case state.ClassInvalid:
        return "invalid_input"
    case state.ClassMismatch:
        return "hash_chain_mismatch"
    case state.ClassUpstream:
        return "scheduler_unavailable"
    default:
        return "internal"
    }
}

// RemoteError is a readState failure reported by the server.
type RemoteError struct {
    Code    string
    Message string
}

func (e *RemoteError) Error() string { return "transport: " + e.Code + ": " + e.Message }

// Retryable reports whether the server failed for a reason the caller did
// not cause.
func (e *RemoteError) Retryable() bool {
    return e.Code == "scheduler_unavailable" || e.Code == "internal" || e.Code == ""
}
