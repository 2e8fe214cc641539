package scheduler

import (
    "errors"
    "fmt"
)

var (
    ErrMalformed    = errors.New("scheduler: malformed SU response")
    ErrStreamClosed = errors.New("scheduler: stream closed")
    ErrOutOfOrder   = errors.New("scheduler: ordinate did not increase")
    ErrEmptyProcess = errors.New("scheduler: empty process id")
    ErrEmptyURL     = errors.New("scheduler: empty scheduler url")
)

// StatusError is a non-2xx SU response.
type StatusError struct {
    Code int
    Body string
}

func (e *StatusError) Error() string {
    if e.Body == "" { return fmt.Sprintf("status %d", e.Code) }
    return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// RequestError is what callers see once an SU operation gives up. It names
// the operation, scheduler and process and wraps the last failure.
type RequestError struct {
    Op        string
    SuURL     string
    ProcessID string
    Err       error
}

func (e *RequestError) Error() string {
    return fmt.Sprintf("scheduler: error encountered when %s from %s for process %s: %v", e.Op, e.SuURL, e.ProcessID, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }
