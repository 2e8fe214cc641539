// Package state defines the read-state contract served by the management
// transports, and a default Reader that summarizes a process from its SU.
package state

import (
    "context"
    "errors"
    "fmt"
    "io"
    "strings"

    "golang.org/x/sync/errgroup"

    "github.com/amirimatin/go-su/pkg/hashchain"
    "github.com/amirimatin/go-su/pkg/internal/logutil"
    "github.com/amirimatin/go-su/pkg/observability/tracing"
    "github.com/amirimatin/go-su/pkg/scheduler"
)

var ErrInvalidInput = errors.New("state: invalid input")

// Input selects a process and, optionally, the cursor to read up to.
type Input struct {
    ProcessID string `json:"processId"`
    To        string `json:"to,omitempty"`
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Validate checks that ProcessID is non-empty base64url and To, when set, is
// all digits.
func (in Input) Validate() error {
    if in.ProcessID == "" { return fmt.Errorf("%w: processId is required", ErrInvalidInput) }
    for _, r := range in.ProcessID {
        if !strings.ContainsRune(idAlphabet, r) {
            return fmt.Errorf("%w: processId %q is not base64url", ErrInvalidInput, in.ProcessID)
        }
    }
    for _, r := range in.To {
        if r < '0' || r > '9' { return fmt.Errorf("%w: to %q must be numeric", ErrInvalidInput, in.To) }
    }
    return nil
}

// State summarizes a process as seen by its SU.
type State struct {
    ProcessID string `json:"processId"`
    Owner     string `json:"owner"`
    Module    string `json:"module,omitempty"`
    To        string `json:"to,omitempty"`

    Messages         int    `json:"messages"`
    Assignments      int    `json:"assignments"`
    LastOrdinate     int64  `json:"lastOrdinate"`
    LastAssignmentID string `json:"lastAssignmentId,omitempty"`
    HashChain        string `json:"hashChain,omitempty"`
    LastTimestamp    int64  `json:"lastTimestamp,omitempty"`

    // SU clock at read time.
    Timestamp   int64 `json:"timestamp"`
    BlockHeight int64 `json:"blockHeight"`
}

// Reader is implemented by anything that can produce a process State.
type Reader interface {
    ReadState(ctx context.Context, in Input) (*State, error)
}

// Source is the subset of *scheduler.Client the Summarizer needs.
type Source interface {
    LoadProcess(ctx context.Context, suURL, processID string) (*scheduler.ProcessMeta, error)
    LoadTimestamp(ctx context.Context, suURL, processID string) (*scheduler.Timestamp, error)
    LoadMessages(args scheduler.LoadMessagesArgs) *scheduler.MessageStream
}

// Summarizer is the default Reader. It does not evaluate messages; it walks
// the sequence and reports where it ends.
type Summarizer struct {
    src      Source
    suURL    string
    pageSize int
    log      logutil.Logger
}

// NewSummarizer reads processes from suURL through src.
func NewSummarizer(src Source, suURL string, pageSize int, log logutil.Logger) *Summarizer {
    return &Summarizer{src: src, suURL: suURL, pageSize: pageSize, log: logutil.OrNop(log).Named("state")}
}

func (s *Summarizer) ReadState(ctx context.Context, in Input) (st *State, err error) {
    if err := in.Validate(); err != nil { return nil, err }
    ctx, end := tracing.StartSpan(ctx, "state.read", tracing.Process(in.ProcessID), tracing.SU(s.suURL))
    defer func() { end(err) }()

    var (
        meta  *scheduler.ProcessMeta
        clock *scheduler.Timestamp
    )
    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        var err error
        meta, err = s.src.LoadProcess(gctx, s.suURL, in.ProcessID)
        return err
    })
    g.Go(func() error {
        var err error
        clock, err = s.src.LoadTimestamp(gctx, s.suURL, in.ProcessID)
        return err
    })
    if err := g.Wait(); err != nil { return nil, err }

    st = &State{
        ProcessID:   in.ProcessID,
        Owner:       meta.Owner.Address,
        To:          in.To,
        Timestamp:   clock.Timestamp,
        BlockHeight: clock.Height,
    }
    for _, t := range meta.Tags {
        if t.Name == "Module" { st.Module = t.Value; break }
    }

    stream := s.src.LoadMessages(scheduler.LoadMessagesArgs{
        SuURL:        s.suURL,
        ProcessID:    in.ProcessID,
        ProcessOwner: meta.Owner.Address,
        ProcessTags:  meta.Tags,
        ModuleID:     st.Module,
        To:           in.To,
        PageSize:     s.pageSize,
    })
    defer stream.Close()
    for {
        m, err := stream.Next(ctx)
        if errors.Is(err, io.EOF) { break }
        if err != nil { return nil, err }
        st.Messages++
        if m.IsAssignment { st.Assignments++ }
        st.LastOrdinate = m.Ordinate
        st.LastAssignmentID = m.AssignmentID
        st.HashChain = m.Message.HashChain
        st.LastTimestamp = m.Message.Timestamp
    }
    s.log.Debugf("read state of process %s: %d messages, last ordinate %d", in.ProcessID, st.Messages, st.LastOrdinate)
    return st, nil
}

// Class groups ReadState failures for the transports.
type Class int

const (
    ClassInternal Class = iota
    ClassInvalid
    ClassMismatch
    ClassUpstream
)

// Classify maps err to the Class a transport reports it as.
func Classify(err error) Class {
    var me *hashchain.MismatchError
    var re *scheduler.RequestError
    switch {
    case errors.Is(err, ErrInvalidInput):
        return ClassInvalid
    case errors.As(err, &me):
        return ClassMismatch
    case errors.As(err, &re):
        return ClassUpstream
    default:
        return ClassInternal
    }
}

var _ Reader = (*Summarizer)(nil)
var _ Source = (*scheduler.Client)(nil)
