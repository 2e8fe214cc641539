package scheduler

import (
    "context"
    "fmt"

    "github.com/amirimatin/go-su/pkg/hashchain"
    obsmetrics "github.com/amirimatin/go-su/pkg/observability/metrics"
    "github.com/amirimatin/go-su/pkg/tags"
)

// LoadMessagesArgs select a range of a process's messages and the context
// attached to each of them.
type LoadMessagesArgs struct {
    SuURL        string
    ProcessID    string
    ProcessOwner string
    ProcessTags  []tags.Tag
    ModuleID     string
    ModuleOwner  string
    ModuleTags   []tags.Tag
    From         string
    To           string
    PageSize     int

    // PrevAssignment seeds hash-chain verification with the assignment that
    // precedes From. It may be nil.
    PrevAssignment *hashchain.Prev
}

// MessageStream yields mapped ScheduledMessages. Not safe for concurrent use.
type MessageStream struct {
    edges     *EdgeStream
    global    *AoGlobal
    processID string
    verify    bool
    prev      *hashchain.Prev
    last      int64
    seen      bool
    err       error
}

// LoadMessages opens a lazy stream of the messages of a process between
// args.From and args.To. Nothing is fetched until the first Next.
func (c *Client) LoadMessages(args LoadMessagesArgs) *MessageStream {
    global := &AoGlobal{
        Process: Entity{ID: args.ProcessID, Owner: args.ProcessOwner, Tags: args.ProcessTags},
        Module:  Entity{ID: args.ModuleID, Owner: args.ModuleOwner, Tags: args.ModuleTags},
    }
    edges := c.Edges(PageRequest{SuURL: args.SuURL, ProcessID: args.ProcessID, From: args.From, To: args.To, Limit: args.PageSize})
    return &MessageStream{
        edges:     edges,
        global:    global,
        processID: args.ProcessID,
        verify:    c.opts.VerifyHashChain,
        prev:      args.PrevAssignment,
    }
}

// Next returns the next message, io.EOF at the end of the range, or the error
// that terminated the stream.
func (s *MessageStream) Next(ctx context.Context) (ScheduledMessage, error) {
    if s.err != nil { return ScheduledMessage{}, s.err }
    e, err := s.edges.Next(ctx)
    if err != nil { return ScheduledMessage{}, err }
    m, err := MapEdge(e, s.global)
    if err != nil { return ScheduledMessage{}, s.fail(err) }
    if s.verify {
        if err := s.check(m); err != nil { return ScheduledMessage{}, s.fail(err) }
    }
    s.prev = &hashchain.Prev{ID: m.AssignmentID, HashChain: m.Message.HashChain}
    s.last, s.seen = m.Ordinate, true
    obsmetrics.MessagesStreamed.Inc()
    return m, nil
}

func (s *MessageStream) check(m ScheduledMessage) error {
    if s.seen && m.Ordinate <= s.last {
        return fmt.Errorf("%w: message %s has ordinate %d after %d", ErrOutOfOrder, m.Message.ID, m.Ordinate, s.last)
    }
    if hashchain.IsValid(s.prev, m.Message.HashChain) { return nil }
    obsmetrics.HashChainMismatches.Inc()
    me := &hashchain.MismatchError{MessageID: m.Message.ID, ProcessID: s.processID, Actual: m.Message.HashChain}
    if s.prev.Complete() {
        me.Expected, _ = hashchain.Compute(s.prev.ID, s.prev.HashChain)
    }
    return me
}

func (s *MessageStream) fail(err error) error {
    s.err = err
    s.edges.fail(err)
    return err
}

// Close stops the stream; no further pages are fetched.
func (s *MessageStream) Close() error { return s.edges.Close() }

// Count is the number of edges consumed so far.
func (s *MessageStream) Count() int { return s.edges.Count() }

// Prev is the assignment of the last message yielded, suitable for seeding a
// follow-up LoadMessages call.
func (s *MessageStream) Prev() *hashchain.Prev { return s.prev }

// Global is the context shared by every message of the stream.
func (s *MessageStream) Global() *AoGlobal { return s.global }
