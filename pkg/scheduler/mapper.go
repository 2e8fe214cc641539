package scheduler

import (
    "fmt"

    "github.com/amirimatin/go-su/pkg/tags"
)

// MapEdge converts an SU edge into a ScheduledMessage carrying global. An
// edge without a message payload is a bare assignment of an existing
// transaction, referenced by its "Message" tag.
func MapEdge(e Edge, global *AoGlobal) (ScheduledMessage, error) {
    a := e.Node.Assignment
    if a == nil { return ScheduledMessage{}, fmt.Errorf("%w: edge %q has no assignment", ErrMalformed, e.Cursor) }
    at := tags.Parse(a.Tags)

    nonce, err := at.Int("Nonce")
    if err != nil { return ScheduledMessage{}, fmt.Errorf("%w: assignment %s: %v", ErrMalformed, a.ID, err) }
    ts, err := at.Int("Timestamp")
    if err != nil { return ScheduledMessage{}, fmt.Errorf("%w: assignment %s: %v", ErrMalformed, a.ID, err) }
    height, err := at.OptionalInt("Block-Height")
    if err != nil { return ScheduledMessage{}, fmt.Errorf("%w: assignment %s: %v", ErrMalformed, a.ID, err) }
    epoch, err := at.OptionalInt("Epoch")
    if err != nil { return ScheduledMessage{}, fmt.Errorf("%w: assignment %s: %v", ErrMalformed, a.ID, err) }

    msg := e.Node.Message
    isAssignment := msg == nil || msg.ID == ""

    out := Message{
        Epoch:       epoch,
        Nonce:       nonce,
        Timestamp:   ts,
        BlockHeight: height,
        HashChain:   at.Value("Hash-Chain"),
        Cron:        false,
    }
    label := "Scheduled"
    if isAssignment {
        label = "Assigned"
        out.ID = at.Value("Message")
        if out.ID == "" {
            return ScheduledMessage{}, fmt.Errorf("%w: assignment %s references no message", ErrMalformed, a.ID)
        }
    } else {
        mt := tags.Parse(msg.Tags)
        out.ID = msg.ID
        out.Signature = msg.Signature
        out.Data = msg.Data
        out.Owner = msg.Owner.Address
        out.Anchor = msg.Anchor
        out.From = msg.Owner.Address
        out.ForwardedBy = mt.Value("Forwarded-By")
        out.Tags = msg.Tags
        target := msg.Recipient
        if target == "" { target = msg.Target }
        if target == "" { target = mt.Value("Target") }
        out.Target = &target
    }

    return ScheduledMessage{
        Ordinate:     nonce,
        Name:         fmt.Sprintf("%s Message %s %d:%d", label, out.ID, ts, nonce),
        Exclude:      at.List("Exclude"),
        IsAssignment: isAssignment,
        AssignmentID: a.ID,
        Message:      out,
        Block:        Block{Height: height, Timestamp: ts},
        AoGlobal:     global,
    }, nil
}
