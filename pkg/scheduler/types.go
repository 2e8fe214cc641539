package scheduler

import (
    "github.com/amirimatin/go-su/pkg/tags"
)

// Owner is the SU encoding of a signer.
type Owner struct {
    Address string `json:"address"`
    Key     string `json:"key,omitempty"`
}

// Assignment is the SU record that places a message in a process sequence.
type Assignment struct {
    ID        string     `json:"id"`
    Owner     Owner      `json:"owner"`
    Tags      []tags.Tag `json:"tags"`
    Signature string     `json:"signature,omitempty"`
    Anchor    string     `json:"anchor,omitempty"`
}

// RawMessage is the message payload of an edge. It is nil (or has an empty
// ID) when the assignment references an existing on-chain transaction.
type RawMessage struct {
    ID        string     `json:"id"`
    Owner     Owner      `json:"owner"`
    Data      string     `json:"data,omitempty"`
    Tags      []tags.Tag `json:"tags"`
    Signature string     `json:"signature,omitempty"`
    Anchor    string     `json:"anchor,omitempty"`
    Recipient string     `json:"recipient,omitempty"`
    Target    string     `json:"target,omitempty"`
}

type Node struct {
    Assignment *Assignment `json:"assignment"`
    Message    *RawMessage `json:"message,omitempty"`
}

// Edge is one entry of a page together with its pagination cursor.
type Edge struct {
    Node   Node   `json:"node"`
    Cursor string `json:"cursor"`
}

type PageInfo struct {
    HasNextPage bool `json:"has_next_page"`
}

// Page is the SU pagination envelope. Pages returned by FetchPage may be shared
// between coalesced callers and must be treated as read-only.
type Page struct {
    PageInfo PageInfo `json:"page_info"`
    Edges    []Edge   `json:"edges"`
}

type Block struct {
    Height    int64 `json:"height"`
    Timestamp int64 `json:"timestamp"`
}

// Message is the normalized message carried by a ScheduledMessage.
type Message struct {
    ID          string     `json:"Id"`
    Signature   string     `json:"Signature,omitempty"`
    Data        string     `json:"Data,omitempty"`
    Owner       string     `json:"Owner,omitempty"`
    Anchor      string     `json:"Anchor,omitempty"`
    From        string     `json:"From,omitempty"`
    ForwardedBy string     `json:"Forwarded-By,omitempty"`
    Tags        []tags.Tag `json:"Tags"`
    // Target stays nil for a bare assignment that has not been hydrated.
    Target      *string    `json:"Target,omitempty"`
    Epoch       int64      `json:"Epoch"`
    Nonce       int64      `json:"Nonce"`
    Timestamp   int64      `json:"Timestamp"`
    BlockHeight int64      `json:"Block-Height"`
    HashChain   string     `json:"Hash-Chain,omitempty"`
    Cron        bool       `json:"Cron"`
}

// Entity is the id/owner/tags triple published in AoGlobal.
type Entity struct {
    ID    string     `json:"Id"`
    Owner string     `json:"Owner"`
    Tags  []tags.Tag `json:"Tags"`
}

// AoGlobal is the process/module context attached to every message of one
// LoadMessages call. It is shared by pointer and never mutated.
type AoGlobal struct {
    Process Entity `json:"Process"`
    Module  Entity `json:"Module"`
}

// ScheduledMessage is a mapped edge ready for evaluation.
type ScheduledMessage struct {
    // Cron is always empty: scheduled messages never carry a cron interval.
    Cron         string    `json:"cron,omitempty"`
    Ordinate     int64     `json:"ordinate"`
    Name         string    `json:"name"`
    Exclude      []string  `json:"exclude,omitempty"`
    IsAssignment bool      `json:"isAssignment"`
    AssignmentID string    `json:"assignmentId"`
    Message      Message   `json:"message"`
    Block        Block     `json:"block"`
    AoGlobal     *AoGlobal `json:"AoGlobal,omitempty"`
}

// ProcessMeta is the process record served by GET /processes/{id}.
type ProcessMeta struct {
    Owner     Owner      `json:"owner"`
    Tags      []tags.Tag `json:"tags"`
    Block     Block      `json:"block"`
    ProcessID string     `json:"processId"`
    Timestamp int64      `json:"timestamp"`
    Nonce     int64      `json:"nonce"`
    Signature string     `json:"signature,omitempty"`
    Data      string     `json:"data,omitempty"`
    Anchor    string     `json:"anchor,omitempty"`
}

// Timestamp is the SU logical clock for a process.
type Timestamp struct {
    Timestamp int64 `json:"timestamp"`
    Height    int64 `json:"height"`
}

// MessageMeta locates a single message in a process sequence.
type MessageMeta struct {
    ProcessID string `json:"processId"`
    Timestamp int64  `json:"timestamp"`
    Nonce     int64  `json:"nonce"`
}
