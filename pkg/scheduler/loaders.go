package scheduler

import (
    "context"
    "fmt"
    "net/url"
    "strings"

    "github.com/amirimatin/go-su/pkg/observability/tracing"
    "github.com/amirimatin/go-su/pkg/tags"
)

type processResponse struct {
    Owner Owner      `json:"owner"`
    Tags  []tags.Tag `json:"tags"`
    Block struct {
        Height    tags.Int `json:"height"`
        Timestamp tags.Int `json:"timestamp"`
    } `json:"block"`
    Timestamp tags.Int `json:"timestamp"`
    Signature string   `json:"signature"`
    Data      string   `json:"data"`
    Anchor    string   `json:"anchor"`
}

// LoadProcess fetches the process record. Nonce is always 0: the process
// message is the first in its own sequence.
func (c *Client) LoadProcess(ctx context.Context, suURL, processID string) (*ProcessMeta, error) {
    if err := checkTarget(suURL, processID); err != nil { return nil, err }
    ctx, end := tracing.StartSpan(ctx, "su.load_process", tracing.SU(suURL), tracing.Process(processID))
    var res processResponse
    err := c.getJSON(ctx, "loading process", suURL, processID, endpoint(suURL, nil, "processes", processID), &res)
    end(err)
    if err != nil { return nil, err }
    return &ProcessMeta{
        Owner:     res.Owner,
        Tags:      res.Tags,
        Block:     Block{Height: int64(res.Block.Height), Timestamp: int64(res.Block.Timestamp)},
        ProcessID: processID,
        Timestamp: int64(res.Timestamp),
        Nonce:     0,
        Signature: res.Signature,
        Data:      res.Data,
        Anchor:    res.Anchor,
    }, nil
}

// LoadTimestamp fetches the SU's current clock for a process.
func (c *Client) LoadTimestamp(ctx context.Context, suURL, processID string) (*Timestamp, error) {
    if err := checkTarget(suURL, processID); err != nil { return nil, err }
    ctx, end := tracing.StartSpan(ctx, "su.load_timestamp", tracing.SU(suURL), tracing.Process(processID))
    var res struct {
        Timestamp   tags.Int `json:"timestamp"`
        BlockHeight tags.Int `json:"block_height"`
    }
    q := url.Values{"process-id": {processID}}
    err := c.getJSON(ctx, "loading current timestamp", suURL, processID, endpoint(suURL, q, "timestamp"), &res)
    end(err)
    if err != nil { return nil, err }
    return &Timestamp{Timestamp: int64(res.Timestamp), Height: int64(res.BlockHeight)}, nil
}

// metaResponse covers both shapes of GET /{messageTxId}: the current one
// wraps an assignment, the legacy one is flat.
type metaResponse struct {
    Assignment *Assignment `json:"assignment"`

    ProcessID string   `json:"process_id"`
    Timestamp tags.Int `json:"timestamp"`
    Nonce     tags.Int `json:"nonce"`
}

// LoadMessageMeta locates messageTxID within processID's sequence.
func (c *Client) LoadMessageMeta(ctx context.Context, suURL, processID, messageTxID string) (*MessageMeta, error) {
    if err := checkTarget(suURL, processID); err != nil { return nil, err }
    if strings.TrimSpace(messageTxID) == "" { return nil, fmt.Errorf("scheduler: empty message id") }
    ctx, end := tracing.StartSpan(ctx, "su.load_message_meta", tracing.SU(suURL), tracing.Process(processID))
    var res metaResponse
    q := url.Values{"process-id": {processID}}
    err := c.getJSON(ctx, "loading message meta", suURL, processID, endpoint(suURL, q, messageTxID), &res)
    end(err)
    if err != nil { return nil, err }
    if res.Assignment != nil { return metaFromAssignment(res.Assignment) }
    return metaFromLegacy(res), nil
}

func metaFromAssignment(a *Assignment) (*MessageMeta, error) {
    at := tags.Parse(a.Tags)
    ts, err := at.Int("Timestamp")
    if err != nil { return nil, fmt.Errorf("%w: assignment %s: %v", ErrMalformed, a.ID, err) }
    nonce, err := at.Int("Nonce")
    if err != nil { return nil, fmt.Errorf("%w: assignment %s: %v", ErrMalformed, a.ID, err) }
    return &MessageMeta{ProcessID: at.Value("Process"), Timestamp: ts, Nonce: nonce}, nil
}

func metaFromLegacy(res metaResponse) *MessageMeta {
    return &MessageMeta{ProcessID: res.ProcessID, Timestamp: int64(res.Timestamp), Nonce: int64(res.Nonce)}
}
