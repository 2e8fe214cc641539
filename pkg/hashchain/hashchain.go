// Package hashchain checks the linkage value the SU attaches to every
// assignment: each chain value is the SHA-256 of the previous assignment id
// followed by the previous chain value, base64url encoded.
package hashchain

import (
    "crypto/sha256"
    "encoding/base64"
    "fmt"
    "net/http"
    "strings"
)

// Prev identifies the previous assignment in a process sequence.
type Prev struct {
    ID        string `json:"id"`
    HashChain string `json:"hashChain"`
}

// Complete reports whether both fields needed for verification are present.
func (p *Prev) Complete() bool { return p != nil && p.ID != "" && p.HashChain != "" }

// Compute returns base64url(sha256(decode(prevID) || decode(prevHashChain))).
// An empty prevID is the start of a chain and contributes no bytes.
func Compute(prevID, prevHashChain string) (string, error) {
    h := sha256.New()
    if prevID != "" {
        id, err := decode(prevID)
        if err != nil { return "", fmt.Errorf("hashchain: decode previous id: %w", err) }
        h.Write(id)
    }
    chain, err := decode(prevHashChain)
    if err != nil { return "", fmt.Errorf("hashchain: decode previous hash chain: %w", err) }
    h.Write(chain)
    return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// IsValid reports whether actual is the expected successor of prev. When prev
// is absent or incomplete (first message, or an SU without chain support) it
// only requires actual to be present.
func IsValid(prev *Prev, actual string) bool {
    if !prev.Complete() { return actual != "" }
    expected, err := Compute(prev.ID, prev.HashChain)
    if err != nil { return false }
    return expected == actual
}

func decode(s string) ([]byte, error) {
    return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// MismatchError is returned when a message's chain value does not follow from
// its predecessor.
type MismatchError struct {
    MessageID string
    ProcessID string
    Expected  string
    Actual    string
}

func (e *MismatchError) Error() string {
    return fmt.Sprintf("hashchain: invalid hash chain on message %s for process %s", e.MessageID, e.ProcessID)
}

// Status classifies the mismatch as a client error for HTTP callers.
func (e *MismatchError) Status() int { return http.StatusUnprocessableEntity }
