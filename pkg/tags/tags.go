// Package tags normalizes SU name/value tag lists and coerces the numeric
// fields carried in them.
package tags

import (
    "bytes"
    "fmt"
    "strconv"
    "strings"
)

// Tag is a single name/value pair as delivered by the SU.
type Tag struct {
    Name  string `json:"name"`
    Value string `json:"value"`
}

// Map groups tag values by name. Duplicate names keep every value in arrival
// order, so a key maps to either one value or an array of values.
type Map map[string][]string

// Parse folds a tag list into a Map.
func Parse(list []Tag) Map {
    m := make(Map, len(list))
    for _, t := range list {
        m[t.Name] = append(m[t.Name], t.Value)
    }
    return m
}

// Get returns the first value for name.
func (m Map) Get(name string) (string, bool) {
    v, ok := m[name]
    if !ok || len(v) == 0 { return "", false }
    return v[0], true
}

// Value returns the first value for name or "".
func (m Map) Value(name string) string {
    v, _ := m.Get(name)
    return v
}

// Values returns all values for name.
func (m Map) Values(name string) []string { return m[name] }

// Has reports whether name appeared at least once.
func (m Map) Has(name string) bool { _, ok := m[name]; return ok }

// Int returns the first value for name parsed as a base-10 integer.
func (m Map) Int(name string) (int64, error) {
    v, ok := m.Get(name)
    if !ok { return 0, fmt.Errorf("tags: missing %q", name) }
    n, err := ParseInt(v)
    if err != nil { return 0, fmt.Errorf("tags: %q: %w", name, err) }
    return n, nil
}

// OptionalInt is Int for a tag that may be absent: absence yields 0, a
// present value must parse.
func (m Map) OptionalInt(name string) (int64, error) {
    if !m.Has(name) { return 0, nil }
    return m.Int(name)
}

// IntOr is Int with a fallback for absent or unparsable values.
func (m Map) IntOr(name string, def int64) int64 {
    n, err := m.Int(name)
    if err != nil { return def }
    return n
}

// List splits a comma-separated tag value, dropping empty parts. It returns
// nil when the tag is absent.
func (m Map) List(name string) []string {
    v, ok := m.Get(name)
    if !ok { return nil }
    var out []string
    for _, p := range strings.Split(v, ",") {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}

// ParseInt parses a decimal string, accepting leading zeros ("000001331218").
func ParseInt(s string) (int64, error) {
    s = strings.TrimSpace(s)
    if s == "" { return 0, fmt.Errorf("tags: empty integer") }
    return strconv.ParseInt(s, 10, 64)
}

// Int is an integer that decodes from either a JSON number or a JSON string,
// the SU emits both for heights, timestamps and nonces.
type Int int64

func (n *Int) UnmarshalJSON(b []byte) error {
    b = bytes.TrimSpace(b)
    if len(b) == 0 || bytes.Equal(b, []byte("null")) { *n = 0; return nil }
    if b[0] == '"' {
        s, err := strconv.Unquote(string(b))
        if err != nil { return err }
        if strings.TrimSpace(s) == "" { *n = 0; return nil }
        v, err := ParseInt(s)
        if err != nil { return err }
        *n = Int(v)
        return nil
    }
    v, err := strconv.ParseInt(string(b), 10, 64)
    if err != nil {
        // tolerate float encodings of whole numbers
        f, ferr := strconv.ParseFloat(string(b), 64)
        if ferr != nil { return err }
        v = int64(f)
    }
    *n = Int(v)
    return nil
}

func (n Int) MarshalJSON() ([]byte, error) { return []byte(strconv.FormatInt(int64(n), 10)), nil }
