package position

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// MetricQuery identifies one logical aggregation request. Two queries are
// cache-equivalent iff their canonical forms are byte-identical.
type MetricQuery struct {
	SubjectID  string
	WindowDays int
	AsOf       time.Time
	Context    map[string]string
}

func canonicalSubject(subjectID string) string {
	return strings.ToLower(strings.TrimSpace(subjectID))
}

// escapeSegment makes a caller-supplied value safe to join with the `|` and
// `=` separators. Without it, a context value containing a separator would
// canonicalize identically to a different query and collide keys.
func escapeSegment(value string) string {
	return url.QueryEscape(value)
}

// Canonical renders the query in its canonical byte form: string fields
// trimmed and lower-cased, context entries sorted by key, the as-of timestamp
// reduced to its UTC date. Caller-supplied segments are escaped so the
// rendering is injective over logical queries.
func (q MetricQuery) Canonical() string {
	var b strings.Builder
	b.WriteString("subject=")
	b.WriteString(escapeSegment(canonicalSubject(q.SubjectID)))
	fmt.Fprintf(&b, "|window=%d", q.WindowDays)
	b.WriteString("|day=")
	b.WriteString(q.day())

	keys := make([]string, 0, len(q.Context))
	for k := range q.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("|ctx.")
		b.WriteString(escapeSegment(strings.ToLower(strings.TrimSpace(k))))
		b.WriteString("=")
		b.WriteString(escapeSegment(strings.ToLower(strings.TrimSpace(q.Context[k]))))
	}
	return b.String()
}

// CacheKey derives the deterministic cache key for the query. The subject,
// window, and day segments stay in clear text so whole key families can be
// targeted with substring invalidation; the digest disambiguates everything
// else.
func (q MetricQuery) CacheKey() string {
	sum := sha256.Sum256([]byte(q.Canonical()))
	return q.KeyFamily() + ":" + hex.EncodeToString(sum[:])
}

// KeyFamily is the clear-text key prefix shared by all context variants of
// the same subject, window, and day.
func (q MetricQuery) KeyFamily() string {
	return fmt.Sprintf("position:v1:%s:window=%d:day=%s", escapeSegment(canonicalSubject(q.SubjectID)), q.WindowDays, q.day())
}

func (q MetricQuery) day() string {
	ts := q.AsOf
	if ts.IsZero() {
		return "0001-01-01"
	}
	return ts.UTC().Format("2006-01-02")
}
