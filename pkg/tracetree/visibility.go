// Visibility post-pass over a flattened timeline
// Controls inclusion only; structure and depth are never touched
package tracetree

import (
	"fmt"
	"strings"
	"time"

	"github.com/andrewh/a2atrace/pkg/span"
	"golang.org/x/text/cases"
)

// DurationBucket classifies span durations for filtering.
type DurationBucket string

const (
	BucketAny    DurationBucket = ""
	BucketFast   DurationBucket = "fast"   // under 100ms
	BucketMedium DurationBucket = "medium" // 100ms up to 1s
	BucketSlow   DurationBucket = "slow"   // 1s and over
)

// BucketFor returns the bucket d falls into.
func BucketFor(d time.Duration) DurationBucket {
	switch {
	case d < 100*time.Millisecond:
		return BucketFast
	case d < time.Second:
		return BucketMedium
	default:
		return BucketSlow
	}
}

// ParseDurationBucket accepts "", "all", "fast", "medium" or "slow".
func ParseDurationBucket(s string) (DurationBucket, error) {
	switch b := DurationBucket(strings.ToLower(strings.TrimSpace(s))); b {
	case BucketAny, BucketFast, BucketMedium, BucketSlow:
		return b, nil
	case "all":
		return BucketAny, nil
	}
	return BucketAny, fmt.Errorf("unknown duration bucket %q, valid buckets: fast, medium, slow", s)
}

// Visibility filters rows of a flattened timeline. Zero fields match
// everything; set fields are AND-combined.
type Visibility struct {
	Search         string
	Status         span.StatusCode
	Service        string
	Duration       DurationBucket
	ErrorsOnly     bool
	CorrelatedOnly bool
}

// IsZero reports whether v lets every node through.
func (v Visibility) IsZero() bool {
	return v == Visibility{}
}

// Apply returns the nodes that pass every set filter, preserving order.
func (v Visibility) Apply(nodes []*Node) []*Node {
	if v.IsZero() {
		return nodes
	}
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(v.Search))
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if v.match(n, needle, fold) {
			out = append(out, n)
		}
	}
	return out
}

// Match reports whether a single node passes.
func (v Visibility) Match(n *Node) bool {
	fold := cases.Fold()
	return v.match(n, fold.String(strings.TrimSpace(v.Search)), fold)
}

func (v Visibility) match(n *Node, needle string, fold cases.Caser) bool {
	s := n.Span
	// Service and operation are both substrings of the name.
	if needle != "" && !strings.Contains(fold.String(s.Name), needle) {
		return false
	}
	if v.Status != "" && statusOf(s) != v.Status {
		return false
	}
	if v.Service != "" && s.Service() != v.Service {
		return false
	}
	if v.Duration != BucketAny && BucketFor(s.Duration()) != v.Duration {
		return false
	}
	if v.ErrorsOnly && !s.IsError() {
		return false
	}
	if v.CorrelatedOnly && !n.Correlated {
		return false
	}
	return true
}

func statusOf(s span.Span) span.StatusCode {
	if s.StatusCode == "" {
		return span.StatusUnset
	}
	return s.StatusCode
}
