// Package filters implements the tag filter algebra used for retrieval
// and cascade deletion.
//
// A single Filter is a conjunction: every (key, value) pair it holds must
// be present on a record's tags. A slice of filters is evaluated as a
// disjunction (OR of ANDs). Two degenerate forms are meaningful:
// an empty filter matches every record, and an empty filter slice means
// "no filter" and also matches everything.
//
// Design: Evaluation is set-semantic. Record order and tag value order are
// irrelevant; unknown tag keys never match.
package filters

import "github.com/jpl-au/memd/internal/tags"

// Pair is one required (key, value) condition inside a conjunction.
type Pair struct {
	Key   string
	Value string
}

// Filter is a conjunction of tag conditions. Build with New, ByTag or
// ByDocument and chain ByTag calls to add AND clauses.
type Filter struct {
	pairs []Pair
}

// New returns an empty filter, which matches every record.
func New() *Filter {
	return &Filter{}
}

// ByTag returns a filter requiring value under key.
func ByTag(key, value string) *Filter {
	return New().ByTag(key, value)
}

// ByDocument returns a filter matching records of a single document.
// Sugar for ByTag on the reserved document id tag; this is the filter
// cascade deletion uses.
func ByDocument(documentID string) *Filter {
	return ByTag(tags.KeyDocumentID, documentID)
}

// ByTag adds an AND clause and returns the filter for chaining.
func (f *Filter) ByTag(key, value string) *Filter {
	f.pairs = append(f.pairs, Pair{Key: key, Value: value})
	return f
}

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.pairs) == 0
}

// Pairs returns the conjunction's conditions in insertion order.
func (f *Filter) Pairs() []Pair {
	if f == nil {
		return nil
	}
	return f.pairs
}

// Matches reports whether a record's tags satisfy this conjunction.
func (f *Filter) Matches(tc tags.Collection) bool {
	if f.IsEmpty() {
		return true
	}
	for _, p := range f.pairs {
		if !tc.Contains(p.Key, p.Value) {
			return false
		}
	}
	return true
}

// Match evaluates a disjunction of filters against a record's tags.
// An empty or nil slice matches everything, as does a slice containing
// any empty filter.
func Match(fs []*Filter, tc tags.Collection) bool {
	if len(fs) == 0 {
		return true
	}
	for _, f := range fs {
		if f.Matches(tc) {
			return true
		}
	}
	return false
}

// Empty reports whether the whole disjunction is a no-op: no filters at
// all, or at least one unconditional conjunction. Stores use this to skip
// filter pushdown entirely.
func Empty(fs []*Filter) bool {
	if len(fs) == 0 {
		return true
	}
	for _, f := range fs {
		if f.IsEmpty() {
			return true
		}
	}
	return false
}
