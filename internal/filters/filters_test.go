package filters_test

import (
	"testing"

	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/tags"
	"github.com/stretchr/testify/assert"
)

func record(pairs ...[2]string) tags.Collection {
	tc := tags.New()
	for _, p := range pairs {
		tc.Add(p[0], p[1])
	}
	return tc
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	r := record([2]string{"type", "news"})

	assert.True(t, filters.New().Matches(r))
	assert.True(t, filters.Match(nil, r))
	assert.True(t, filters.Match([]*filters.Filter{}, r))
}

func TestConjunction(t *testing.T) {
	r := record([2]string{"type", "news"}, [2]string{"user", "admin"}, [2]string{"user", "owner"})

	assert.True(t, filters.ByTag("type", "news").Matches(r))
	assert.True(t, filters.ByTag("type", "news").ByTag("user", "admin").Matches(r))
	assert.False(t, filters.ByTag("type", "news").ByTag("user", "someone").Matches(r))
	assert.False(t, filters.ByTag("missing", "x").Matches(r))
}

// A conjunction with more clauses can only match a subset of what the
// weaker conjunction matches.
func TestConjunctionImplication(t *testing.T) {
	records := []tags.Collection{
		record([2]string{"a", "1"}),
		record([2]string{"a", "1"}, [2]string{"b", "2"}),
		record([2]string{"b", "2"}),
		record(),
	}
	ab := filters.ByTag("a", "1").ByTag("b", "2")
	a := filters.ByTag("a", "1")
	for _, r := range records {
		if ab.Matches(r) {
			assert.True(t, a.Matches(r))
		}
	}
}

func TestDisjunction(t *testing.T) {
	d2 := record([2]string{"user", "admin"})
	d3 := record([2]string{"user", "blake"})
	d4 := record([2]string{"user", "nobody"})

	or := []*filters.Filter{filters.ByTag("user", "admin"), filters.ByTag("user", "blake")}

	assert.True(t, filters.Match(or, d2))
	assert.True(t, filters.Match(or, d3))
	assert.False(t, filters.Match(or, d4))

	// OR equals the disjunction of individual matches
	for _, r := range []tags.Collection{d2, d3, d4} {
		want := filters.Match(or[:1], r) || filters.Match(or[1:], r)
		assert.Equal(t, want, filters.Match(or, r))
	}
}

// Adding an empty conjunction to any filter list makes it match everything.
func TestUnionWithEmptyScansAll(t *testing.T) {
	records := []tags.Collection{
		record([2]string{"user", "admin"}),
		record([2]string{"other", "x"}),
		record(),
	}
	fs := []*filters.Filter{filters.ByTag("user", "someone"), filters.New()}
	for _, r := range records {
		assert.True(t, filters.Match(fs, r))
	}
	assert.True(t, filters.Empty(fs))
}

func TestByDocument(t *testing.T) {
	r := record([2]string{tags.KeyDocumentID, "d1"})
	assert.True(t, filters.ByDocument("d1").Matches(r))
	assert.False(t, filters.ByDocument("d2").Matches(r))
}

func TestEmpty(t *testing.T) {
	assert.True(t, filters.Empty(nil))
	assert.False(t, filters.Empty([]*filters.Filter{filters.ByTag("a", "b")}))
}
