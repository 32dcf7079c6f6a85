package recordstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/recordstore"
	"github.com/jpl-au/memd/internal/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends runs a subtest against both store implementations so they stay
// behaviorally identical.
func backends(t *testing.T, fn func(t *testing.T, s recordstore.Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, recordstore.NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := recordstore.OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func rec(id, docID string, vec []float32, extra ...[2]string) recordstore.Record {
	tc := tags.New()
	tc.Add(tags.KeyDocumentID, docID)
	for _, p := range extra {
		tc.Add(p[0], p[1])
	}
	return recordstore.Record{
		ID:     id,
		Vector: vec,
		Tags:   tc,
		Payload: map[string]any{
			recordstore.PayloadText: "text of " + id,
			recordstore.PayloadFile: "source.txt",
		},
	}
}

func collect(t *testing.T, s recordstore.Store, index string, opts recordstore.ListOptions) []recordstore.Record {
	t.Helper()
	var out []recordstore.Record
	for r, err := range s.GetList(context.Background(), index, opts) {
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestID_Deterministic(t *testing.T) {
	a := recordstore.ID("idx", "d1", "f1", 1, 0)
	b := recordstore.ID("idx", "d1", "f1", 1, 0)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, recordstore.ID("idx", "d1", "f1", 2, 0))
	assert.NotEqual(t, a, recordstore.ID("idx", "d1", "f2", 1, 0))
	assert.NotEqual(t, a, recordstore.ID("idx", "d2", "f1", 1, 0))
	assert.NotEqual(t, a, recordstore.ID("idx2", "d1", "f1", 1, 0))
}

func TestUpsert_NoDuplicates(t *testing.T) {
	backends(t, func(t *testing.T, s recordstore.Store) {
		ctx := context.Background()
		r := rec("r1", "d1", []float32{1, 0, 0})

		for i := 0; i < 3; i++ {
			id, err := s.Upsert(ctx, "idx", r)
			require.NoError(t, err)
			assert.Equal(t, "r1", id)
		}

		got := collect(t, s, "idx", recordstore.ListOptions{})
		assert.Len(t, got, 1)
	})
}

func TestUpsert_VectorSizeEnforced(t *testing.T) {
	backends(t, func(t *testing.T, s recordstore.Store) {
		ctx := context.Background()
		_, err := s.Upsert(ctx, "idx", rec("r1", "d1", []float32{1, 0, 0}))
		require.NoError(t, err)

		_, err = s.Upsert(ctx, "idx", rec("r2", "d1", []float32{1, 0}))
		assert.ErrorIs(t, err, recordstore.ErrVectorSize)
	})
}

func TestGetSimilar_RanksAndFilters(t *testing.T) {
	backends(t, func(t *testing.T, s recordstore.Store) {
		ctx := context.Background()
		_, err := s.Upsert(ctx, "idx", rec("ra", "d1", []float32{1, 0, 0}, [2]string{"user", "admin"}))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, "idx", rec("rb", "d2", []float32{0, 1, 0}, [2]string{"user", "blake"}))
		require.NoError(t, err)
		_, err = s.Upsert(ctx, "idx", rec("rc", "d3", []float32{-1, 0, 0}, [2]string{"user", "admin"}))
		require.NoError(t, err)

		ms, err := s.GetSimilar(ctx, "idx", []float32{1, 0, 0}, recordstore.SearchOptions{Limit: 10})
		require.NoError(t, err)
		require.Len(t, ms, 3)
		assert.Equal(t, "ra", ms[0].ID)
		assert.InDelta(t, 1.0, ms[0].Score, 1e-9)
		assert.Equal(t, "rc", ms[2].ID)
		assert.InDelta(t, 0.0, ms[2].Score, 1e-9)
		assert.Nil(t, ms[0].Vector, "embeddings excluded unless requested")

		// minRelevance prunes before limit
		ms, err = s.GetSimilar(ctx, "idx", []float32{1, 0, 0}, recordstore.SearchOptions{Limit: 10, MinRelevance: 0.6})
		require.NoError(t, err)
		require.Len(t, ms, 1)
		assert.Equal(t, "ra", ms[0].ID)

		// tag filter narrows candidates
		ms, err = s.GetSimilar(ctx, "idx", []float32{1, 0, 0}, recordstore.SearchOptions{
			Filters: []*filters.Filter{filters.ByTag("user", "blake")},
			Limit:   10,
		})
		require.NoError(t, err)
		require.Len(t, ms, 1)
		assert.Equal(t, "rb", ms[0].ID)
	})
}

func TestGetSimilar_TieBreakByDocumentID(t *testing.T) {
	backends(t, func(t *testing.T, s recordstore.Store) {
		ctx := context.Background()
		// Same vector, so identical scores: order must be document id ascending.
		for _, r := range []recordstore.Record{
			rec("r-z", "doc-b", []float32{1, 1}),
			rec("r-a", "doc-c", []float32{1, 1}),
			rec("r-m", "doc-a", []float32{1, 1}),
		} {
			_, err := s.Upsert(ctx, "idx", r)
			require.NoError(t, err)
		}

		ms, err := s.GetSimilar(ctx, "idx", []float32{1, 1}, recordstore.SearchOptions{Limit: 10})
		require.NoError(t, err)
		require.Len(t, ms, 3)
		assert.Equal(t, "doc-a", ms[0].DocumentID())
		assert.Equal(t, "doc-b", ms[1].DocumentID())
		assert.Equal(t, "doc-c", ms[2].DocumentID())
	})
}

func TestGetSimilar_MissingIndex(t *testing.T) {
	backends(t, func(t *testing.T, s recordstore.Store) {
		_, err := s.GetSimilar(context.Background(), "nope", []float32{1}, recordstore.SearchOptions{})
		assert.ErrorIs(t, err, recordstore.ErrIndexNotFound)
	})
}

func TestGetList_FiltersAndLimit(t *testing.T) {
	backends(t, func(t *testing.T, s recordstore.Store) {
		ctx := context.Background()
		for i, docID := range []string{"d1", "d1", "d2"} {
			r := rec(recordstore.ID("idx", docID, "f", i, 0), docID, []float32{1, 0})
			_, err := s.Upsert(ctx, "idx", r)
			require.NoError(t, err)
		}

		all := collect(t, s, "idx", recordstore.ListOptions{})
		assert.Len(t, all, 3)

		d1 := collect(t, s, "idx", recordstore.ListOptions{
			Filters: []*filters.Filter{filters.ByDocument("d1")},
		})
		assert.Len(t, d1, 2)

		// limit<=0 means no limit; positive limit truncates
		limited := collect(t, s, "idx", recordstore.ListOptions{Limit: 2})
		assert.Len(t, limited, 2)
	})
}

func TestDelete_CascadeByDocumentFilter(t *testing.T) {
	backends(t, func(t *testing.T, s recordstore.Store) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := s.Upsert(ctx, "idx", rec(recordstore.ID("idx", "d4", "f", i, 0), "d4", []float32{1, 0}))
			require.NoError(t, err)
		}
		_, err := s.Upsert(ctx, "idx", rec("keep", "d5", []float32{0, 1}))
		require.NoError(t, err)

		for _, r := range collect(t, s, "idx", recordstore.ListOptions{
			Filters: []*filters.Filter{filters.ByDocument("d4")},
		}) {
			require.NoError(t, s.Delete(ctx, "idx", r))
		}

		gone := collect(t, s, "idx", recordstore.ListOptions{
			Filters: []*filters.Filter{filters.ByDocument("d4")},
		})
		assert.Empty(t, gone)

		left := collect(t, s, "idx", recordstore.ListOptions{})
		require.Len(t, left, 1)
		assert.Equal(t, "keep", left[0].ID)
	})
}

func TestIndexLifecycle(t *testing.T) {
	backends(t, func(t *testing.T, s recordstore.Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateIndex(ctx, "a", 3))
		require.NoError(t, s.CreateIndex(ctx, "a", 3), "recreate with same size is a no-op")
		assert.ErrorIs(t, s.CreateIndex(ctx, "a", 4), recordstore.ErrVectorSize)

		_, err := s.Upsert(ctx, "b", rec("r", "d", []float32{1, 2}))
		require.NoError(t, err)

		names, err := s.ListIndexes(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a", "b"}, names)

		require.NoError(t, s.DeleteIndex(ctx, "b"))
		require.NoError(t, s.DeleteIndex(ctx, "missing"), "deleting a missing index is a no-op")

		names, err = s.ListIndexes(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a"}, names)
	})
}

func TestSQLite_VectorRoundTrip(t *testing.T) {
	s, err := recordstore.OpenSQLite(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	vec := []float32{0.1, -2.5, 3.25, 0}
	_, err = s.Upsert(ctx, "idx", rec("r1", "d1", vec))
	require.NoError(t, err)

	got := collect(t, s, "idx", recordstore.ListOptions{WithEmbeddings: true})
	require.Len(t, got, 1)
	assert.Equal(t, vec, got[0].Vector)
}
