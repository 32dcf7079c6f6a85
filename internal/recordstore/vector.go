// vector.go implements the similarity metric shared by backends.
//
// Both backends compute cosine similarity in Go over candidate rows; the
// SQLite backend narrows candidates with tag pushdown first. Scores are
// normalized from cosine's [-1, 1] to [0, 1] so 1.0 means identical and
// minRelevance thresholds are metric-independent.

package recordstore

import (
	"math"
	"sort"
)

// CosineScore returns the normalized similarity of two equal-length
// vectors: (1 + cosine) / 2, clamped to [0, 1]. Zero vectors score 0.
func CosineScore(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	score := (1 + cos) / 2
	return math.Min(1, math.Max(0, score))
}

// sortMatches orders matches best first, breaking ties by document id
// then record id ascending for determinism.
func sortMatches(ms []Match) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		di, dj := ms[i].DocumentID(), ms[j].DocumentID()
		if di != dj {
			return di < dj
		}
		return ms[i].ID < ms[j].ID
	})
}

// sortRecords orders records by document id then record id ascending.
func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		di, dj := rs[i].DocumentID(), rs[j].DocumentID()
		if di != dj {
			return di < dj
		}
		return rs[i].ID < rs[j].ID
	})
}
