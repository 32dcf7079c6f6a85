package partition_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/jpl-au/memd/internal/partition"
	"github.com/jpl-au/memd/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_RespectsTarget(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "paragraph %d has exactly six words\n\n", i)
	}
	s := partition.New(12, 0, partition.UnitParagraph, tokens.Heuristic{})

	chunks := s.Split(b.String())
	require.Len(t, chunks, 10, "two six-word paragraphs per chunk")
	for _, c := range chunks {
		assert.LessOrEqual(t, (tokens.Heuristic{}).Count(c), 12)
	}
}

func TestSplit_NeverCutsAUnit(t *testing.T) {
	long := strings.Repeat("word ", 50)
	text := "short one.\n\n" + long + "\n\nshort two."
	s := partition.New(10, 0, partition.UnitParagraph, tokens.Heuristic{})

	chunks := s.Split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, strings.TrimSpace(long), chunks[1], "oversized unit becomes its own chunk")
}

func TestSplit_OverlapCarriesTrailingUnits(t *testing.T) {
	text := "alpha beta.\n\ngamma delta.\n\nepsilon zeta.\n\neta theta."
	s := partition.New(4, 2, partition.UnitParagraph, tokens.Heuristic{})

	chunks := s.Split(text)
	require.GreaterOrEqual(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		prevLast := lastParagraph(chunks[i-1])
		assert.True(t, strings.HasPrefix(chunks[i], prevLast),
			"chunk %d starts with the previous chunk's tail", i)
	}
}

func TestSplit_Sentences(t *testing.T) {
	s := partition.New(1000, 0, partition.UnitSentence, tokens.Heuristic{})
	chunks := s.Split("First sentence. Second one! Third?")
	require.Len(t, chunks, 1)
	assert.Equal(t, "First sentence. Second one! Third?", chunks[0])
}

func TestSplit_Lines(t *testing.T) {
	s := partition.New(3, 0, partition.UnitLine, tokens.Heuristic{})
	chunks := s.Split("one two three\nfour five six\n\n")
	assert.Equal(t, []string{"one two three", "four five six"}, chunks)
}

func TestSplit_Empty(t *testing.T) {
	s := partition.New(0, 0, "", nil)
	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("  \n\n \n"))
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("Some prose that repeats. ", 40)
	s := partition.New(30, 5, partition.UnitSentence, tokens.Heuristic{})
	assert.Equal(t, s.Split(text), s.Split(text))
}

func lastParagraph(chunk string) string {
	parts := strings.Split(chunk, "\n\n")
	return parts[len(parts)-1]
}
