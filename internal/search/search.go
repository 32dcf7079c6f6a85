// Package search implements retrieval over the record store: similarity
// search with citations, and grounded question answering on top of it.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/ai"
	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/index"
	"github.com/jpl-au/memd/internal/prompts"
	"github.com/jpl-au/memd/internal/recordstore"
	"github.com/jpl-au/memd/internal/tags"
	"github.com/jpl-au/memd/internal/tokens"
)

// Defaults for the ask path.
const (
	DefaultFactBudgetTokens = 4000
	DefaultAnswerTimeout    = 30 * time.Second
)

// Options configures one search or ask call.
type Options struct {
	Filters      []*filters.Filter
	Limit        int
	MinRelevance float64
}

// Partition is one matched chunk inside a citation.
type Partition struct {
	Text       string  `json:"text"`
	Relevance  float64 `json:"relevance"`
	Number     int     `json:"partitionNumber"`
	Section    int     `json:"sectionNumber"`
	LastUpdate string  `json:"lastUpdate,omitempty"`
}

// Citation groups a document's matched partitions, best first.
type Citation struct {
	DocumentID string      `json:"documentId"`
	FileID     string      `json:"fileId,omitempty"`
	Index      string      `json:"index"`
	Partitions []Partition `json:"partitions"`
}

// Results is the outcome of a similarity search.
type Results struct {
	Query     string     `json:"query"`
	Citations []Citation `json:"results"`
}

// Answer is the outcome of an ask call. NoResult is set when the memory
// holds nothing relevant; Error carries a model failure without failing
// the call itself.
type Answer struct {
	Question  string     `json:"question"`
	Text      string     `json:"text"`
	NoResult  bool       `json:"noResult"`
	Error     string     `json:"error,omitempty"`
	Citations []Citation `json:"relevantSources"`
}

// Engine runs retrieval against one record store.
type Engine struct {
	records   recordstore.Store
	embedder  ai.Embedder
	generator ai.TextGenerator
	prompts   prompts.Provider
	counter   tokens.Counter
	log       *zap.Logger

	// FactBudget bounds the tokens of grounding text sent to the model.
	FactBudget int
	// AnswerTimeout bounds the model call wall-clock.
	AnswerTimeout time.Duration
}

// NewEngine wires a retrieval engine. counter may be nil, which falls
// back to the heuristic counter.
func NewEngine(records recordstore.Store, embedder ai.Embedder, generator ai.TextGenerator, pp prompts.Provider, counter tokens.Counter, log *zap.Logger) *Engine {
	if counter == nil {
		counter = tokens.Heuristic{}
	}
	return &Engine{
		records:       records,
		embedder:      embedder,
		generator:     generator,
		prompts:       pp,
		counter:       counter,
		log:           log,
		FactBudget:    DefaultFactBudgetTokens,
		AnswerTimeout: DefaultAnswerTimeout,
	}
}

// Search embeds the query and returns citations grouped by document.
// A missing index yields empty results, not an error: an empty memory
// legitimately knows nothing.
func (e *Engine) Search(ctx context.Context, indexName, query string, opts Options) (Results, error) {
	idx, err := index.Normalize(indexName, index.DefaultName)
	if err != nil {
		return Results{}, err
	}
	out := Results{Query: query, Citations: []Citation{}}

	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return Results{}, fmt.Errorf("embed query: %w", err)
	}

	matches, err := e.records.GetSimilar(ctx, idx, vecs[0], recordstore.SearchOptions{
		Filters:      opts.Filters,
		Limit:        opts.Limit,
		MinRelevance: opts.MinRelevance,
	})
	if errors.Is(err, recordstore.ErrIndexNotFound) {
		return out, nil
	}
	if err != nil {
		return Results{}, fmt.Errorf("similarity search: %w", err)
	}

	out.Citations = groupCitations(idx, matches)
	e.log.Debug("search",
		zap.String("index", idx),
		zap.Int("matches", len(matches)),
		zap.Int("citations", len(out.Citations)))
	return out, nil
}

// Ask searches for grounding facts and has the generator answer from
// them. Model failures are reported inside the Answer; only retrieval
// failures error.
func (e *Engine) Ask(ctx context.Context, indexName, question string, opts Options) (Answer, error) {
	res, err := e.Search(ctx, indexName, question, opts)
	if err != nil {
		return Answer{}, err
	}
	ans := Answer{Question: question, Citations: res.Citations}
	if len(res.Citations) == 0 {
		ans.NoResult = true
		ans.Text = prompts.EmptyAnswer
		return ans, nil
	}

	facts := e.collectFacts(res.Citations)
	prompt, err := e.prompts.Answer(facts, question)
	if err != nil {
		return Answer{}, err
	}

	genCtx, cancel := context.WithTimeout(ctx, e.AnswerTimeout)
	defer cancel()
	text, err := e.generator.Generate(genCtx, prompt)
	if err != nil {
		// The caller still gets the citations; the model being down is
		// part of the answer, not a transport failure.
		ans.Error = err.Error()
		ans.NoResult = true
		e.log.Warn("answer generation failed", zap.Error(err))
		return ans, nil
	}

	ans.Text = text
	if text == prompts.EmptyAnswer {
		ans.NoResult = true
	}
	return ans, nil
}

// collectFacts concatenates citation texts best-first until the token
// budget is spent. At least one fact is always included.
func (e *Engine) collectFacts(citations []Citation) string {
	var facts []string
	budget := e.FactBudget
	if budget <= 0 {
		budget = DefaultFactBudgetTokens
	}
	spent := 0
	for _, c := range citations {
		for _, p := range c.Partitions {
			cost := e.counter.Count(p.Text)
			if spent+cost > budget && len(facts) > 0 {
				return joinFacts(facts)
			}
			facts = append(facts, p.Text)
			spent += cost
		}
	}
	return joinFacts(facts)
}

func joinFacts(facts []string) string {
	out := ""
	for i, f := range facts {
		if i > 0 {
			out += "\n\n"
		}
		out += f
	}
	return out
}

// groupCitations folds matches into per-document citations. Citations
// order by their best partition's relevance; partitions keep match order.
func groupCitations(idx string, matches []recordstore.Match) []Citation {
	byDoc := map[string]*Citation{}
	var order []string
	for _, m := range matches {
		docID := m.DocumentID()
		c, ok := byDoc[docID]
		if !ok {
			c = &Citation{
				DocumentID: docID,
				FileID:     m.Tags.First(tags.KeyFileID),
				Index:      idx,
				Partitions: []Partition{},
			}
			byDoc[docID] = c
			order = append(order, docID)
		}
		c.Partitions = append(c.Partitions, Partition{
			Text:       m.Text(),
			Relevance:  m.Score,
			Number:     atoi(m.Tags.First(tags.KeyPartition)),
			Section:    atoi(m.Tags.First(tags.KeySection)),
			LastUpdate: m.LastUpdate(),
		})
	}

	out := make([]Citation, 0, len(order))
	for _, docID := range order {
		out = append(out, *byDoc[docID])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return bestScore(out[i]) > bestScore(out[j])
	})
	return out
}

func bestScore(c Citation) float64 {
	best := 0.0
	for _, p := range c.Partitions {
		if p.Relevance > best {
			best = p.Relevance
		}
	}
	return best
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
