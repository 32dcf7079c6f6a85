// builder.go assembles a Memory from explicit parts.
//
// Every dependency has a setter and a sensible default, so tests build a
// fully in-memory instance with New().Build() while production wires the
// configured stores, queue fabric and model providers.

package memory

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/ai"
	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/extract"
	"github.com/jpl-au/memd/internal/handlers"
	"github.com/jpl-au/memd/internal/metrics"
	"github.com/jpl-au/memd/internal/orchestrator"
	"github.com/jpl-au/memd/internal/partition"
	"github.com/jpl-au/memd/internal/prompts"
	"github.com/jpl-au/memd/internal/queue"
	"github.com/jpl-au/memd/internal/recordstore"
	"github.com/jpl-au/memd/internal/search"
	"github.com/jpl-au/memd/internal/tokens"
)

// Builder accumulates the parts of a Memory.
type Builder struct {
	docs      docstore.Store
	records   recordstore.Store
	embedder  ai.Embedder
	generator ai.TextGenerator
	prompts   prompts.Provider
	registry  *extract.Registry
	ocr       extract.OCREngine
	counter   tokens.Counter
	queues    queue.Factory
	metrics   *metrics.Metrics
	log       *zap.Logger

	maxRetries    int
	workers       int
	targetTokens  int
	overlapTokens int
	summarize     bool

	searchLimit   int
	minRelevance  float64
	factBudget    int
	answerTimeout time.Duration
	visibility    time.Duration

	err error
}

// New returns a builder whose Build yields a self-contained in-memory
// Memory unless parts are replaced.
func New() *Builder {
	return &Builder{}
}

func (b *Builder) WithDocumentStore(s docstore.Store) *Builder   { b.docs = s; return b }
func (b *Builder) WithRecordStore(s recordstore.Store) *Builder  { b.records = s; return b }
func (b *Builder) WithEmbedder(e ai.Embedder) *Builder           { b.embedder = e; return b }
func (b *Builder) WithTextGenerator(g ai.TextGenerator) *Builder { b.generator = g; return b }
func (b *Builder) WithPrompts(p prompts.Provider) *Builder       { b.prompts = p; return b }
func (b *Builder) WithOCR(e extract.OCREngine) *Builder          { b.ocr = e; return b }
func (b *Builder) WithTokenCounter(c tokens.Counter) *Builder    { b.counter = c; return b }
func (b *Builder) WithQueueFactory(f queue.Factory) *Builder     { b.queues = f; return b }
func (b *Builder) WithQueueVisibility(d time.Duration) *Builder  { b.visibility = d; return b }
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder       { b.metrics = m; return b }
func (b *Builder) WithLogger(l *zap.Logger) *Builder             { b.log = l; return b }
func (b *Builder) WithMaxRetries(n int) *Builder                 { b.maxRetries = n; return b }
func (b *Builder) WithWorkers(n int) *Builder                    { b.workers = n; return b }
func (b *Builder) WithSummarize(on bool) *Builder                { b.summarize = on; return b }

// WithChunking sizes the partition step.
func (b *Builder) WithChunking(target, overlap int) *Builder {
	b.targetTokens, b.overlapTokens = target, overlap
	return b
}

// WithSearchTuning sets retrieval defaults: result limit and relevance
// floor applied when a caller leaves them unset, plus the ask-time fact
// budget and model timeout. Zero values keep the built-in defaults.
func (b *Builder) WithSearchTuning(limit int, minRelevance float64, factBudget int, answerTimeout time.Duration) *Builder {
	b.searchLimit = limit
	b.minRelevance = minRelevance
	b.factBudget = factBudget
	b.answerTimeout = answerTimeout
	return b
}

// Build wires the handlers, orchestrator and retrieval engine.
func (b *Builder) Build() (*Memory, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	if b.docs == nil {
		return nil, errors.New("build memory: document store required")
	}
	if b.records == nil {
		b.records = recordstore.NewMemory()
	}
	if b.embedder == nil {
		b.embedder = ai.NewDeterministic(0)
	}
	if b.generator == nil {
		b.generator = &ai.Echo{}
	}
	if b.prompts == nil {
		pp, err := prompts.NewEmbedded()
		if err != nil {
			return nil, err
		}
		b.prompts = pp
	}
	if b.registry == nil {
		b.registry = extract.NewRegistry()
	}
	if b.ocr != nil {
		b.registry.Register(extract.Image{Engine: b.ocr})
	}
	if b.counter == nil {
		b.counter = tokens.Heuristic{}
	}

	splitter := partition.New(b.targetTokens, b.overlapTokens, partition.UnitParagraph, b.counter)

	var orch orchestrator.Orchestrator
	if b.queues != nil {
		orch = orchestrator.NewDistributed(b.docs, b.queues, b.log, orchestrator.DistributedOptions{
			MaxRetries: b.maxRetries,
			Queue:      queue.Options{Workers: b.workers, Visibility: b.visibility},
			Metrics:    b.metrics,
		})
	} else {
		orch = orchestrator.NewInProcess(b.docs, b.log, orchestrator.InProcessOptions{
			Workers:    b.workers,
			MaxRetries: b.maxRetries,
			Metrics:    b.metrics,
		})
	}

	hs := []orchestrator.Handler{
		&handlers.Extract{Docs: b.docs, Registry: b.registry, Log: b.log},
		&handlers.Partition{Docs: b.docs, Splitter: splitter, Log: b.log},
		&handlers.GenEmbeddings{Docs: b.docs, Embedder: b.embedder, Log: b.log},
		&handlers.GenEmbeddingsParallel{Docs: b.docs, Embedder: b.embedder, Log: b.log},
		&handlers.SaveRecords{Docs: b.docs, Records: b.records, Log: b.log},
		&handlers.Summarize{Docs: b.docs, Generator: b.generator, Prompts: b.prompts, Log: b.log},
		&handlers.DeleteDocument{Docs: b.docs, Records: b.records, Log: b.log},
		&handlers.DeleteIndex{Docs: b.docs, Records: b.records, Log: b.log},
	}
	for _, h := range hs {
		if err := orch.AddHandler(h); err != nil {
			return nil, fmt.Errorf("register handler %s: %w", h.Name(), err)
		}
	}

	engine := search.NewEngine(b.records, b.embedder, b.generator, b.prompts, b.counter, b.log)
	if b.factBudget > 0 {
		engine.FactBudget = b.factBudget
	}
	if b.answerTimeout > 0 {
		engine.AnswerTimeout = b.answerTimeout
	}

	return &Memory{
		orch:         orch,
		engine:       engine,
		records:      b.records,
		docs:         b.docs,
		metrics:      b.metrics,
		log:          b.log,
		summarize:    b.summarize,
		searchLimit:  b.searchLimit,
		minRelevance: b.minRelevance,
	}, nil
}
