// Package memory is the service facade: one type exposing the ingestion
// and retrieval operations the HTTP surface, MCP tools and CLI all call.
package memory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/metrics"
	"github.com/jpl-au/memd/internal/orchestrator"
	"github.com/jpl-au/memd/internal/pipeline"
	"github.com/jpl-au/memd/internal/recordstore"
	"github.com/jpl-au/memd/internal/search"
	"github.com/jpl-au/memd/internal/tags"
)

// Memory is the assembled service. Construct with Builder.Build.
type Memory struct {
	orch    orchestrator.Orchestrator
	engine  *search.Engine
	records recordstore.Store
	docs    docstore.Store
	metrics *metrics.Metrics
	log     *zap.Logger

	summarize    bool
	searchLimit  int
	minRelevance float64
}

// ImportRequest describes a document import.
type ImportRequest struct {
	Index      string
	DocumentID string
	Files      []orchestrator.UploadFile
	Tags       tags.Collection
	Steps      []string
}

// Start begins pipeline execution. Call once after Build.
func (m *Memory) Start(ctx context.Context) error {
	return m.orch.Start(ctx)
}

// Close stops pipeline execution and releases the record store.
func (m *Memory) Close() error {
	err := m.orch.Close()
	if cerr := m.records.Close(); err == nil {
		err = cerr
	}
	return err
}

// ImportDocument admits files for ingestion and returns the normalized
// index and document id.
func (m *Memory) ImportDocument(ctx context.Context, req ImportRequest) (string, string, error) {
	steps := req.Steps
	if len(steps) == 0 && m.summarize {
		steps = append(pipeline.DefaultSteps(),
			pipeline.StepSummarize, pipeline.StepGenEmbeddings, pipeline.StepSaveRecords)
	}
	idx, doc, err := m.orch.Admit(ctx, orchestrator.Request{
		Index:      req.Index,
		DocumentID: req.DocumentID,
		Files:      req.Files,
		Tags:       req.Tags,
		Steps:      steps,
	})
	if err != nil {
		return "", "", err
	}
	m.metrics.IncAdmitted()
	return idx, doc, nil
}

// ImportText admits a single text snippet as a document.
func (m *Memory) ImportText(ctx context.Context, indexName, documentID, text string, tc tags.Collection) (string, string, error) {
	return m.ImportDocument(ctx, ImportRequest{
		Index:      indexName,
		DocumentID: documentID,
		Files: []orchestrator.UploadFile{{
			Name:     "content.txt",
			MimeType: "text/plain",
			Content:  []byte(text),
		}},
		Tags: tc,
	})
}

// Search runs a similarity search.
func (m *Memory) Search(ctx context.Context, indexName, query string, opts search.Options) (search.Results, error) {
	start := time.Now()
	res, err := m.engine.Search(ctx, indexName, query, m.tuned(opts))
	m.metrics.ObserveSearch(time.Since(start).Seconds())
	return res, err
}

// Ask answers a question grounded in the memory's records.
func (m *Memory) Ask(ctx context.Context, indexName, question string, opts search.Options) (search.Answer, error) {
	start := time.Now()
	ans, err := m.engine.Ask(ctx, indexName, question, m.tuned(opts))
	m.metrics.ObserveSearch(time.Since(start).Seconds())
	return ans, err
}

// tuned fills unset search options with the configured defaults.
func (m *Memory) tuned(opts search.Options) search.Options {
	if opts.Limit == 0 {
		opts.Limit = m.searchLimit
	}
	if opts.MinRelevance == 0 {
		opts.MinRelevance = m.minRelevance
	}
	return opts
}

// Status returns a document's pipeline state.
func (m *Memory) Status(ctx context.Context, indexName, documentID string) (*pipeline.State, error) {
	return m.orch.Status(ctx, indexName, documentID)
}

// IsReady reports whether a document finished ingesting successfully.
func (m *Memory) IsReady(ctx context.Context, indexName, documentID string) (bool, error) {
	return m.orch.IsReady(ctx, indexName, documentID)
}

// DeleteDocument dispatches a document deletion.
func (m *Memory) DeleteDocument(ctx context.Context, indexName, documentID string) error {
	if err := m.orch.DeleteDocument(ctx, indexName, documentID); err != nil {
		return err
	}
	m.metrics.IncDeleted()
	return nil
}

// DeleteIndex removes an index and everything in it.
func (m *Memory) DeleteIndex(ctx context.Context, indexName string) error {
	return m.orch.DeleteIndex(ctx, indexName)
}

// ListIndexes returns the known index names.
func (m *Memory) ListIndexes(ctx context.Context) ([]string, error) {
	return m.records.ListIndexes(ctx)
}
