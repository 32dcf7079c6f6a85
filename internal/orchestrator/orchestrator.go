// Package orchestrator admits documents and drives their pipelines to
// completion.
//
// Two drivers share the admission and status logic: InProcess runs
// pipelines on goroutines inside the service, Distributed hands steps to
// queues so any node in a fleet can pick them up. Both treat the state
// file as the source of truth and never advance work before the state
// write has committed.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/extract"
	"github.com/jpl-au/memd/internal/index"
	"github.com/jpl-au/memd/internal/metrics"
	"github.com/jpl-au/memd/internal/pipeline"
	"github.com/jpl-au/memd/internal/tags"
)

var (
	// ErrNoFiles indicates an admission request with no content.
	ErrNoFiles = errors.New("no files in request")
	// ErrEmptyFile indicates a zero-byte upload.
	ErrEmptyFile = errors.New("file is empty")
	// ErrUnknownStep indicates a requested step with no registered handler.
	ErrUnknownStep = errors.New("unknown pipeline step")
	// ErrPipelineConflict indicates a re-admission that would change the
	// steps of a still-running pipeline.
	ErrPipelineConflict = errors.New("pipeline already running with different steps")
	// ErrHandlerNotRegistered indicates a pipeline references a step this
	// node cannot execute.
	ErrHandlerNotRegistered = errors.New("handler not registered")
	// ErrSealed indicates AddHandler was called after Start.
	ErrSealed = errors.New("orchestrator already started")
)

// Handler executes one pipeline step. Implementations must be idempotent
// against partially-complete state.
type Handler interface {
	Name() string
	Process(ctx context.Context, s *pipeline.State) (*pipeline.State, error)
}

// UploadFile is one file of an admission request.
type UploadFile struct {
	Name     string
	MimeType string
	Content  []byte
}

// Request describes a document admission.
type Request struct {
	Index      string
	DocumentID string // derived from file names when empty
	Files      []UploadFile
	Tags       tags.Collection
	Steps      []string // DefaultSteps when empty
}

// Orchestrator is the ingestion driver capability set.
type Orchestrator interface {
	// AddHandler registers a step handler. Registration seals at Start.
	AddHandler(h Handler) error

	// Admit validates a request, persists its files and state, and
	// dispatches the first step. Returns the (possibly derived,
	// normalized) index and document id.
	Admit(ctx context.Context, req Request) (indexName, documentID string, err error)

	// Status returns the current pipeline state of a document.
	Status(ctx context.Context, indexName, documentID string) (*pipeline.State, error)

	// IsReady reports whether a document's pipeline completed without a
	// terminal error.
	IsReady(ctx context.Context, indexName, documentID string) (bool, error)

	// DeleteDocument switches a document to the deletion chain and
	// dispatches it. Unknown documents are still dispatched so orphaned
	// records get cleaned up.
	DeleteDocument(ctx context.Context, indexName, documentID string) error

	// DeleteIndex removes an entire index synchronously.
	DeleteIndex(ctx context.Context, indexName string) error

	// Start begins executing dispatched work and seals the registry.
	Start(ctx context.Context) error

	// Close stops accepting work and waits for in-flight steps.
	Close() error
}

// base carries the logic both drivers share. The concrete driver
// provides dispatch.
type base struct {
	docs       docstore.Store
	log        *zap.Logger
	metrics    *metrics.Metrics // nil disables observation
	maxRetries int

	mu       sync.Mutex
	handlers map[string]Handler
	sealed   bool

	dispatch func(ctx context.Context, s *pipeline.State) error
}

func newBase(docs docstore.Store, log *zap.Logger, maxRetries int) base {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return base{
		docs:       docs,
		log:        log,
		maxRetries: maxRetries,
		handlers:   map[string]Handler{},
	}
}

// DefaultMaxRetries bounds transient step retries before a pipeline is
// marked terminally failed.
const DefaultMaxRetries = 10

func (b *base) AddHandler(h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sealed {
		return fmt.Errorf("add handler %s: %w", h.Name(), ErrSealed)
	}
	b.handlers[h.Name()] = h
	return nil
}

func (b *base) handler(step string) (Handler, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handlers[step]
	return h, ok
}

func (b *base) seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

func (b *base) handlerNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.handlers))
	for n := range b.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (b *base) Admit(ctx context.Context, req Request) (string, string, error) {
	idx, err := index.Normalize(req.Index, index.DefaultName)
	if err != nil {
		return "", "", err
	}
	if len(req.Files) == 0 {
		return "", "", ErrNoFiles
	}
	for _, f := range req.Files {
		if len(f.Content) == 0 {
			return "", "", fmt.Errorf("%w: %s", ErrEmptyFile, f.Name)
		}
	}
	if req.Tags != nil {
		if err := req.Tags.ValidateUser(); err != nil {
			return "", "", err
		}
	}
	steps := req.Steps
	if len(steps) == 0 {
		steps = pipeline.DefaultSteps()
	}
	for _, step := range steps {
		if _, ok := b.handler(step); !ok {
			return "", "", fmt.Errorf("%w: %s", ErrUnknownStep, step)
		}
	}

	docID := req.DocumentID
	if docID == "" {
		docID = deriveDocumentID(req.Files)
	}
	docID, err = index.Normalize(docID, "")
	if err != nil {
		return "", "", fmt.Errorf("document id: %w", err)
	}

	// Re-admission rules: an active pipeline with the same steps merges
	// any files new to the ledger, an active one with different steps is
	// a conflict, and a finished or failed one starts over.
	prev, prevETag, err := pipeline.LoadState(ctx, b.docs, idx, docID)
	switch {
	case err == nil && !prev.Complete() && !prev.Failed():
		if !sameSteps(prev.Steps, steps) {
			return "", "", fmt.Errorf("%s/%s: %w", idx, docID, ErrPipelineConflict)
		}
		if err := b.mergeFiles(ctx, prev, prevETag, req.Files); err != nil {
			return "", "", err
		}
		return idx, docID, nil
	case err != nil && !errors.Is(err, pipeline.ErrStateNotFound):
		return "", "", err
	}

	s := pipeline.NewState(idx, docID, steps, req.Tags)
	if err := b.docs.CreateDocument(ctx, idx, docID); err != nil {
		return "", "", fmt.Errorf("create document %s/%s: %w", idx, docID, err)
	}
	for _, f := range req.Files {
		mt := f.MimeType
		if mt == "" {
			mt = extract.DetectType(f.Content)
		}
		if err := writeSource(ctx, b.docs, s, f, mt); err != nil {
			return "", "", err
		}
	}
	if err := pipeline.SaveState(ctx, b.docs, s, ""); err != nil {
		return "", "", err
	}

	if err := b.dispatch(ctx, s); err != nil {
		return "", "", fmt.Errorf("dispatch %s/%s: %w", idx, docID, err)
	}
	b.log.Info("document admitted",
		zap.String("index", idx),
		zap.String("document", docID),
		zap.Strings("steps", steps),
		zap.Int("files", len(req.Files)))
	return idx, docID, nil
}

func (b *base) Status(ctx context.Context, indexName, documentID string) (*pipeline.State, error) {
	idx, err := index.Normalize(indexName, index.DefaultName)
	if err != nil {
		return nil, err
	}
	s, _, err := pipeline.LoadState(ctx, b.docs, idx, documentID)
	return s, err
}

func (b *base) IsReady(ctx context.Context, indexName, documentID string) (bool, error) {
	s, err := b.Status(ctx, indexName, documentID)
	if err != nil {
		return false, err
	}
	return s.Complete() && !s.Failed(), nil
}

func (b *base) DeleteDocument(ctx context.Context, indexName, documentID string) error {
	idx, err := index.Normalize(indexName, index.DefaultName)
	if err != nil {
		return err
	}

	s, _, err := pipeline.LoadState(ctx, b.docs, idx, documentID)
	if errors.Is(err, pipeline.ErrStateNotFound) {
		// No state, but records or files may still exist. A fresh
		// deletion pipeline cleans up whatever is there.
		s = pipeline.NewState(idx, documentID, pipeline.DeletionSteps(), nil)
	} else if err != nil {
		return err
	} else {
		// Deletion wins over any in-flight ingestion; workers observe
		// the switched chain on their next state load and stand down.
		s.Reset(pipeline.DeletionSteps())
	}

	if err := pipeline.SaveState(ctx, b.docs, s, ""); err != nil {
		return err
	}
	if err := b.dispatch(ctx, s); err != nil {
		return fmt.Errorf("dispatch deletion %s/%s: %w", idx, documentID, err)
	}
	b.log.Info("document deletion dispatched",
		zap.String("index", idx),
		zap.String("document", documentID))
	return nil
}

func (b *base) DeleteIndex(ctx context.Context, indexName string) error {
	idx, err := index.Normalize(indexName, index.DefaultName)
	if err != nil {
		return err
	}
	h, ok := b.handler(pipeline.StepDeleteIndex)
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotRegistered, pipeline.StepDeleteIndex)
	}
	s := &pipeline.State{Index: idx, Steps: []string{pipeline.StepDeleteIndex}}
	if _, err := h.Process(ctx, s); err != nil {
		return err
	}
	return nil
}

// mergeFiles adds files not yet in an active pipeline's ledger. Only
// names new to the ledger are written: re-admission is idempotent on
// content already accepted, and overwriting a file mid-ingest would race
// the running steps. The ledger write is conditional on the loaded etag;
// losing to a concurrent step advance reloads and reapplies.
func (b *base) mergeFiles(ctx context.Context, s *pipeline.State, etag string, files []UploadFile) error {
	for {
		added := false
		for _, f := range files {
			if _, ok := s.FindFile(f.Name); ok {
				continue
			}
			mt := f.MimeType
			if mt == "" {
				mt = extract.DetectType(f.Content)
			}
			if err := writeSource(ctx, b.docs, s, f, mt); err != nil {
				return err
			}
			added = true
		}
		if !added {
			return nil
		}
		err := pipeline.SaveState(ctx, b.docs, s, etag)
		if err == nil {
			b.log.Info("merged files into active pipeline",
				zap.String("index", s.Index),
				zap.String("document", s.DocumentID))
			return nil
		}
		if !errors.Is(err, pipeline.ErrStateChanged) {
			return err
		}
		s, etag, err = pipeline.LoadState(ctx, b.docs, s.Index, s.DocumentID)
		if err != nil {
			// Deleted while merging; nothing left to merge into.
			if errors.Is(err, pipeline.ErrStateNotFound) {
				return nil
			}
			return err
		}
	}
}

// writeSource persists one uploaded file and records it in the ledger.
func writeSource(ctx context.Context, docs docstore.Store, s *pipeline.State, f UploadFile, mimeType string) error {
	if err := docs.WriteFile(ctx, s.Index, s.DocumentID, f.Name, bytes.NewReader(f.Content)); err != nil {
		return fmt.Errorf("write source %s: %w", f.Name, err)
	}
	s.AddFile(pipeline.FileDescriptor{
		Name:         f.Name,
		Size:         int64(len(f.Content)),
		MimeType:     mimeType,
		ArtifactType: pipeline.ArtifactSource,
	})
	return nil
}

// deriveDocumentID hashes the sorted file names so the same upload set
// maps to the same document.
func deriveDocumentID(files []UploadFile) string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	sort.Strings(names)

	h, _ := blake2b.New256(nil)
	for _, n := range names {
		h.Write([]byte(n))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// outcomeOf labels a step result for metrics.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return "failed"
}

func sameSteps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
