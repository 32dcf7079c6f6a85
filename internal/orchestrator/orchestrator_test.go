package orchestrator_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/ai"
	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/extract"
	"github.com/jpl-au/memd/internal/handlers"
	"github.com/jpl-au/memd/internal/orchestrator"
	"github.com/jpl-au/memd/internal/partition"
	"github.com/jpl-au/memd/internal/pipeline"
	"github.com/jpl-au/memd/internal/queue"
	"github.com/jpl-au/memd/internal/recordstore"
	"github.com/jpl-au/memd/internal/tags"
	"github.com/jpl-au/memd/internal/tokens"
)

type env struct {
	docs    docstore.Store
	records recordstore.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	docs, err := docstore.NewFS(t.TempDir())
	require.NoError(t, err)
	return &env{docs: docs, records: recordstore.NewMemory()}
}

// register installs the standard chain plus deletion handlers.
func (e *env) register(t *testing.T, o orchestrator.Orchestrator, embedder ai.Embedder) {
	t.Helper()
	log := zap.NewNop()
	if embedder == nil {
		embedder = ai.NewDeterministic(32)
	}
	for _, h := range []orchestrator.Handler{
		&handlers.Extract{Docs: e.docs, Registry: extract.NewRegistry(), Log: log},
		&handlers.Partition{Docs: e.docs, Splitter: partition.New(6, 0, partition.UnitParagraph, tokens.Heuristic{}), Log: log},
		&handlers.GenEmbeddings{Docs: e.docs, Embedder: embedder, Log: log},
		&handlers.SaveRecords{Docs: e.docs, Records: e.records, Log: log},
		&handlers.DeleteDocument{Docs: e.docs, Records: e.records, Log: log},
		&handlers.DeleteIndex{Docs: e.docs, Records: e.records, Log: log},
	} {
		require.NoError(t, o.AddHandler(h))
	}
}

func request(id string) orchestrator.Request {
	return orchestrator.Request{
		Index:      "default",
		DocumentID: id,
		Files: []orchestrator.UploadFile{{
			Name:     "notes.txt",
			MimeType: "text/plain",
			Content:  []byte("mass and energy are equivalent\n\nlight has a constant speed"),
		}},
		Tags: tags.Collection{"topic": {"physics"}},
	}
}

// waitReady polls until the pipeline finishes one way or the other.
func waitReady(t *testing.T, o orchestrator.Orchestrator, index, doc string) *pipeline.State {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s, err := o.Status(context.Background(), index, doc)
		if err == nil && (s.Complete() || s.Failed()) {
			return s
		}
		select {
		case <-deadline:
			t.Fatalf("pipeline %s/%s did not finish: state=%+v err=%v", index, doc, s, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestInProcess_IngestsToCompletion(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	e.register(t, o, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()

	idx, doc, err := o.Admit(context.Background(), request("doc-a"))
	require.NoError(t, err)
	assert.Equal(t, "default", idx)
	assert.Equal(t, "doc-a", doc)

	s := waitReady(t, o, idx, doc)
	assert.True(t, s.Complete())
	assert.False(t, s.Failed())
	assert.Equal(t, pipeline.DefaultSteps(), s.CompletedSteps)

	ready, err := o.IsReady(context.Background(), idx, doc)
	require.NoError(t, err)
	assert.True(t, ready)

	count := 0
	for _, err := range e.records.GetList(context.Background(), idx, recordstore.ListOptions{}) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 2, count, "one record per paragraph chunk")
}

func TestAdmit_Validation(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	e.register(t, o, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	ctx := context.Background()

	_, _, err := o.Admit(ctx, orchestrator.Request{Index: "default"})
	assert.ErrorIs(t, err, orchestrator.ErrNoFiles)

	req := request("doc-b")
	req.Files[0].Content = nil
	_, _, err = o.Admit(ctx, req)
	assert.ErrorIs(t, err, orchestrator.ErrEmptyFile)

	req = request("doc-b")
	req.Tags = tags.Collection{"__document_id": {"spoofed"}}
	_, _, err = o.Admit(ctx, req)
	assert.ErrorIs(t, err, tags.ErrReservedKey)

	req = request("doc-b")
	req.Steps = []string{"no_such_step"}
	_, _, err = o.Admit(ctx, req)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownStep)
}

func TestAdmit_DerivesAndNormalizes(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	e.register(t, o, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()

	req := request("")
	req.Index = "My Docs"
	idx, doc, err := o.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "my-docs", idx)
	assert.NotEmpty(t, doc, "document id derived from file names")

	// Same files, same derived id.
	s := waitReady(t, o, idx, doc)
	require.True(t, s.Complete())
	_, doc2, err := o.Admit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, doc, doc2)
}

func TestAdmit_ConflictOnActivePipelineWithDifferentSteps(t *testing.T) {
	e := newEnv(t)

	// A paused pipeline: admitted but the embed step blocks until released.
	release := make(chan struct{})
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	e.register(t, o, blockingEmbedder(release))
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	defer close(release)

	_, _, err := o.Admit(context.Background(), request("doc-c"))
	require.NoError(t, err)

	// Re-admission with identical steps is a no-op.
	_, _, err = o.Admit(context.Background(), request("doc-c"))
	require.NoError(t, err)

	// Changing the steps of a running pipeline is a conflict.
	req := request("doc-c")
	req.Steps = []string{pipeline.StepExtract}
	_, _, err = o.Admit(context.Background(), req)
	assert.ErrorIs(t, err, orchestrator.ErrPipelineConflict)
}

func TestAdmit_ActiveReAdmissionMergesFiles(t *testing.T) {
	e := newEnv(t)
	release := make(chan struct{})
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	e.register(t, o, blockingEmbedder(release))
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	defer close(release)
	ctx := context.Background()

	idx, doc, err := o.Admit(ctx, request("doc-m"))
	require.NoError(t, err)

	// Re-admit with an extra file while the pipeline is still running.
	req := request("doc-m")
	req.Files = append(req.Files, orchestrator.UploadFile{
		Name:     "appendix.txt",
		MimeType: "text/plain",
		Content:  []byte("an extra source file"),
	})
	_, _, err = o.Admit(ctx, req)
	require.NoError(t, err)

	s, err := o.Status(ctx, idx, doc)
	require.NoError(t, err)
	fd, ok := s.FindFile("appendix.txt")
	assert.True(t, ok, "new file merged into the running pipeline's ledger")
	assert.Equal(t, pipeline.ArtifactSource, fd.ArtifactType)
}

func TestDeleteDocument_Cascades(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	e.register(t, o, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	ctx := context.Background()

	idx, doc, err := o.Admit(ctx, request("doc-d"))
	require.NoError(t, err)
	waitReady(t, o, idx, doc)

	require.NoError(t, o.DeleteDocument(ctx, idx, doc))

	// The document and its state disappear once deletion completes.
	deadline := time.After(5 * time.Second)
	for {
		_, err := o.Status(ctx, idx, doc)
		if errors.Is(err, pipeline.ErrStateNotFound) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("deletion did not complete")
		case <-time.After(10 * time.Millisecond):
		}
	}
	for _, err := range e.records.GetList(ctx, idx, recordstore.ListOptions{}) {
		require.NoError(t, err)
		t.Fatal("records must be gone")
	}
}

func TestDeleteDocument_WinsOverInFlightFailure(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	embedder := &stallThenFailEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	e.register(t, o, embedder)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	ctx := context.Background()

	idx, doc, err := o.Admit(ctx, request("doc-k"))
	require.NoError(t, err)

	// Switch to the deletion chain while the embed step is in flight,
	// then let the step fail terminally.
	<-embedder.started
	require.NoError(t, o.DeleteDocument(ctx, idx, doc))
	close(embedder.release)

	// The stale failure must not clobber the deletion switch: the
	// document disappears instead of freezing with a terminal error.
	waitGone(t, o, idx, doc)
}

func TestDistributed_DeleteDocumentWinsOverInFlightFailure(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewDistributed(e.docs, queue.NewMemoryFactory(), zap.NewNop(), orchestrator.DistributedOptions{
		Queue: queue.Options{Visibility: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond},
	})
	embedder := &stallThenFailEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	e.register(t, o, embedder)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	ctx := context.Background()

	idx, doc, err := o.Admit(ctx, request("doc-l"))
	require.NoError(t, err)

	<-embedder.started
	require.NoError(t, o.DeleteDocument(ctx, idx, doc))
	close(embedder.release)

	waitGone(t, o, idx, doc)
}

// waitGone polls until a document's state is deleted.
func waitGone(t *testing.T, o orchestrator.Orchestrator, index, doc string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		_, err := o.Status(context.Background(), index, doc)
		if errors.Is(err, pipeline.ErrStateNotFound) {
			return
		}
		select {
		case <-deadline:
			s, _ := o.Status(context.Background(), index, doc)
			t.Fatalf("document %s/%s was not deleted: state=%+v", index, doc, s)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDeleteIndex_Synchronous(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	e.register(t, o, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	ctx := context.Background()

	idx, doc, err := o.Admit(ctx, request("doc-e"))
	require.NoError(t, err)
	waitReady(t, o, idx, doc)

	require.NoError(t, o.DeleteIndex(ctx, idx))
	names, err := e.records.ListIndexes(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestInProcess_TerminalFailureFreezesPipeline(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{})
	e.register(t, o, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()

	req := request("doc-f")
	req.Files = []orchestrator.UploadFile{{
		Name:     "blob.bin",
		MimeType: "application/x-msdownload",
		Content:  []byte{0x00, 0xff},
	}}
	idx, doc, err := o.Admit(context.Background(), req)
	require.NoError(t, err)

	s := waitReady(t, o, idx, doc)
	assert.True(t, s.Failed())
	assert.Contains(t, s.TerminalError, "unsupported content type")

	ready, err := o.IsReady(context.Background(), idx, doc)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestInProcess_RetriesThenFailsTerminally(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewInProcess(e.docs, zap.NewNop(), orchestrator.InProcessOptions{
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	})
	embedder := &countingFailEmbedder{}
	e.register(t, o, embedder)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()

	idx, doc, err := o.Admit(context.Background(), request("doc-g"))
	require.NoError(t, err)

	s := waitReady(t, o, idx, doc)
	assert.True(t, s.Failed())
	assert.EqualValues(t, 3, embedder.calls.Load(), "first attempt plus two retries")
	assert.GreaterOrEqual(t, s.FailedAttempts, 2)
}

func TestDistributed_IngestsToCompletion(t *testing.T) {
	e := newEnv(t)
	o := orchestrator.NewDistributed(e.docs, queue.NewMemoryFactory(), zap.NewNop(), orchestrator.DistributedOptions{
		Queue: queue.Options{Visibility: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond},
	})
	e.register(t, o, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()

	idx, doc, err := o.Admit(context.Background(), request("doc-h"))
	require.NoError(t, err)

	s := waitReady(t, o, idx, doc)
	assert.True(t, s.Complete())
	assert.Equal(t, pipeline.DefaultSteps(), s.CompletedSteps)
}

func TestDistributed_ReplayedStepAcks(t *testing.T) {
	e := newEnv(t)
	factory := queue.NewMemoryFactory()
	o := orchestrator.NewDistributed(e.docs, factory, zap.NewNop(), orchestrator.DistributedOptions{
		Queue: queue.Options{Visibility: 20 * time.Millisecond, PollInterval: 5 * time.Millisecond},
	})
	e.register(t, o, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	ctx := context.Background()

	idx, doc, err := o.Admit(ctx, request("doc-i"))
	require.NoError(t, err)
	waitReady(t, o, idx, doc)

	// Crash recovery shape: the extract message is delivered again after
	// the whole pipeline already ran. It must ack without side effects.
	q, err := factory.Connect(ctx, orchestrator.StepQueueName(pipeline.StepExtract), queue.Options{})
	require.NoError(t, err)
	payload, err := pipeline.Message{Index: idx, DocumentID: doc, Step: pipeline.StepExtract}.Encode()
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, payload))

	assert.Eventually(t, func() bool {
		return q.(*queue.Memory).Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "replayed message drains")

	s, err := o.Status(ctx, idx, doc)
	require.NoError(t, err)
	assert.True(t, s.Complete())
	assert.False(t, s.Failed())
}

func TestDistributed_PoisonAfterRetriesExhausted(t *testing.T) {
	e := newEnv(t)
	factory := queue.NewMemoryFactory()
	o := orchestrator.NewDistributed(e.docs, factory, zap.NewNop(), orchestrator.DistributedOptions{
		MaxRetries: 2,
		Queue:      queue.Options{Visibility: 10 * time.Millisecond, PollInterval: 5 * time.Millisecond},
	})
	embedder := &countingFailEmbedder{}
	e.register(t, o, embedder)
	require.NoError(t, o.Start(context.Background()))
	defer o.Close()
	ctx := context.Background()

	idx, doc, err := o.Admit(ctx, request("doc-j"))
	require.NoError(t, err)

	s := waitReady(t, o, idx, doc)
	assert.True(t, s.Failed())

	poison, err := factory.Connect(ctx, orchestrator.StepQueueName(pipeline.StepGenEmbeddings)+queue.PoisonSuffix, queue.Options{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return poison.(*queue.Memory).Len() == 1
	}, 2*time.Second, 10*time.Millisecond, "exhausted message lands on the poison queue")
}

// stallThenFailEmbedder signals its first call, blocks until released,
// then fails terminally.
type stallThenFailEmbedder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallThenFailEmbedder) Dimensions() int { return 4 }
func (s *stallThenFailEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, pipeline.Terminal(errors.New("embedding model rejected input"))
}

// countingFailEmbedder always fails transiently and counts calls.
type countingFailEmbedder struct{ calls atomic.Int64 }

func (c *countingFailEmbedder) Dimensions() int { return 4 }
func (c *countingFailEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	c.calls.Add(1)
	return nil, errors.New("provider down")
}

// blockingEmbedder blocks until released, for freezing a pipeline
// mid-flight.
type blockingEmbedderT struct{ release chan struct{} }

func blockingEmbedder(release chan struct{}) ai.Embedder {
	return &blockingEmbedderT{release: release}
}

func (b *blockingEmbedderT) Dimensions() int { return 4 }
func (b *blockingEmbedderT) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}
