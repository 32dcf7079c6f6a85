// inprocess.go drives pipelines on goroutines inside the service.
//
// One worker per document at a time: a keyed lock serializes runs so the
// state file never has two writers. A weighted semaphore bounds total
// concurrency. Transient step failures retry with exponential backoff up
// to the retry budget, then the pipeline is marked terminally failed.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/metrics"
	"github.com/jpl-au/memd/internal/pipeline"
)

// InProcessOptions tunes the in-process driver.
type InProcessOptions struct {
	// Workers bounds concurrently running pipelines. 0 means GOMAXPROCS.
	Workers int
	// MaxRetries bounds transient retries per step.
	MaxRetries int
	// RetryInterval is the initial backoff between retries.
	RetryInterval time.Duration
	// Metrics observes step runs when set.
	Metrics *metrics.Metrics
}

// InProcess executes pipelines locally.
type InProcess struct {
	base
	sem      *semaphore.Weighted
	docLocks keyedMutex
	retryIv  time.Duration

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewInProcess returns an unstarted in-process orchestrator.
func NewInProcess(docs docstore.Store, log *zap.Logger, opts InProcessOptions) *InProcess {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	retryIv := opts.RetryInterval
	if retryIv <= 0 {
		retryIv = 500 * time.Millisecond
	}
	o := &InProcess{
		base:     newBase(docs, log, opts.MaxRetries),
		sem:      semaphore.NewWeighted(int64(workers)),
		docLocks: newKeyedMutex(),
		retryIv:  retryIv,
	}
	o.base.metrics = opts.Metrics
	o.base.dispatch = o.dispatchLocal
	return o
}

func (o *InProcess) Start(ctx context.Context) error {
	o.seal()
	if o.runCtx == nil {
		o.runCtx, o.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	o.log.Info("in-process orchestrator started", zap.Strings("handlers", o.handlerNames()))
	return nil
}

func (o *InProcess) Close() error {
	if o.runCancel != nil {
		o.runCancel()
	}
	o.wg.Wait()
	return nil
}

// dispatchLocal schedules a pipeline run. The semaphore is acquired
// inside the goroutine so admission never blocks on worker capacity.
func (o *InProcess) dispatchLocal(_ context.Context, s *pipeline.State) error {
	if o.runCtx == nil {
		return fmt.Errorf("dispatch %s/%s: %w", s.Index, s.DocumentID, ErrSealed)
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sem.Acquire(o.runCtx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)

		unlock := o.docLocks.lock(s.Index + "/" + s.DocumentID)
		defer unlock()

		if err := o.runPipeline(o.runCtx, s.Index, s.DocumentID); err != nil {
			o.log.Error("pipeline failed",
				zap.String("index", s.Index),
				zap.String("document", s.DocumentID),
				zap.Error(err))
		}
	}()
	return nil
}

// runPipeline loads the state and executes remaining steps until the
// pipeline completes, fails terminally, or the context is cancelled. The
// state is reloaded per step so a concurrent deletion switch is honored.
func (o *InProcess) runPipeline(ctx context.Context, indexName, documentID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, etag, err := pipeline.LoadState(ctx, o.docs, indexName, documentID)
		if errors.Is(err, pipeline.ErrStateNotFound) {
			// Deleted underneath us.
			return nil
		}
		if err != nil {
			return err
		}
		if s.Failed() || s.Complete() {
			return nil
		}

		step := s.NextStep()
		h, ok := o.handler(step)
		if !ok {
			s.Fail(fmt.Errorf("%w: %s", ErrHandlerNotRegistered, step))
			if err := pipeline.SaveState(ctx, o.docs, s, etag); err != nil {
				if errors.Is(err, pipeline.ErrStateChanged) {
					continue
				}
				return err
			}
			return nil
		}

		start := time.Now()
		out, err := o.processWithRetry(ctx, h, s)
		o.metrics.ObserveStep(step, outcomeOf(err), time.Since(start).Seconds())
		if err != nil {
			s.Fail(err)
			saveErr := pipeline.SaveState(ctx, o.docs, s, etag)
			if errors.Is(saveErr, pipeline.ErrStateChanged) {
				// The state was switched underneath the failing step,
				// typically to the deletion chain. That switch owns the
				// state now; reload and run whatever it says instead of
				// overwriting it with the stale failure.
				continue
			}
			if saveErr != nil {
				return saveErr
			}
			return err
		}
		s = out

		if err := s.CompleteStep(step); err != nil {
			return err
		}
		if s.Deleting() && s.Complete() {
			// The deletion handler removed the document; writing the
			// state back would resurrect it.
			return nil
		}
		if err := pipeline.SaveState(ctx, o.docs, s, etag); err != nil {
			if errors.Is(err, pipeline.ErrStateChanged) {
				continue
			}
			return err
		}
	}
}

// processWithRetry runs one step with exponential backoff on transient
// errors. Terminal errors and exhausted budgets abort the pipeline.
func (o *InProcess) processWithRetry(ctx context.Context, h Handler, s *pipeline.State) (*pipeline.State, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.retryIv
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.maxRetries)), ctx)

	var out *pipeline.State
	op := func() error {
		var err error
		out, err = h.Process(ctx, s)
		if err == nil {
			return nil
		}
		if pipeline.IsTerminal(err) {
			return backoff.Permanent(err)
		}
		s.FailedAttempts++
		o.log.Warn("step failed, retrying",
			zap.String("index", s.Index),
			zap.String("document", s.DocumentID),
			zap.String("step", h.Name()),
			zap.Int("attempt", s.FailedAttempts),
			zap.Error(err))
		return err
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("step %s: %w", h.Name(), err)
	}
	return out, nil
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{locks: map[string]*lockEntry{}}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

var _ Orchestrator = (*InProcess)(nil)
