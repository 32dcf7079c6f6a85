// distributed.go drives pipelines through queues, one queue per step.
//
// Any node running the same handler set can consume any step. The state
// file stays authoritative: a worker persists progress before enqueueing
// the next step, so a crash between the two at worst redelivers a step
// that acks as already complete. Messages a node cannot make progress on
// (missing handler, lost optimistic write) are nacked and redelivered;
// messages that can never succeed are acked and the failure is recorded
// in the state.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/metrics"
	"github.com/jpl-au/memd/internal/pipeline"
	"github.com/jpl-au/memd/internal/queue"
)

// QueuePrefix namespaces the per-step queues.
const QueuePrefix = "km-"

// StepQueueName returns the queue a step's work items travel on.
func StepQueueName(step string) string {
	return QueuePrefix + step
}

// DistributedOptions tunes the distributed driver.
type DistributedOptions struct {
	// MaxRetries bounds transient redeliveries per step; it is applied to
	// both the queue connections and the failure count in the state.
	MaxRetries int
	// Queue carries visibility, poll and worker settings through to the
	// queue connections. MaxRetries in it is overridden.
	Queue queue.Options
	// Metrics observes step runs when set.
	Metrics *metrics.Metrics
}

// Distributed executes pipelines via a queue fabric.
type Distributed struct {
	base
	factory queue.Factory
	qopts   queue.Options

	qmu    sync.Mutex
	queues map[string]queue.Queue
}

// NewDistributed returns an unstarted distributed orchestrator.
func NewDistributed(docs docstore.Store, factory queue.Factory, log *zap.Logger, opts DistributedOptions) *Distributed {
	qopts := opts.Queue
	if opts.MaxRetries > 0 {
		qopts.MaxRetries = opts.MaxRetries
	}
	o := &Distributed{
		base:    newBase(docs, log, opts.MaxRetries),
		factory: factory,
		qopts:   qopts,
		queues:  map[string]queue.Queue{},
	}
	o.base.metrics = opts.Metrics
	o.base.dispatch = o.dispatchQueue
	return o
}

// Start connects one queue per registered handler and begins consuming.
func (o *Distributed) Start(ctx context.Context) error {
	o.seal()
	for _, step := range o.handlerNames() {
		q, err := o.stepQueue(ctx, step)
		if err != nil {
			return err
		}
		q.OnDequeue(o.consumer(step))
		if err := q.Start(ctx); err != nil {
			return fmt.Errorf("start queue %s: %w", StepQueueName(step), err)
		}
	}
	o.log.Info("distributed orchestrator started", zap.Strings("handlers", o.handlerNames()))
	return nil
}

func (o *Distributed) Close() error {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	var first error
	for name, q := range o.queues {
		if err := q.Close(); err != nil && first == nil {
			first = fmt.Errorf("close queue %s: %w", name, err)
		}
	}
	return first
}

func (o *Distributed) stepQueue(ctx context.Context, step string) (queue.Queue, error) {
	o.qmu.Lock()
	defer o.qmu.Unlock()
	if q, ok := o.queues[step]; ok {
		return q, nil
	}
	q, err := o.factory.Connect(ctx, StepQueueName(step), o.qopts)
	if err != nil {
		return nil, fmt.Errorf("connect queue %s: %w", StepQueueName(step), err)
	}
	o.queues[step] = q
	return q, nil
}

// dispatchQueue enqueues the pipeline's next step.
func (o *Distributed) dispatchQueue(ctx context.Context, s *pipeline.State) error {
	step := s.NextStep()
	if step == "" {
		return nil
	}
	return o.enqueueStep(ctx, s, step)
}

func (o *Distributed) enqueueStep(ctx context.Context, s *pipeline.State, step string) error {
	q, err := o.stepQueue(ctx, step)
	if err != nil {
		return err
	}
	payload, err := pipeline.Message{
		Index:      s.Index,
		DocumentID: s.DocumentID,
		Step:       step,
		Attempt:    s.FailedAttempts,
	}.Encode()
	if err != nil {
		return err
	}
	if err := q.Enqueue(ctx, payload); err != nil {
		return fmt.Errorf("enqueue %s for %s/%s: %w", step, s.Index, s.DocumentID, err)
	}
	return nil
}

// consumer builds the dequeue callback for one step queue. Returning nil
// acks; returning an error redelivers and eventually poisons.
func (o *Distributed) consumer(step string) queue.Handler {
	return func(ctx context.Context, payload []byte) error {
		m, err := pipeline.DecodeMessage(payload)
		if err != nil {
			// Malformed payloads can never succeed; drop them.
			o.log.Error("dropping malformed queue message", zap.Error(err))
			return nil
		}
		log := o.log.With(
			zap.String("index", m.Index),
			zap.String("document", m.DocumentID),
			zap.String("step", step))

		s, etag, err := pipeline.LoadState(ctx, o.docs, m.Index, m.DocumentID)
		if errors.Is(err, pipeline.ErrStateNotFound) {
			// Document deleted after enqueue.
			return nil
		}
		if err != nil {
			return err
		}

		if s.Failed() {
			return nil
		}
		if s.Deleting() && step != pipeline.StepDeleteDocument && step != pipeline.StepDeleteIndex {
			// A deletion switch supersedes in-flight ingestion steps.
			log.Debug("suppressing ingestion step of deleting document")
			return nil
		}
		if s.NextStep() != step {
			if completed(s, step) {
				// At-least-once replay of work another worker finished.
				return nil
			}
			return fmt.Errorf("step %s not yet due for %s/%s", step, m.Index, m.DocumentID)
		}

		h, ok := o.handler(step)
		if !ok {
			// Another node may carry this handler; leave the failure
			// count alone and let redelivery find it.
			return fmt.Errorf("%w: %s", ErrHandlerNotRegistered, step)
		}

		start := time.Now()
		out, err := h.Process(ctx, s)
		o.metrics.ObserveStep(step, outcomeOf(err), time.Since(start).Seconds())
		if err != nil {
			return o.recordFailure(ctx, log, s, etag, step, err)
		}

		if err := out.CompleteStep(step); err != nil {
			return err
		}
		if out.Deleting() && out.Complete() {
			return nil
		}
		// Persist before advancing: the state file is the source of
		// truth and the next queue only ever lags it.
		if err := pipeline.SaveState(ctx, o.docs, out, etag); err != nil {
			return err
		}
		if next := out.NextStep(); next != "" {
			if err := o.enqueueStep(ctx, out, next); err != nil {
				return err
			}
		}
		return nil
	}
}

// recordFailure persists the failure in the state and decides the
// message's fate. Terminal errors ack with the pipeline marked failed;
// transient ones nack so the queue retries and eventually poisons.
// Failure saves are conditional on the loaded etag: a concurrent switch
// (a deletion winning over mid-ingest failure) owns the state, so the
// stale failure is not written and the message is redelivered for
// re-routing against the fresh state.
func (o *Distributed) recordFailure(ctx context.Context, log *zap.Logger, s *pipeline.State, etag, step string, procErr error) error {
	if pipeline.IsTerminal(procErr) {
		s.Fail(fmt.Errorf("step %s: %w", step, procErr))
		err := pipeline.SaveState(ctx, o.docs, s, etag)
		if errors.Is(err, pipeline.ErrStateChanged) {
			log.Debug("terminal failure save lost to a concurrent switch", zap.Error(procErr))
			return fmt.Errorf("step %s: %w", step, procErr)
		}
		if err != nil {
			return err
		}
		log.Error("step failed terminally", zap.Error(procErr))
		return nil
	}

	s.FailedAttempts++
	if s.FailedAttempts > o.maxRetries {
		s.Fail(fmt.Errorf("step %s: retries exhausted: %w", step, procErr))
	}
	if err := pipeline.SaveState(ctx, o.docs, s, etag); err != nil && !errors.Is(err, pipeline.ErrStateChanged) {
		return err
	}
	log.Warn("step failed",
		zap.Int("attempt", s.FailedAttempts),
		zap.Error(procErr))
	return fmt.Errorf("step %s: %w", step, procErr)
}

func completed(s *pipeline.State, step string) bool {
	for _, done := range s.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}

var _ Orchestrator = (*Distributed)(nil)
