// memory.go implements the in-process queue.
//
// A bounded channel provides the backpressure the in-process orchestrator
// relies on: Enqueue blocks once the buffer fills. Redelivery after a
// failed handler run is a timer re-enqueue, so visibility semantics match
// the distributed implementation closely enough to share tests.

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryBuffer is the channel capacity of each in-memory queue.
const memoryBuffer = 1024

// MemoryFactory connects in-memory queues by name. All connections to a
// name within one factory share the same queue, which is how the poison
// queue of "q" is observable by connecting to "q-poison".
type MemoryFactory struct {
	mu     sync.Mutex
	queues map[string]*Memory
}

// NewMemoryFactory returns an empty factory.
func NewMemoryFactory() *MemoryFactory {
	return &MemoryFactory{queues: map[string]*Memory{}}
}

// Connect returns the named queue, creating it on first use.
func (f *MemoryFactory) Connect(_ context.Context, name string, opts Options) (Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q, ok := f.queues[name]; ok {
		return q, nil
	}
	q := &Memory{
		name:    name,
		opts:    opts.withDefaults(),
		factory: f,
		ch:      make(chan *memMsg, memoryBuffer),
		done:    make(chan struct{}),
	}
	f.queues[name] = q
	return q, nil
}

type memMsg struct {
	payload    []byte
	deliveries int
}

// Memory is a single in-memory queue. Obtain via MemoryFactory.Connect.
type Memory struct {
	name    string
	opts    Options
	factory *MemoryFactory

	mu      sync.Mutex
	handler Handler
	started bool
	closed  bool

	ch   chan *memMsg
	done chan struct{}
	wg   sync.WaitGroup
}

func (q *Memory) Enqueue(ctx context.Context, payload []byte) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return fmt.Errorf("enqueue to %s: %w", q.name, ErrClosed)
	}

	msg := &memMsg{payload: append([]byte(nil), payload...)}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return fmt.Errorf("enqueue to %s: %w", q.name, ErrClosed)
	}
}

func (q *Memory) OnDequeue(fn Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = fn
}

func (q *Memory) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("start %s: %w", q.name, ErrClosed)
	}
	if q.handler == nil {
		return fmt.Errorf("start %s: %w", q.name, ErrNoHandler)
	}
	if q.started {
		return nil
	}
	q.started = true

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.consume(ctx)
	}
	return nil
}

func (q *Memory) consume(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case msg := <-q.ch:
			q.deliver(ctx, msg)
		}
	}
}

func (q *Memory) deliver(ctx context.Context, msg *memMsg) {
	err := q.handler(ctx, msg.payload)
	if err == nil {
		return
	}

	msg.deliveries++
	if exhausted(msg.deliveries, q.opts.MaxRetries) {
		q.poison(ctx, msg.payload)
		return
	}
	// Redeliver after the lock window. The timer goroutine gives up if
	// the queue closes first.
	time.AfterFunc(q.opts.Visibility, func() {
		select {
		case q.ch <- msg:
		case <-q.done:
		}
	})
}

func (q *Memory) poison(ctx context.Context, payload []byte) {
	pq, err := q.factory.Connect(ctx, q.name+PoisonSuffix, q.opts)
	if err != nil {
		return
	}
	_ = pq.Enqueue(ctx, payload)
}

// Len returns the number of immediately deliverable messages. Redelivery
// timers in flight are not counted.
func (q *Memory) Len() int {
	return len(q.ch)
}

func (q *Memory) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	return nil
}
