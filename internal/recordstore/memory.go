// memory.go implements the in-memory record store.
//
// Used by tests and embedded (serverless) deployments. Everything lives
// behind one RWMutex; records are cloned on the way in and out so callers
// can never alias store-internal state.

package recordstore

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/jpl-au/memd/internal/filters"
)

// Memory is a Store keeping all records in process memory.
type Memory struct {
	mu      sync.RWMutex
	indexes map[string]*memIndex
}

type memIndex struct {
	vectorSize int
	records    map[string]Record
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{indexes: map[string]*memIndex{}}
}

func (m *Memory) CreateIndex(_ context.Context, name string, vectorSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[name]; ok {
		if idx.vectorSize != vectorSize {
			return fmt.Errorf("create index %s: %w", name, ErrVectorSize)
		}
		return nil
	}
	m.indexes[name] = &memIndex{vectorSize: vectorSize, records: map[string]Record{}}
	return nil
}

func (m *Memory) ListIndexes(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.indexes))
	for name := range m.indexes {
		names = append(names, name)
	}
	return names, nil
}

func (m *Memory) DeleteIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, name)
	return nil
}

func (m *Memory) Upsert(_ context.Context, index string, rec Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.indexes[index]
	if !ok {
		// Implicit creation on first write, sized by the incoming vector.
		idx = &memIndex{vectorSize: len(rec.Vector), records: map[string]Record{}}
		m.indexes[index] = idx
	}
	if err := validateVector(rec.Vector, idx.vectorSize); err != nil {
		return "", fmt.Errorf("upsert into %s: %w", index, err)
	}
	idx.records[rec.ID] = cloneRecord(rec)
	return rec.ID, nil
}

func (m *Memory) GetSimilar(ctx context.Context, index string, query []float32, opts SearchOptions) ([]Match, error) {
	m.mu.RLock()
	idx, ok := m.indexes[index]
	if !ok {
		m.mu.RUnlock()
		return nil, fmt.Errorf("search %s: %w", index, ErrIndexNotFound)
	}
	if err := validateVector(query, idx.vectorSize); err != nil {
		m.mu.RUnlock()
		return nil, fmt.Errorf("search %s: %w", index, err)
	}

	var matches []Match
	for _, rec := range idx.records {
		if err := ctx.Err(); err != nil {
			m.mu.RUnlock()
			return nil, err
		}
		if !filters.Match(opts.Filters, rec.Tags) {
			continue
		}
		score := CosineScore(query, rec.Vector)
		if score < opts.MinRelevance {
			continue
		}
		matches = append(matches, Match{Record: cloneRecord(rec), Score: score})
	}
	m.mu.RUnlock()

	sortMatches(matches)
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if !opts.WithEmbeddings {
		for i := range matches {
			matches[i].Vector = nil
		}
	}
	return matches, nil
}

func (m *Memory) GetList(ctx context.Context, index string, opts ListOptions) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		m.mu.RLock()
		idx, ok := m.indexes[index]
		if !ok {
			m.mu.RUnlock()
			yield(Record{}, fmt.Errorf("list %s: %w", index, ErrIndexNotFound))
			return
		}
		var out []Record
		for _, rec := range idx.records {
			if filters.Match(opts.Filters, rec.Tags) {
				out = append(out, cloneRecord(rec))
			}
		}
		m.mu.RUnlock()

		sortRecords(out)
		if opts.Limit > 0 && len(out) > opts.Limit {
			out = out[:opts.Limit]
		}
		for _, rec := range out {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			if !opts.WithEmbeddings {
				rec.Vector = nil
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (m *Memory) Delete(_ context.Context, index string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.indexes[index]; ok {
		delete(idx.records, rec.ID)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func cloneRecord(rec Record) Record {
	out := rec
	out.Vector = append([]float32(nil), rec.Vector...)
	out.Tags = rec.Tags.Clone()
	out.Payload = make(map[string]any, len(rec.Payload))
	for k, v := range rec.Payload {
		out.Payload[k] = v
	}
	return out
}
