// sqlite.go implements the SQLite-backed record store.
//
// Tags are denormalized into record_tags so DNF filters push down as SQL:
// each conjunction becomes a chain of EXISTS subqueries ANDed together,
// and conjunctions are ORed. Similarity is computed in Go over the rows
// the pushdown admits; SQLite narrows the candidate set, it does not rank.
//
// Design: WAL mode, single writer. Upserts run in a transaction that
// replaces the record row and rewrites its tag rows, so readers never see
// a record with stale tags.

package recordstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/jpl-au/memd/internal/filters"
	"github.com/jpl-au/memd/internal/tags"
	_ "modernc.org/sqlite"
)

// SQLite is a Store persisting records in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a record store database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if err := execSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init record store schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) CreateIndex(ctx context.Context, name string, vectorSize int) error {
	var existing int
	err := s.db.QueryRowContext(ctx, `SELECT vector_size FROM indexes WHERE name = ?`, name).Scan(&existing)
	switch {
	case err == nil:
		if existing != vectorSize {
			return fmt.Errorf("create index %s: %w", name, ErrVectorSize)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("create index %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO indexes (name, vector_size, created_at) VALUES (?, ?, ?)`,
		name, vectorSize, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

func (s *SQLite) ListIndexes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM indexes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan index name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLite) DeleteIndex(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM record_tags WHERE index_name = ?`,
		`DELETE FROM records WHERE index_name = ?`,
		`DELETE FROM indexes WHERE name = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
			return fmt.Errorf("delete index %s: %w", name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Upsert(ctx context.Context, index string, rec Record) (string, error) {
	size, err := s.vectorSize(ctx, index)
	if err == nil {
		if verr := validateVector(rec.Vector, size); verr != nil {
			return "", fmt.Errorf("upsert into %s: %w", index, verr)
		}
	} else if errors.Is(err, sql.ErrNoRows) {
		// Implicit index creation on first write.
		if cerr := s.CreateIndex(ctx, index, len(rec.Vector)); cerr != nil {
			return "", cerr
		}
	} else {
		return "", fmt.Errorf("upsert into %s: %w", index, err)
	}

	tagsJSON, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("upsert into %s: %w", index, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (index_name, id, document_id, vector, tags, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		index, rec.ID, rec.DocumentID(), encodeVector(rec.Vector), string(tagsJSON), string(payloadJSON), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_tags WHERE index_name = ? AND record_id = ?`, index, rec.ID); err != nil {
		return "", fmt.Errorf("replace tags for %s: %w", rec.ID, err)
	}
	for _, key := range rec.Tags.Keys() {
		for _, value := range rec.Tags[key] {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO record_tags (index_name, record_id, key, value) VALUES (?, ?, ?, ?)`,
				index, rec.ID, key, value); err != nil {
				return "", fmt.Errorf("insert tag %s: %w", key, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("upsert into %s: %w", index, err)
	}
	return rec.ID, nil
}

func (s *SQLite) GetSimilar(ctx context.Context, index string, query []float32, opts SearchOptions) ([]Match, error) {
	size, err := s.vectorSize(ctx, index)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("search %s: %w", index, ErrIndexNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	if err := validateVector(query, size); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}

	where, args := filterSQL(index, opts.Filters)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, tags, payload FROM records r WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		score := CosineScore(query, rec.Vector)
		if score < opts.MinRelevance {
			continue
		}
		matches = append(matches, Match{Record: rec, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}

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

func (s *SQLite) GetList(ctx context.Context, index string, opts ListOptions) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if _, err := s.vectorSize(ctx, index); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = ErrIndexNotFound
			}
			yield(Record{}, fmt.Errorf("list %s: %w", index, err))
			return
		}

		where, args := filterSQL(index, opts.Filters)
		q := `SELECT id, vector, tags, payload FROM records r WHERE ` + where +
			` ORDER BY document_id, id`
		if opts.Limit > 0 {
			q += fmt.Sprintf(` LIMIT %d`, opts.Limit)
		}
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			yield(Record{}, fmt.Errorf("list %s: %w", index, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
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
		if err := rows.Err(); err != nil {
			yield(Record{}, fmt.Errorf("list %s: %w", index, err))
		}
	}
}

func (s *SQLite) Delete(ctx context.Context, index string, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", rec.ID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_tags WHERE index_name = ? AND record_id = ?`, index, rec.ID); err != nil {
		return fmt.Errorf("delete record tags %s: %w", rec.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE index_name = ? AND id = ?`, index, rec.ID); err != nil {
		return fmt.Errorf("delete record %s: %w", rec.ID, err)
	}
	return tx.Commit()
}

func (s *SQLite) vectorSize(ctx context.Context, index string) (int, error) {
	var size int
	err := s.db.QueryRowContext(ctx, `SELECT vector_size FROM indexes WHERE name = ?`, index).Scan(&size)
	return size, err
}

// filterSQL renders a DNF filter as a WHERE fragment over records r.
// Each conjunction pair becomes an EXISTS against record_tags; pushdown
// means limits never underfill, the database sees the whole predicate.
func filterSQL(index string, fs []*filters.Filter) (string, []any) {
	where := `r.index_name = ?`
	args := []any{index}
	if filters.Empty(fs) {
		return where, args
	}

	var disjuncts []string
	for _, f := range fs {
		var conds []string
		for _, p := range f.Pairs() {
			conds = append(conds,
				`EXISTS (SELECT 1 FROM record_tags t WHERE t.index_name = r.index_name AND t.record_id = r.id AND t.key = ? AND t.value = ?)`)
			args = append(args, p.Key, p.Value)
		}
		disjuncts = append(disjuncts, `(`+strings.Join(conds, ` AND `)+`)`)
	}
	return where + ` AND (` + strings.Join(disjuncts, ` OR `) + `)`, args
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec         Record
		blob        []byte
		tagsJSON    string
		payloadJSON string
	)
	if err := rows.Scan(&rec.ID, &blob, &tagsJSON, &payloadJSON); err != nil {
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Vector = decodeVector(blob)
	rec.Tags = tags.New()
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return Record{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return Record{}, fmt.Errorf("decode payload: %w", err)
	}
	return rec, nil
}

// encodeVector packs float32s little-endian, 4 bytes each.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
