// Package sqlitestore provides a SQLite-backed metadata store built on the
// cgo-free modernc.org/sqlite driver.
//
// Vectors and confidence maps are stored as JSON text columns; timestamps as
// RFC3339. The database is opened with a single connection because SQLite
// serializes writers anyway.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/embedspace/model"
	"github.com/hupe1980/embedspace/store"
)

// Compile time check to ensure Store satisfies the store.Store interface.
var _ store.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
    uuid TEXT PRIMARY KEY,
    namespace TEXT NOT NULL,
    vector TEXT NOT NULL,
    source_uri TEXT NOT NULL DEFAULT '',
    inference_class TEXT NOT NULL DEFAULT '',
    ground_truth_label TEXT NOT NULL DEFAULT '',
    dataset_label TEXT NOT NULL DEFAULT '',
    confidences TEXT,
    distance_score REAL,
    generation INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_namespace ON embeddings(namespace);
CREATE INDEX IF NOT EXISTS idx_embeddings_ns_dataset ON embeddings(namespace, dataset_label);
`

// Store is a SQLite-backed metadata store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and ensures the schema.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlitestore: path required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. The callback must not hold the tx beyond return.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// Add implements store.Store.
func (s *Store) Add(ctx context.Context, namespace string, records []model.EmbeddingRecord) ([]string, error) {
	ids := make([]string, 0, len(records))
	now := time.Now().UTC()

	err := s.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO embeddings
            (uuid, namespace, vector, source_uri, inference_class, ground_truth_label, dataset_label, confidences, distance_score, generation, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			id := uuid.NewString()

			vec, err := json.Marshal(rec.Vector)
			if err != nil {
				return fmt.Errorf("encode vector: %w", err)
			}

			var conf any
			if rec.Confidences != nil {
				data, err := json.Marshal(rec.Confidences)
				if err != nil {
					return fmt.Errorf("encode confidences: %w", err)
				}
				conf = string(data)
			}

			createdAt := rec.CreatedAt
			if createdAt.IsZero() {
				createdAt = now
			}

			var score any
			if rec.Derived.DistanceScore != nil {
				score = float64(*rec.Derived.DistanceScore)
			}

			if _, err := stmt.ExecContext(ctx, id, namespace, string(vec),
				rec.SourceURI, rec.InferenceClass, rec.GroundTruthLabel, string(rec.DatasetLabel),
				conf, score, rec.Derived.Generation, createdAt.Format(time.RFC3339Nano)); err != nil {
				return err
			}

			ids = append(ids, id)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func whereClause(where store.Where) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	if where.InferenceClass != "" {
		clauses = append(clauses, "inference_class = ?")
		args = append(args, where.InferenceClass)
	}
	if where.GroundTruthLabel != "" {
		clauses = append(clauses, "ground_truth_label = ?")
		args = append(args, where.GroundTruthLabel)
	}
	if where.DatasetLabel != "" {
		clauses = append(clauses, "dataset_label = ?")
		args = append(args, string(where.DatasetLabel))
	}
	if where.Scored != nil {
		if *where.Scored {
			clauses = append(clauses, "distance_score IS NOT NULL")
		} else {
			clauses = append(clauses, "distance_score IS NULL")
		}
	}

	if len(clauses) == 0 {
		return "", nil
	}

	return " AND " + strings.Join(clauses, " AND "), args
}

func scanRecords(rows *sql.Rows) ([]model.EmbeddingRecord, error) {
	var out []model.EmbeddingRecord

	for rows.Next() {
		var (
			rec       model.EmbeddingRecord
			vec       string
			dataset   string
			conf      sql.NullString
			score     sql.NullFloat64
			createdAt string
		)

		if err := rows.Scan(&rec.UUID, &rec.Namespace, &vec, &rec.SourceURI, &rec.InferenceClass,
			&rec.GroundTruthLabel, &dataset, &conf, &score, &rec.Derived.Generation, &createdAt); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(vec), &rec.Vector); err != nil {
			return nil, fmt.Errorf("decode vector of %s: %w", rec.UUID, err)
		}
		if conf.Valid {
			if err := json.Unmarshal([]byte(conf.String), &rec.Confidences); err != nil {
				return nil, fmt.Errorf("decode confidences of %s: %w", rec.UUID, err)
			}
		}
		if score.Valid {
			f := float32(score.Float64)
			rec.Derived.DistanceScore = &f
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		rec.DatasetLabel = model.DatasetLabel(dataset)

		out = append(out, rec)
	}

	return out, rows.Err()
}

const selectCols = `uuid, namespace, vector, source_uri, inference_class, ground_truth_label, dataset_label, confidences, distance_score, generation, created_at`

// Fetch implements store.Store.
func (s *Store) Fetch(ctx context.Context, namespace string, where store.Where, limit int) ([]model.EmbeddingRecord, error) {
	clause, args := whereClause(where)

	query := `SELECT ` + selectCols + ` FROM embeddings WHERE namespace = ?` + clause + ` ORDER BY rowid`
	queryArgs := append([]any{namespace}, args...)
	if limit > 0 {
		query += ` LIMIT ?`
		queryArgs = append(queryArgs, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetByIDs implements store.Store.
func (s *Store) GetByIDs(ctx context.Context, namespace string, ids []string) ([]model.EmbeddingRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+1)
	args = append(args, namespace)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM embeddings WHERE namespace = ? AND uuid IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fetched, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.EmbeddingRecord, len(fetched))
	for _, rec := range fetched {
		byID[rec.UUID] = rec
	}

	out := make([]model.EmbeddingRecord, 0, len(fetched))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}

	return out, nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, namespace string, ids []string, where store.Where) (int, error) {
	if len(ids) == 0 && where.IsZero() {
		return 0, nil
	}

	clause, args := whereClause(where)

	query := `DELETE FROM embeddings WHERE namespace = ?`
	queryArgs := []any{namespace}

	if len(ids) > 0 {
		placeholders := strings.Repeat("?,", len(ids))
		query += ` AND uuid IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range ids {
			queryArgs = append(queryArgs, id)
		}
	}

	query += clause
	queryArgs = append(queryArgs, args...)

	res, err := s.db.ExecContext(ctx, query, queryArgs...)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}

// Count implements store.Store.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE namespace = ?`, namespace).Scan(&n)
	return n, err
}

// UpdateDerived implements store.Store.
func (s *Store) UpdateDerived(ctx context.Context, namespace string, derived map[string]model.DerivedMetadata) error {
	return s.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`UPDATE embeddings SET distance_score = ?, generation = ? WHERE namespace = ? AND uuid = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for id, d := range derived {
			var score any
			if d.DistanceScore != nil {
				score = float64(*d.DistanceScore)
			}
			if _, err := stmt.ExecContext(ctx, score, d.Generation, namespace, id); err != nil {
				return err
			}
		}

		return nil
	})
}

// Namespaces implements store.Store.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT namespace FROM embeddings ORDER BY namespace`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}

	return out, rows.Err()
}

// Reset implements store.Store.
func (s *Store) Reset(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE namespace = ?`, namespace)
	return err
}

// RawQuery implements store.Store: it executes arbitrary SQL against the
// backing database and returns generic rows.
func (s *Store) RawQuery(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// Close implements store.Store.
func (s *Store) Close() error {
	return s.db.Close()
}
