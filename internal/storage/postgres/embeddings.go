package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// missingPredicate reads the current model from $2; an empty model accepts
// vectors from any model.
const missingPredicate = `(embedding IS NULL OR embedding_hash IS NULL OR embedding_hash <> content_hash OR ($2::text <> '' AND embedding_model IS DISTINCT FROM $2::text))`

// Upsert stores a record's vector if emb.SourceHash still matches the
// record's content fingerprint.
func (s *Store) Upsert(ctx context.Context, ownerID string, ref types.RecordRef, emb types.Embedding) error {
	tbl, err := table(ref.Type)
	if err != nil {
		return err
	}
	if len(emb.Vector) == 0 {
		return fmt.Errorf("%w: embedding vector is empty", storage.ErrInvalidInput)
	}
	if emb.SourceHash == "" {
		return fmt.Errorf("%w: source hash is required", storage.ErrInvalidInput)
	}
	if emb.ComputedAt.IsZero() {
		emb.ComputedAt = now()
	}

	res, err := s.db.ExecContext(ctx, `UPDATE `+tbl+` SET embedding = $1, embedding_dimension = $2, embedding_model = $3, embedding_hash = $4, embedding_updated_at = $5 WHERE id = $6 AND owner_id = $7 AND content_hash = $4`,
		pgvector.NewVector(emb.Vector), len(emb.Vector), emb.Model, emb.SourceHash, emb.ComputedAt.UTC(),
		ref.ID, ownerID)
	if err != nil {
		return fmt.Errorf("postgres: failed to store embedding for %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.ContentHash(ctx, ownerID, ref); err != nil {
		return err
	}
	return storage.ErrStale
}

// Get returns the stored vector for a record.
func (s *Store) Get(ctx context.Context, ownerID string, ref types.RecordRef) (*types.Embedding, error) {
	tbl, err := table(ref.Type)
	if err != nil {
		return nil, err
	}

	var (
		vec   pgvector.Vector
		model sql.NullString
		hash  sql.NullString
		at    sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, `SELECT embedding, embedding_model, embedding_hash, embedding_updated_at FROM `+tbl+` WHERE id = $1 AND owner_id = $2 AND embedding IS NOT NULL`,
		ref.ID, ownerID).Scan(&vec, &model, &hash, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get embedding for %s: %w", ref, err)
	}

	values := vec.Slice()
	return &types.Embedding{
		Vector:     values,
		Dimension:  len(values),
		Model:      model.String,
		SourceHash: hash.String,
		ComputedAt: at.Time.UTC(),
	}, nil
}

// ContentHash returns the record's current content fingerprint.
func (s *Store) ContentHash(ctx context.Context, ownerID string, ref types.RecordRef) (string, error) {
	tbl, err := table(ref.Type)
	if err != nil {
		return "", err
	}
	var hash string
	err = s.db.QueryRowContext(ctx, `SELECT content_hash FROM `+tbl+` WHERE id = $1 AND owner_id = $2`, ref.ID, ownerID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: failed to read content hash for %s: %w", ref, err)
	}
	return hash, nil
}

// ListMissing returns IDs of records lacking a fresh vector from model, oldest
// first.
func (s *Store) ListMissing(ctx context.Context, recordType types.RecordType, ownerID, model string, pageSize, offset int) ([]string, error) {
	tbl, err := table(recordType)
	if err != nil {
		return nil, err
	}
	if pageSize < 1 {
		return nil, fmt.Errorf("%w: page size must be positive", storage.ErrInvalidInput)
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM `+tbl+` WHERE owner_id = $1 AND `+missingPredicate+` ORDER BY created_at, id LIMIT $3 OFFSET $4`,
		ownerID, model, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list missing %s embeddings: %w", recordType, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountMissing counts records lacking a fresh vector from model.
func (s *Store) CountMissing(ctx context.Context, recordType types.RecordType, ownerID, model string) (int, error) {
	tbl, err := table(recordType)
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tbl+` WHERE owner_id = $1 AND `+missingPredicate, ownerID, model).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: failed to count missing %s embeddings: %w", recordType, err)
	}
	return n, nil
}

// Delete clears a record's vector.
func (s *Store) Delete(ctx context.Context, ownerID string, ref types.RecordRef) error {
	tbl, err := table(ref.Type)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+tbl+` SET embedding = NULL, embedding_dimension = NULL, embedding_model = NULL, embedding_hash = NULL, embedding_updated_at = NULL WHERE id = $1 AND owner_id = $2`,
		ref.ID, ownerID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete embedding for %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Invalidate marks all of an owner's vectors of one type as stale.
func (s *Store) Invalidate(ctx context.Context, recordType types.RecordType, ownerID string) (int, error) {
	tbl, err := table(recordType)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+tbl+` SET embedding_hash = NULL WHERE owner_id = $1 AND embedding IS NOT NULL`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to invalidate %s embeddings: %w", recordType, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// NearestNeighbors ranks an owner's records of one type by cosine similarity
// to query using the pgvector distance operator. Ties are broken by newer
// records first, then by ID. Only vectors produced by model are considered
// unless model is empty.
func (s *Store) NearestNeighbors(ctx context.Context, recordType types.RecordType, ownerID, model string, query []float32, limit int) ([]storage.ScoredRecord, error) {
	tbl, err := table(recordType)
	if err != nil {
		return nil, err
	}
	if len(query) == 0 || limit < 1 {
		return []storage.ScoredRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`, 1 - (embedding <=> $1) AS similarity FROM `+tbl+` WHERE owner_id = $2 AND embedding IS NOT NULL AND embedding_dimension = $3 AND ($5::text = '' OR embedding_model = $5::text) ORDER BY embedding <=> $1, created_at DESC, id LIMIT $4`,
		pgvector.NewVector(query), ownerID, len(query), limit, model)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to search %s embeddings: %w", recordType, err)
	}
	defer rows.Close()

	hits := []storage.ScoredRecord{}
	for rows.Next() {
		var sim sql.NullFloat64
		rec, err := scanRecord(rows, recordType, &sim)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan %s: %w", recordType, err)
		}
		// Zero-norm vectors have an undefined cosine distance.
		similarity := sim.Float64
		if !sim.Valid || math.IsNaN(similarity) {
			similarity = 0
		}
		hits = append(hits, storage.ScoredRecord{Record: *rec, Similarity: similarity})
	}
	return hits, rows.Err()
}
