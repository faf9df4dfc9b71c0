package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// missingPredicate selects records without a vector for their current content
// and, when the bound model is non-empty, records embedded by another model.
const missingPredicate = `(embedding IS NULL OR embedding_hash IS NULL OR embedding_hash <> content_hash
	OR (? <> '' AND (embedding_model IS NULL OR embedding_model <> ?)))`

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

	res, err := s.db.ExecContext(ctx, `UPDATE `+tbl+` SET
			embedding = ?, embedding_dimension = ?, embedding_model = ?, embedding_hash = ?, embedding_updated_at = ?
		WHERE id = ? AND owner_id = ? AND content_hash = ?`,
		storage.EncodeVector(emb.Vector), len(emb.Vector), emb.Model, emb.SourceHash, emb.ComputedAt.UTC(),
		ref.ID, ownerID, emb.SourceHash)
	if err != nil {
		return fmt.Errorf("failed to store embedding for %s: %w", ref, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Nothing matched: either the record is gone or its content moved on.
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
		blob      []byte
		dim       sql.NullInt64
		model     sql.NullString
		hash      sql.NullString
		updatedAt sql.NullTime
	)
	err = s.db.QueryRowContext(ctx, `SELECT embedding, embedding_dimension, embedding_model, embedding_hash, embedding_updated_at
		FROM `+tbl+` WHERE id = ? AND owner_id = ?`, ref.ID, ownerID).Scan(&blob, &dim, &model, &hash, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding for %s: %w", ref, err)
	}
	if blob == nil || !dim.Valid {
		return nil, storage.ErrNotFound
	}

	vec, err := storage.DecodeVector(blob, int(dim.Int64))
	if err != nil {
		return nil, fmt.Errorf("corrupt embedding for %s: %w", ref, err)
	}
	return &types.Embedding{
		Vector:     vec,
		Dimension:  len(vec),
		Model:      model.String,
		SourceHash: hash.String,
		ComputedAt: updatedAt.Time,
	}, nil
}

// ContentHash returns the record's current content fingerprint.
func (s *Store) ContentHash(ctx context.Context, ownerID string, ref types.RecordRef) (string, error) {
	tbl, err := table(ref.Type)
	if err != nil {
		return "", err
	}
	var hash string
	err = s.db.QueryRowContext(ctx, `SELECT content_hash FROM `+tbl+` WHERE id = ? AND owner_id = ?`, ref.ID, ownerID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read content hash for %s: %w", ref, err)
	}
	return hash, nil
}

// ListMissing returns IDs of records lacking a fresh vector from model, oldest
// first. An empty model accepts vectors from any model.
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

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM `+tbl+`
		WHERE owner_id = ? AND `+missingPredicate+`
		ORDER BY created_at, id LIMIT ? OFFSET ?`, ownerID, model, model, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list missing %s embeddings: %w", recordType, err)
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
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tbl+` WHERE owner_id = ? AND `+missingPredicate, ownerID, model, model).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count missing %s embeddings: %w", recordType, err)
	}
	return n, nil
}

// Delete clears a record's vector.
func (s *Store) Delete(ctx context.Context, ownerID string, ref types.RecordRef) error {
	tbl, err := table(ref.Type)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+tbl+` SET
			embedding = NULL, embedding_dimension = NULL, embedding_model = NULL, embedding_hash = NULL, embedding_updated_at = NULL
		WHERE id = ? AND owner_id = ?`, ref.ID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding for %s: %w", ref, err)
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
	res, err := s.db.ExecContext(ctx, `UPDATE `+tbl+` SET embedding_hash = NULL
		WHERE owner_id = ? AND embedding IS NOT NULL`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %s embeddings: %w", recordType, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// NearestNeighbors ranks an owner's records of one type by cosine similarity
// to query, considering only vectors produced by model (any model when empty).
// Ties are broken by newer records first, then by ID.
func (s *Store) NearestNeighbors(ctx context.Context, recordType types.RecordType, ownerID, model string, query []float32, limit int) ([]storage.ScoredRecord, error) {
	tbl, err := table(recordType)
	if err != nil {
		return nil, err
	}
	if len(query) == 0 || limit < 1 {
		return []storage.ScoredRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`, embedding FROM `+tbl+`
		WHERE owner_id = ? AND embedding IS NOT NULL AND embedding_dimension = ?
			AND (? = '' OR embedding_model = ?)`, ownerID, len(query), model, model)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s embeddings: %w", recordType, err)
	}
	defer rows.Close()

	candidates := []storage.ScoredRecord{}
	for rows.Next() {
		rec := types.Record{Type: recordType}
		var value sql.NullFloat64
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &rec.Company, &rec.Status, &value,
			&rec.Email, &rec.Phone, &rec.Source, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", recordType, err)
		}
		if value.Valid {
			v := value.Float64
			rec.Value = &v
		}
		vec, err := storage.DecodeVector(blob, len(query))
		if err != nil {
			continue
		}
		candidates = append(candidates, storage.ScoredRecord{
			Record:     rec,
			Similarity: storage.CosineSimilarity(query, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating embeddings: %w", err)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.After(b.Record.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}
