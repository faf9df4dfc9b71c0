package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scrypster/crmindex/internal/composer"
	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

const recordColumns = `id, owner_id, name, company, status, value, email, phone, source, notes, created_at, updated_at`

// table resolves the whitelisted table for a record type.
func table(t types.RecordType) (string, error) {
	name := t.Table()
	if name == "" {
		return "", fmt.Errorf("%w: unknown record type %q", storage.ErrInvalidInput, t)
	}
	return name, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, recordType types.RecordType) (*types.Record, error) {
	rec := &types.Record{Type: recordType}
	var value sql.NullFloat64
	if err := row.Scan(&rec.ID, &rec.OwnerID, &rec.Name, &rec.Company, &rec.Status, &value,
		&rec.Email, &rec.Phone, &rec.Source, &rec.Notes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if value.Valid {
		v := value.Float64
		rec.Value = &v
	}
	return rec, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// CreateRecord inserts a new record with its initial content fingerprint.
func (s *Store) CreateRecord(ctx context.Context, rec *types.Record) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	tbl, err := table(rec.Type)
	if err != nil {
		return err
	}

	ts := now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = ts
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	// SQLite normalises some values on write (-0 becomes 0, NaN becomes NULL),
	// so the fingerprint is computed from the row as stored.
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO `+tbl+` (`+recordColumns+`, content_hash)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')`,
			rec.ID, rec.OwnerID, rec.Name, rec.Company, rec.Status, nullFloat(rec.Value),
			rec.Email, rec.Phone, rec.Source, rec.Notes, rec.CreatedAt, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", rec.Type, err)
		}
		return refreshContentHash(ctx, tx, rec.OwnerID, rec.Ref())
	})
}

// UpdateRecord replaces a record's scalar fields and refreshes its fingerprint.
func (s *Store) UpdateRecord(ctx context.Context, rec *types.Record) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	tbl, err := table(rec.Type)
	if err != nil {
		return err
	}
	rec.UpdatedAt = now()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE `+tbl+` SET
			name = ?, company = ?, status = ?, value = ?, email = ?, phone = ?, source = ?, notes = ?, updated_at = ?
			WHERE id = ? AND owner_id = ?`,
			rec.Name, rec.Company, rec.Status, nullFloat(rec.Value), rec.Email, rec.Phone, rec.Source, rec.Notes,
			rec.UpdatedAt, rec.ID, rec.OwnerID)
		if err != nil {
			return fmt.Errorf("failed to update %s: %w", rec.Type, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrNotFound
		}
		return refreshContentHash(ctx, tx, rec.OwnerID, rec.Ref())
	})
}

// GetRecord retrieves one record.
func (s *Store) GetRecord(ctx context.Context, ownerID string, ref types.RecordRef) (*types.Record, error) {
	return getRecord(ctx, s.db, ownerID, ref)
}

func getRecord(ctx context.Context, q querier, ownerID string, ref types.RecordRef) (*types.Record, error) {
	tbl, err := table(ref.Type)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM `+tbl+` WHERE id = ? AND owner_id = ?`, ref.ID, ownerID)
	rec, err := scanRecord(row, ref.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", ref.Type, err)
	}
	return rec, nil
}

// DeleteRecord removes a record and, with it, its embedding. Activities that
// pointed at it are detached by the foreign key.
func (s *Store) DeleteRecord(ctx context.Context, ownerID string, ref types.RecordRef) error {
	tbl, err := table(ref.Type)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+tbl+` WHERE id = ? AND owner_id = ?`, ref.ID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref.Type, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListRecords lists an owner's records of one type, newest first.
func (s *Store) ListRecords(ctx context.Context, recordType types.RecordType, ownerID string, opts storage.ListOptions) (*storage.PaginatedResult[types.Record], error) {
	tbl, err := table(recordType)
	if err != nil {
		return nil, err
	}
	opts.Normalize()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tbl+` WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", tbl, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM `+tbl+`
		WHERE owner_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, ownerID, opts.Limit, opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", tbl, err)
	}
	defer rows.Close()

	items := []types.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows, recordType)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", recordType, err)
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &storage.PaginatedResult[types.Record]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// ListOwners returns every owner with at least one record.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT owner_id FROM deals
		UNION SELECT owner_id FROM contacts
		UNION SELECT owner_id FROM leads
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// refreshContentHash recomputes a record's fingerprint from its current
// fields and activities. Missing records are ignored.
func refreshContentHash(ctx context.Context, q querier, ownerID string, ref types.RecordRef) error {
	rec, err := getRecord(ctx, q, ownerID, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	acts, err := listActivities(ctx, q, ownerID, ref)
	if err != nil {
		return err
	}
	tbl, _ := table(ref.Type)
	_, err = q.ExecContext(ctx, `UPDATE `+tbl+` SET content_hash = ? WHERE id = ? AND owner_id = ?`,
		composer.ContentHash(rec, acts), ref.ID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to refresh content hash for %s: %w", ref, err)
	}
	return nil
}
