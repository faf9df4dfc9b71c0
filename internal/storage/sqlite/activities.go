package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

const activityColumns = `id, owner_id, type, subject, description, deal_id, contact_id, lead_id, created_at, updated_at`

func scanActivity(row rowScanner) (*types.Activity, error) {
	a := &types.Activity{}
	var dealID, contactID, leadID sql.NullString
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Type, &a.Subject, &a.Description,
		&dealID, &contactID, &leadID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.DealID, a.ContactID, a.LeadID = dealID.String, contactID.String, leadID.String
	return a, nil
}

// parentColumn maps a record type to its activities foreign-key column.
func parentColumn(t types.RecordType) string {
	switch t {
	case types.RecordTypeDeal:
		return "deal_id"
	case types.RecordTypeContact:
		return "contact_id"
	case types.RecordTypeLead:
		return "lead_id"
	}
	return ""
}

// checkParent verifies the activity's parent exists for the same owner.
func checkParent(ctx context.Context, q querier, a *types.Activity) error {
	ref, ok := a.ParentRef()
	if !ok {
		return nil
	}
	tbl, err := table(ref.Type)
	if err != nil {
		return err
	}
	var one int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM `+tbl+` WHERE id = ? AND owner_id = ?`, ref.ID, a.OwnerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: parent %s", storage.ErrNotFound, ref)
	}
	return err
}

// CreateActivity inserts an activity and refreshes its parent's fingerprint.
func (s *Store) CreateActivity(ctx context.Context, a *types.Activity) error {
	if a == nil {
		return storage.ErrInvalidInput
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	ts := now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = ts
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = ts

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkParent(ctx, tx, a); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO activities (`+activityColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.OwnerID, a.Type, a.Subject, a.Description,
			nullString(a.DealID), nullString(a.ContactID), nullString(a.LeadID), a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		if ref, ok := a.ParentRef(); ok {
			return refreshContentHash(ctx, tx, a.OwnerID, ref)
		}
		return nil
	})
}

// UpdateActivity replaces an activity and refreshes the fingerprint of both
// its previous and its new parent.
func (s *Store) UpdateActivity(ctx context.Context, a *types.Activity) (*types.Activity, error) {
	if a == nil {
		return nil, storage.ErrInvalidInput
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	a.UpdatedAt = now()

	var previous *types.Activity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		previous, err = getActivity(ctx, tx, a.OwnerID, a.ID)
		if err != nil {
			return err
		}
		if err := checkParent(ctx, tx, a); err != nil {
			return err
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = previous.CreatedAt
		}
		a.CreatedAt = a.CreatedAt.UTC()

		_, err = tx.ExecContext(ctx, `UPDATE activities SET
			type = ?, subject = ?, description = ?, deal_id = ?, contact_id = ?, lead_id = ?, created_at = ?, updated_at = ?
			WHERE id = ? AND owner_id = ?`,
			a.Type, a.Subject, a.Description,
			nullString(a.DealID), nullString(a.ContactID), nullString(a.LeadID), a.CreatedAt, a.UpdatedAt,
			a.ID, a.OwnerID)
		if err != nil {
			return fmt.Errorf("failed to update activity: %w", err)
		}
		return refreshParents(ctx, tx, a.OwnerID, previous, a)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// GetActivity retrieves one activity.
func (s *Store) GetActivity(ctx context.Context, ownerID, id string) (*types.Activity, error) {
	return getActivity(ctx, s.db, ownerID, id)
}

func getActivity(ctx context.Context, q querier, ownerID, id string) (*types.Activity, error) {
	row := q.QueryRowContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// DeleteActivity removes an activity, refreshes its parent and returns it.
func (s *Store) DeleteActivity(ctx context.Context, ownerID, id string) (*types.Activity, error) {
	var deleted *types.Activity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, err = getActivity(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM activities WHERE id = ? AND owner_id = ?`, id, ownerID); err != nil {
			return fmt.Errorf("failed to delete activity: %w", err)
		}
		return refreshParents(ctx, tx, ownerID, deleted)
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ListActivities returns the activities attached to a record, newest first.
func (s *Store) ListActivities(ctx context.Context, ownerID string, ref types.RecordRef) ([]types.Activity, error) {
	return listActivities(ctx, s.db, ownerID, ref)
}

func listActivities(ctx context.Context, q querier, ownerID string, ref types.RecordRef) ([]types.Activity, error) {
	col := parentColumn(ref.Type)
	if col == "" {
		return nil, fmt.Errorf("%w: unknown record type %q", storage.ErrInvalidInput, ref.Type)
	}
	rows, err := q.QueryContext(ctx, `SELECT `+activityColumns+` FROM activities
		WHERE owner_id = ? AND `+col+` = ? ORDER BY created_at DESC, id`, ownerID, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var acts []types.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		acts = append(acts, *a)
	}
	return acts, rows.Err()
}

// refreshParents refreshes the fingerprint of every distinct parent among
// the given activity versions.
func refreshParents(ctx context.Context, q querier, ownerID string, versions ...*types.Activity) error {
	seen := make(map[types.RecordRef]bool)
	for _, v := range versions {
		ref, ok := v.ParentRef()
		if !ok || seen[ref] {
			continue
		}
		seen[ref] = true
		if err := refreshContentHash(ctx, q, ownerID, ref); err != nil {
			return err
		}
	}
	return nil
}
