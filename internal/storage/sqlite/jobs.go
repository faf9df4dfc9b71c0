package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

const jobColumns = `id, owner_id, record_type, record_id, job_trigger, status, error, created_at, updated_at`

func scanJob(row rowScanner) (*types.EmbeddingJob, error) {
	j := &types.EmbeddingJob{}
	if err := row.Scan(&j.ID, &j.OwnerID, &j.RecordType, &j.RecordID, &j.Trigger, &j.Status, &j.Error,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return j, nil
}

// CreateJob records a new embedding job.
func (s *Store) CreateJob(ctx context.Context, job *types.EmbeddingJob) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("%w: job id is required", storage.ErrInvalidInput)
	}
	if job.Status == "" {
		job.Status = types.JobPending
	}
	ts := now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = ts
	}
	job.UpdatedAt = ts

	_, err := s.db.ExecContext(ctx, `INSERT INTO embedding_jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OwnerID, job.RecordType, job.RecordID, job.Trigger, job.Status, job.Error, job.CreatedAt.UTC(), job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert embedding job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job to a new status.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE embedding_jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, now(), id)
	if err != nil {
		return fmt.Errorf("failed to update embedding job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetJob retrieves one job.
func (s *Store) GetJob(ctx context.Context, id string) (*types.EmbeddingJob, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM embedding_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding job: %w", err)
	}
	return j, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter storage.JobFilter) ([]types.EmbeddingJob, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	limit := filter.Limit
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	query := `SELECT ` + jobColumns + ` FROM embedding_jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list embedding jobs: %w", err)
	}
	defer rows.Close()

	jobs := []types.EmbeddingJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// CountJobs counts an owner's jobs per status.
func (s *Store) CountJobs(ctx context.Context, ownerID string) (storage.JobCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM embedding_jobs WHERE owner_id = ? GROUP BY status`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count embedding jobs: %w", err)
	}
	defer rows.Close()

	counts := storage.JobCounts{}
	for rows.Next() {
		var status types.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
