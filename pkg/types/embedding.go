package types

import "time"

// Embedding is the vector stored for one record together with the
// fingerprint of the composed text it was computed from.
type Embedding struct {
	Vector     []float32 `json:"vector"`
	Dimension  int       `json:"dimension"`
	Model      string    `json:"model"`
	SourceHash string    `json:"sourceHash"`
	ComputedAt time.Time `json:"computedAt"`
}

// JobStatus is the lifecycle status of an EmbeddingJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal jobs are never
// retried automatically.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Trigger names what caused an embedding job.
type Trigger string

const (
	TriggerRecordCreated   Trigger = "record_created"
	TriggerRecordUpdated   Trigger = "record_updated"
	TriggerActivityChanged Trigger = "activity_changed"
	TriggerBackfill        Trigger = "backfill"
)

// EmbeddingJob records one (re)embedding attempt for a record.
type EmbeddingJob struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	RecordType RecordType `json:"recordType"`
	RecordID   string     `json:"recordId"`
	Trigger    Trigger    `json:"trigger"`
	Status     JobStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Ref returns the record the job is for.
func (j *EmbeddingJob) Ref() RecordRef {
	return RecordRef{Type: j.RecordType, ID: j.RecordID}
}
