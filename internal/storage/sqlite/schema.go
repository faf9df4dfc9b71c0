package sqlite

import (
	"fmt"
	"strings"

	"github.com/scrypster/crmindex/pkg/types"
)

// recordTableDDL is shared by deals, contacts and leads. The embedding
// columns live on the record row so a record and its vector are 1:1 and
// deleting the record deletes the vector.
const recordTableDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id                   TEXT PRIMARY KEY,
	owner_id             TEXT NOT NULL,
	name                 TEXT NOT NULL,
	company              TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT '',
	value                REAL,
	email                TEXT NOT NULL DEFAULT '',
	phone                TEXT NOT NULL DEFAULT '',
	source               TEXT NOT NULL DEFAULT '',
	notes                TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMP NOT NULL,
	updated_at           TIMESTAMP NOT NULL,
	content_hash         TEXT NOT NULL DEFAULT '',
	embedding            BLOB,
	embedding_dimension  INTEGER,
	embedding_model      TEXT,
	embedding_hash       TEXT,
	embedding_updated_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_owner_created ON %[1]s(owner_id, created_at);
`

const activitiesDDL = `
CREATE TABLE IF NOT EXISTS activities (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	type        TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	deal_id     TEXT REFERENCES deals(id) ON DELETE SET NULL,
	contact_id  TEXT REFERENCES contacts(id) ON DELETE SET NULL,
	lead_id     TEXT REFERENCES leads(id) ON DELETE SET NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_deal ON activities(deal_id);
CREATE INDEX IF NOT EXISTS idx_activities_contact ON activities(contact_id);
CREATE INDEX IF NOT EXISTS idx_activities_lead ON activities(lead_id);

CREATE TABLE IF NOT EXISTS embedding_jobs (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	record_type TEXT NOT NULL,
	record_id   TEXT NOT NULL,
	job_trigger TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embedding_jobs_owner_status ON embedding_jobs(owner_id, status);
`

// Schema is the full SQLite schema, applied idempotently on open.
var Schema = buildSchema()

func buildSchema() string {
	var b strings.Builder
	for _, t := range types.AllRecordTypes {
		fmt.Fprintf(&b, recordTableDDL, t.Table())
	}
	b.WriteString(activitiesDDL)
	return b.String()
}
