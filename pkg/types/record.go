package types

import (
	"fmt"
	"time"
)

// RecordType identifies one of the embeddable CRM record kinds.
type RecordType string

const (
	RecordTypeDeal    RecordType = "deal"
	RecordTypeContact RecordType = "contact"
	RecordTypeLead    RecordType = "lead"
)

// AllRecordTypes lists every embeddable record type in canonical order.
// Searches over "all" and full backfills walk types in this order.
var AllRecordTypes = []RecordType{RecordTypeDeal, RecordTypeContact, RecordTypeLead}

// recordTables whitelists the table backing each record type. Table names are
// interpolated into SQL, so only values from this map may ever be used.
var recordTables = map[RecordType]string{
	RecordTypeDeal:    "deals",
	RecordTypeContact: "contacts",
	RecordTypeLead:    "leads",
}

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	_, ok := recordTables[t]
	return ok
}

// Table returns the database table for the record type.
// It returns an empty string for unknown types.
func (t RecordType) Table() string {
	return recordTables[t]
}

// Plural returns the plural form used by the HTTP and search surfaces
// ("deals", "contacts", "leads").
func (t RecordType) Plural() string {
	return recordTables[t]
}

// ParseRecordType accepts both singular ("deal") and plural ("deals") forms.
func ParseRecordType(s string) (RecordType, error) {
	for t, table := range recordTables {
		if s == string(t) || s == table {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown record type %q", ErrInvalidInput, s)
}

// RecordRef points at a single record of a given type.
type RecordRef struct {
	Type RecordType `json:"type"`
	ID   string     `json:"id"`
}

// String renders the ref as "type:id", used in logs and state keys.
func (r RecordRef) String() string {
	return string(r.Type) + ":" + r.ID
}

// Validate checks that the ref names a known type and a non-empty ID.
func (r RecordRef) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown record type %q", ErrInvalidInput, r.Type)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}
	return nil
}

// Record is an embeddable CRM record: a deal, contact or lead.
//
// The three CRM kinds share one shape. Field meaning depends on Type:
//
//	Name    deal title, contact name, lead name
//	Status  deal stage, contact status, lead status
//	Value   deal value, lead score (unused for contacts)
type Record struct {
	Type    RecordType `json:"type"`
	ID      string     `json:"id"`
	OwnerID string     `json:"ownerId"`

	Name    string   `json:"name"`
	Company string   `json:"company,omitempty"`
	Status  string   `json:"status,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	Email   string   `json:"email,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Source  string   `json:"source,omitempty"`
	Notes   string   `json:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ref returns the record's reference.
func (r *Record) Ref() RecordRef {
	return RecordRef{Type: r.Type, ID: r.ID}
}

// Validate checks the fields every record must carry.
func (r *Record) Validate() error {
	if err := r.Ref().Validate(); err != nil {
		return err
	}
	if r.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return nil
}

// SameContent reports whether two records would compose to the same text.
// Timestamps and identity fields are ignored.
func (r *Record) SameContent(o *Record) bool {
	if r.Type != o.Type || r.Name != o.Name || r.Company != o.Company ||
		r.Status != o.Status || r.Email != o.Email || r.Phone != o.Phone ||
		r.Source != o.Source || r.Notes != o.Notes {
		return false
	}
	switch {
	case r.Value == nil && o.Value == nil:
		return true
	case r.Value == nil || o.Value == nil:
		return false
	default:
		return *r.Value == *o.Value
	}
}
