package types

import (
	"fmt"
	"time"
)

// Activity is a logged interaction (call, email, meeting, note) attached to at
// most one deal, contact or lead. Activities are never embedded on their own;
// they feed into the composed text of their parent record.
type Activity struct {
	ID          string `json:"id"`
	OwnerID     string `json:"ownerId"`
	Type        string `json:"type"`
	Subject     string `json:"subject,omitempty"`
	Description string `json:"description,omitempty"`

	DealID    string `json:"dealId,omitempty"`
	ContactID string `json:"contactId,omitempty"`
	LeadID    string `json:"leadId,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ParentRef returns the record the activity belongs to, if any.
func (a *Activity) ParentRef() (RecordRef, bool) {
	switch {
	case a.DealID != "":
		return RecordRef{Type: RecordTypeDeal, ID: a.DealID}, true
	case a.ContactID != "":
		return RecordRef{Type: RecordTypeContact, ID: a.ContactID}, true
	case a.LeadID != "":
		return RecordRef{Type: RecordTypeLead, ID: a.LeadID}, true
	}
	return RecordRef{}, false
}

// SetParent points the activity at ref, clearing any previous parent.
// A zero ref detaches the activity.
func (a *Activity) SetParent(ref RecordRef) {
	a.DealID, a.ContactID, a.LeadID = "", "", ""
	switch ref.Type {
	case RecordTypeDeal:
		a.DealID = ref.ID
	case RecordTypeContact:
		a.ContactID = ref.ID
	case RecordTypeLead:
		a.LeadID = ref.ID
	}
}

// Validate enforces the zero-or-one parent rule and required fields.
func (a *Activity) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: activity id is required", ErrInvalidInput)
	}
	if a.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if a.Type == "" {
		return fmt.Errorf("%w: activity type is required", ErrInvalidInput)
	}
	parents := 0
	for _, id := range []string{a.DealID, a.ContactID, a.LeadID} {
		if id != "" {
			parents++
		}
	}
	if parents > 1 {
		return fmt.Errorf("%w: activity may reference at most one parent record", ErrInvalidInput)
	}
	return nil
}
