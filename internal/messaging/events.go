// Package messaging carries CRM change events over NSQ so that the process
// serving CRUD traffic and the process running the embedding workers can be
// deployed separately.
package messaging

import (
	"fmt"
	"time"

	"github.com/scrypster/crmindex/pkg/types"
)

// DefaultTopic is the NSQ topic change events are published on.
const DefaultTopic = "crm.record.changed"

// EventType names a change event.
type EventType string

const (
	EventRecordCreated   EventType = "record.created"
	EventRecordUpdated   EventType = "record.updated"
	EventRecordDeleted   EventType = "record.deleted"
	EventActivityChanged EventType = "activity.changed"
)

// Event is the JSON body of a change message.
//
// For activity.changed, Record is the activity's current parent and
// PreviousParent the parent it was moved away from, if any. Either may be
// empty but not both.
type Event struct {
	Type           EventType        `json:"type"`
	OwnerID        string           `json:"ownerId"`
	Record         types.RecordRef  `json:"record"`
	PreviousParent *types.RecordRef `json:"previousParent,omitempty"`
	OccurredAt     time.Time        `json:"occurredAt"`
}

// Validate checks that the event can be turned into a trigger.
func (e *Event) Validate() error {
	if e.OwnerID == "" {
		return fmt.Errorf("%w: event has no owner id", types.ErrInvalidInput)
	}
	switch e.Type {
	case EventRecordCreated, EventRecordUpdated, EventRecordDeleted:
		return e.Record.Validate()
	case EventActivityChanged:
		if len(e.parents()) == 0 {
			return fmt.Errorf("%w: activity event has no parent", types.ErrInvalidInput)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown event type %q", types.ErrInvalidInput, e.Type)
	}
}

// parents returns the valid parent refs of an activity event.
func (e *Event) parents() []types.RecordRef {
	var refs []types.RecordRef
	if e.Record.Validate() == nil {
		refs = append(refs, e.Record)
	}
	if e.PreviousParent != nil && e.PreviousParent.Validate() == nil {
		refs = append(refs, *e.PreviousParent)
	}
	return refs
}
