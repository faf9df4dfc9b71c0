// Package crm is the write path for deals, contacts, leads and activities.
//
// Every mutation is written through the store first and then reported to a
// Notifier on a best-effort basis. The result of a CRUD call never depends on
// whether the embedding work it triggers succeeds.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/scrypster/crmindex/internal/storage"
	"github.com/scrypster/crmindex/pkg/types"
)

// Notifier receives content changes that affect embeddings. The sync engine
// implements it directly; the NSQ publisher implements it for deployments
// where the embedding workers run in another process.
type Notifier interface {
	RecordCreated(ctx context.Context, ownerID string, ref types.RecordRef) bool
	RecordUpdated(ctx context.Context, ownerID string, ref types.RecordRef) bool
	RecordDeleted(ctx context.Context, ownerID string, ref types.RecordRef)
	ActivityChanged(ctx context.Context, ownerID string, parents ...types.RecordRef)
}

// Store is the persistence the service writes through.
type Store interface {
	storage.RecordStore
	storage.ActivityStore
}

// RecordInput is the payload for creating a record.
type RecordInput struct {
	ID      string   `json:"id,omitempty" yaml:"id" validate:"omitempty,max=128"`
	Name    string   `json:"name" yaml:"name" validate:"required,max=500"`
	Company string   `json:"company,omitempty" yaml:"company" validate:"max=500"`
	Status  string   `json:"status,omitempty" yaml:"status" validate:"max=100"`
	Value   *float64 `json:"value,omitempty" yaml:"value"`
	Email   string   `json:"email,omitempty" yaml:"email" validate:"omitempty,email"`
	Phone   string   `json:"phone,omitempty" yaml:"phone" validate:"max=64"`
	Source  string   `json:"source,omitempty" yaml:"source" validate:"max=200"`
	Notes   string   `json:"notes,omitempty" yaml:"notes" validate:"max=20000"`

	// CreatedAt is honoured for imports; zero means now.
	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"created_at"`
}

// RecordPatch updates the fields that are set. Value distinguishes an
// absent field from an explicit null, which clears the value.
type RecordPatch struct {
	Name    *string       `json:"name,omitempty" validate:"omitempty,min=1,max=500"`
	Company *string       `json:"company,omitempty" validate:"omitempty,max=500"`
	Status  *string       `json:"status,omitempty" validate:"omitempty,max=100"`
	Value   OptionalFloat `json:"value"`
	Email   *string       `json:"email,omitempty" validate:"omitempty,max=320"`
	Phone   *string       `json:"phone,omitempty" validate:"omitempty,max=64"`
	Source  *string       `json:"source,omitempty" validate:"omitempty,max=200"`
	Notes   *string       `json:"notes,omitempty" validate:"omitempty,max=20000"`
}

// OptionalFloat is a patchable nullable number. Set is true when the field
// was present, even as null.
type OptionalFloat struct {
	Set   bool
	Value *float64
}

// SetFloat returns a present OptionalFloat holding v.
func SetFloat(v float64) OptionalFloat {
	return OptionalFloat{Set: true, Value: &v}
}

// ClearFloat returns a present null OptionalFloat.
func ClearFloat() OptionalFloat {
	return OptionalFloat{Set: true}
}

// UnmarshalJSON is only called when the field is present.
func (o *OptionalFloat) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Value = nil
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o OptionalFloat) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

// ActivityInput is the payload for creating an activity. At most one parent
// may be set.
type ActivityInput struct {
	ID          string `json:"id,omitempty" yaml:"id" validate:"omitempty,max=128"`
	Type        string `json:"type" yaml:"type" validate:"required,max=50"`
	Subject     string `json:"subject,omitempty" yaml:"subject" validate:"max=500"`
	Description string `json:"description,omitempty" yaml:"description" validate:"max=20000"`
	DealID      string `json:"dealId,omitempty" yaml:"deal_id"`
	ContactID   string `json:"contactId,omitempty" yaml:"contact_id"`
	LeadID      string `json:"leadId,omitempty" yaml:"lead_id"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"created_at"`
}

// ActivityPatch updates the fields that are set. Setting any of the parent
// IDs replaces the parent; setting all of them to "" detaches the activity.
type ActivityPatch struct {
	Type        *string `json:"type,omitempty" validate:"omitempty,min=1,max=50"`
	Subject     *string `json:"subject,omitempty" validate:"omitempty,max=500"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=20000"`
	DealID      *string `json:"dealId,omitempty"`
	ContactID   *string `json:"contactId,omitempty"`
	LeadID      *string `json:"leadId,omitempty"`
}

// Service implements the CRM write path.
type Service struct {
	store    Store
	notifier Notifier
	validate *validator.Validate
}

// NewService creates a service. A nil notifier disables change notification.
func NewService(store Store, notifier Notifier) *Service {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		validate: validator.New(),
	}
}

// CreateRecord validates and inserts a record, then schedules its embedding.
func (s *Service) CreateRecord(ctx context.Context, ownerID string, recordType types.RecordType, in RecordInput) (*types.Record, error) {
	if err := s.check(ownerID, in); err != nil {
		return nil, err
	}
	if !recordType.Valid() {
		return nil, fmt.Errorf("%w: unknown record type %q", types.ErrInvalidInput, recordType)
	}
	if recordType == types.RecordTypeContact && in.Value != nil {
		return nil, fmt.Errorf("%w: contacts have no value", types.ErrInvalidInput)
	}
	value, err := checkValue(in.Value)
	if err != nil {
		return nil, err
	}

	rec := &types.Record{
		Type:      recordType,
		ID:        in.ID,
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(in.Name),
		Company:   in.Company,
		Status:    in.Status,
		Value:     value,
		Email:     in.Email,
		Phone:     in.Phone,
		Source:    in.Source,
		Notes:     in.Notes,
		CreatedAt: in.CreatedAt,
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", recordType, err)
	}

	s.notifier.RecordCreated(ctx, ownerID, rec.Ref())
	log.Debug().Str("owner_id", ownerID).Str("record", rec.Ref().String()).Msg("record created")
	return rec, nil
}

// GetRecord returns one record.
func (s *Service) GetRecord(ctx context.Context, ownerID string, ref types.RecordRef) (*types.Record, error) {
	if err := checkRef(ownerID, ref); err != nil {
		return nil, err
	}
	return s.store.GetRecord(ctx, ownerID, ref)
}

// ListRecords lists an owner's records of one type, newest first.
func (s *Service) ListRecords(ctx context.Context, ownerID string, recordType types.RecordType, opts storage.ListOptions) (*storage.PaginatedResult[types.Record], error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", types.ErrInvalidInput)
	}
	if !recordType.Valid() {
		return nil, fmt.Errorf("%w: unknown record type %q", types.ErrInvalidInput, recordType)
	}
	return s.store.ListRecords(ctx, recordType, ownerID, opts)
}

// UpdateRecord applies patch. Re-embedding is only scheduled when a field
// that feeds the composed text actually changed.
func (s *Service) UpdateRecord(ctx context.Context, ownerID string, ref types.RecordRef, patch RecordPatch) (*types.Record, error) {
	if err := checkRef(ownerID, ref); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	if patch.Email != nil && *patch.Email != "" {
		if err := s.validate.Var(*patch.Email, "email"); err != nil {
			return nil, fmt.Errorf("%w: invalid email", types.ErrInvalidInput)
		}
	}

	current, err := s.store.GetRecord(ctx, ownerID, ref)
	if err != nil {
		return nil, err
	}
	if ref.Type == types.RecordTypeContact && patch.Value.Value != nil {
		return nil, fmt.Errorf("%w: contacts have no value", types.ErrInvalidInput)
	}
	if patch.Value.Value, err = checkValue(patch.Value.Value); err != nil {
		return nil, err
	}

	next := *current
	applyRecordPatch(&next, patch)
	if err := s.store.UpdateRecord(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", ref, err)
	}

	if !current.SameContent(&next) {
		s.notifier.RecordUpdated(ctx, ownerID, ref)
	}
	return &next, nil
}

// DeleteRecord removes a record and its embedding.
func (s *Service) DeleteRecord(ctx context.Context, ownerID string, ref types.RecordRef) error {
	if err := checkRef(ownerID, ref); err != nil {
		return err
	}
	if err := s.store.DeleteRecord(ctx, ownerID, ref); err != nil {
		return err
	}
	s.notifier.RecordDeleted(ctx, ownerID, ref)
	return nil
}

// CreateActivity inserts an activity and schedules re-embedding of its parent.
func (s *Service) CreateActivity(ctx context.Context, ownerID string, in ActivityInput) (*types.Activity, error) {
	if err := s.check(ownerID, in); err != nil {
		return nil, err
	}

	act := &types.Activity{
		ID:          in.ID,
		OwnerID:     ownerID,
		Type:        in.Type,
		Subject:     in.Subject,
		Description: in.Description,
		DealID:      in.DealID,
		ContactID:   in.ContactID,
		LeadID:      in.LeadID,
		CreatedAt:   in.CreatedAt,
	}
	if act.ID == "" {
		act.ID = uuid.NewString()
	}
	if err := act.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateActivity(ctx, act); err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}

	if parent, ok := act.ParentRef(); ok {
		s.notifier.ActivityChanged(ctx, ownerID, parent)
	}
	return act, nil
}

// GetActivity returns one activity.
func (s *Service) GetActivity(ctx context.Context, ownerID, id string) (*types.Activity, error) {
	if ownerID == "" || id == "" {
		return nil, fmt.Errorf("%w: owner id and activity id are required", types.ErrInvalidInput)
	}
	return s.store.GetActivity(ctx, ownerID, id)
}

// UpdateActivity applies patch. When the activity moves to another record,
// both the old and the new parent are re-embedded.
func (s *Service) UpdateActivity(ctx context.Context, ownerID, id string, patch ActivityPatch) (*types.Activity, error) {
	if err := s.validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	current, err := s.GetActivity(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	next := *current
	applyActivityPatch(&next, patch)
	if err := next.Validate(); err != nil {
		return nil, err
	}

	prev, err := s.store.UpdateActivity(ctx, &next)
	if err != nil {
		return nil, fmt.Errorf("failed to update activity %s: %w", id, err)
	}

	if !sameActivityContent(prev, &next) {
		var parents []types.RecordRef
		if p, ok := prev.ParentRef(); ok {
			parents = append(parents, p)
		}
		if p, ok := next.ParentRef(); ok {
			parents = append(parents, p)
		}
		if len(parents) > 0 {
			s.notifier.ActivityChanged(ctx, ownerID, parents...)
		}
	}
	return &next, nil
}

// DeleteActivity removes an activity and re-embeds its former parent.
func (s *Service) DeleteActivity(ctx context.Context, ownerID, id string) error {
	if ownerID == "" || id == "" {
		return fmt.Errorf("%w: owner id and activity id are required", types.ErrInvalidInput)
	}
	deleted, err := s.store.DeleteActivity(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if parent, ok := deleted.ParentRef(); ok {
		s.notifier.ActivityChanged(ctx, ownerID, parent)
	}
	return nil
}

// ListActivities returns the activities attached to a record, newest first.
func (s *Service) ListActivities(ctx context.Context, ownerID string, ref types.RecordRef) ([]types.Activity, error) {
	if err := checkRef(ownerID, ref); err != nil {
		return nil, err
	}
	return s.store.ListActivities(ctx, ownerID, ref)
}

func (s *Service) check(ownerID string, in any) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", types.ErrInvalidInput)
	}
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed %q", types.ErrInvalidInput, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", types.ErrInvalidInput, err)
	}
	return nil
}

// checkValue rejects non-finite values and returns a copy with -0 folded
// into 0, so every store fingerprints the same number.
func checkValue(v *float64) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil, fmt.Errorf("%w: value must be a finite number", types.ErrInvalidInput)
	}
	out := *v
	if out == 0 {
		out = 0
	}
	return &out, nil
}

func checkRef(ownerID string, ref types.RecordRef) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", types.ErrInvalidInput)
	}
	return ref.Validate()
}

func applyRecordPatch(r *types.Record, p RecordPatch) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&r.Name, p.Name)
	set(&r.Company, p.Company)
	set(&r.Status, p.Status)
	set(&r.Email, p.Email)
	set(&r.Phone, p.Phone)
	set(&r.Source, p.Source)
	set(&r.Notes, p.Notes)
	if p.Value.Set {
		r.Value = p.Value.Value
	}
}

func applyActivityPatch(a *types.Activity, p ActivityPatch) {
	if p.Type != nil {
		a.Type = *p.Type
	}
	if p.Subject != nil {
		a.Subject = *p.Subject
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.DealID == nil && p.ContactID == nil && p.LeadID == nil {
		return
	}
	var ref types.RecordRef
	switch {
	case p.DealID != nil && *p.DealID != "":
		ref = types.RecordRef{Type: types.RecordTypeDeal, ID: *p.DealID}
	case p.ContactID != nil && *p.ContactID != "":
		ref = types.RecordRef{Type: types.RecordTypeContact, ID: *p.ContactID}
	case p.LeadID != nil && *p.LeadID != "":
		ref = types.RecordRef{Type: types.RecordTypeLead, ID: *p.LeadID}
	}
	a.SetParent(ref)
}

// sameActivityContent reports whether both versions render the same line
// under the same parent.
func sameActivityContent(a, b *types.Activity) bool {
	return a.Type == b.Type && a.Subject == b.Subject && a.Description == b.Description &&
		a.DealID == b.DealID && a.ContactID == b.ContactID && a.LeadID == b.LeadID &&
		a.CreatedAt.Equal(b.CreatedAt)
}

type noopNotifier struct{}

func (noopNotifier) RecordCreated(context.Context, string, types.RecordRef) bool { return false }
func (noopNotifier) RecordUpdated(context.Context, string, types.RecordRef) bool { return false }
func (noopNotifier) RecordDeleted(context.Context, string, types.RecordRef)      {}
func (noopNotifier) ActivityChanged(context.Context, string, ...types.RecordRef) {}
