// Package importer loads CRM datasets from YAML files through the CRM
// service, so every imported record is scheduled for embedding exactly as a
// live write would be.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/phuslu/log"
	"gopkg.in/yaml.v3"

	"github.com/scrypster/crmindex/internal/crm"
	"github.com/scrypster/crmindex/pkg/types"
)

// Dataset is the YAML document layout:
//
//	deals:
//	  - id: deal-42
//	    name: Acme renewal
//	    value: 50000
//	contacts: [...]
//	leads: [...]
//	activities:
//	  - type: call
//	    subject: Pricing follow-up
//	    deal_id: deal-42
type Dataset struct {
	Deals      []crm.RecordInput   `yaml:"deals"`
	Contacts   []crm.RecordInput   `yaml:"contacts"`
	Leads      []crm.RecordInput   `yaml:"leads"`
	Activities []crm.ActivityInput `yaml:"activities"`
}

// Len returns the number of items in the dataset.
func (d *Dataset) Len() int {
	return len(d.Deals) + len(d.Contacts) + len(d.Leads) + len(d.Activities)
}

// ImportResult is the summary of one import.
type ImportResult struct {
	OwnerID           string        `json:"owner_id"`
	RecordsCreated    int           `json:"records_created"`
	ActivitiesCreated int           `json:"activities_created"`
	Skipped           int           `json:"skipped"`
	Failed            int           `json:"failed"`
	Errors            []string      `json:"errors,omitempty"`
	Duration          time.Duration `json:"duration_ms"`
}

// Service is the part of crm.Service the importer writes through.
type Service interface {
	CreateRecord(ctx context.Context, ownerID string, recordType types.RecordType, in crm.RecordInput) (*types.Record, error)
	GetRecord(ctx context.Context, ownerID string, ref types.RecordRef) (*types.Record, error)
	CreateActivity(ctx context.Context, ownerID string, in crm.ActivityInput) (*types.Activity, error)
	GetActivity(ctx context.Context, ownerID, id string) (*types.Activity, error)
}

// Importer writes datasets through a CRM service.
type Importer struct {
	svc Service
}

// New creates an importer.
func New(svc Service) *Importer {
	return &Importer{svc: svc}
}

// Parse decodes a dataset. Unknown keys are rejected so typos do not
// silently drop fields.
func Parse(r io.Reader) (*Dataset, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var ds Dataset
	if err := dec.Decode(&ds); err != nil {
		if errors.Is(err, io.EOF) {
			return &ds, nil
		}
		return nil, fmt.Errorf("%w: dataset: %v", types.ErrInvalidInput, err)
	}
	return &ds, nil
}

// ImportFile parses path and imports it for ownerID.
func (imp *Importer) ImportFile(ctx context.Context, ownerID, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	ds, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return imp.Import(ctx, ownerID, ds)
}

// Import creates every record, then every activity, so activities can
// reference records from the same file. Items whose ID already exists are
// skipped, which makes re-running an import harmless. A failing item is
// recorded and the import continues; only a cancelled context stops it.
func (imp *Importer) Import(ctx context.Context, ownerID string, ds *Dataset) (*ImportResult, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", types.ErrInvalidInput)
	}

	start := time.Now()
	result := &ImportResult{OwnerID: ownerID}

	groups := []struct {
		recordType types.RecordType
		inputs     []crm.RecordInput
	}{
		{types.RecordTypeDeal, ds.Deals},
		{types.RecordTypeContact, ds.Contacts},
		{types.RecordTypeLead, ds.Leads},
	}
	for _, g := range groups {
		for i, in := range g.inputs {
			if err := ctx.Err(); err != nil {
				result.Duration = time.Since(start)
				return result, err
			}
			imp.importRecord(ctx, result, g.recordType, i, in)
		}
	}

	for i, in := range ds.Activities {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		imp.importActivity(ctx, result, i, in)
	}

	result.Duration = time.Since(start)
	log.Info().Str("owner_id", ownerID).Int("records", result.RecordsCreated).
		Int("activities", result.ActivitiesCreated).Int("skipped", result.Skipped).
		Int("failed", result.Failed).Dur("duration", result.Duration).Msg("dataset imported")
	return result, nil
}

func (imp *Importer) importRecord(ctx context.Context, result *ImportResult, rt types.RecordType, i int, in crm.RecordInput) {
	label := fmt.Sprintf("%s[%d]", rt.Plural(), i)
	if in.ID != "" {
		label = types.RecordRef{Type: rt, ID: in.ID}.String()
		if _, err := imp.svc.GetRecord(ctx, result.OwnerID, types.RecordRef{Type: rt, ID: in.ID}); err == nil {
			result.Skipped++
			return
		}
	}

	if _, err := imp.svc.CreateRecord(ctx, result.OwnerID, rt, in); err != nil {
		result.fail(label, err)
		return
	}
	result.RecordsCreated++
}

func (imp *Importer) importActivity(ctx context.Context, result *ImportResult, i int, in crm.ActivityInput) {
	label := fmt.Sprintf("activities[%d]", i)
	if in.ID != "" {
		label = "activity:" + in.ID
		if _, err := imp.svc.GetActivity(ctx, result.OwnerID, in.ID); err == nil {
			result.Skipped++
			return
		}
	}

	if _, err := imp.svc.CreateActivity(ctx, result.OwnerID, in); err != nil {
		result.fail(label, err)
		return
	}
	result.ActivitiesCreated++
}

func (r *ImportResult) fail(label string, err error) {
	log.Warn().Err(err).Str("owner_id", r.OwnerID).Str("item", label).Msg("import: item failed")
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", label, err))
}
