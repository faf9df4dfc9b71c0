// Package composer turns a CRM record and its activity history into the
// canonical text that gets embedded.
//
// Output is deterministic: identical inputs always produce byte-identical
// text, which is what makes fingerprint-based staleness checks work.
package composer

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/scrypster/crmindex/pkg/types"
)

// Placeholder is written for empty optional fields.
const Placeholder = "N/A"

// ActivitiesHeading introduces the activity section.
const ActivitiesHeading = "Activities:"

type field struct {
	label string
	value func(r *types.Record) string
}

func name(r *types.Record) string    { return r.Name }
func company(r *types.Record) string { return r.Company }
func status(r *types.Record) string  { return r.Status }
func email(r *types.Record) string   { return r.Email }
func phone(r *types.Record) string   { return r.Phone }
func source(r *types.Record) string  { return r.Source }
func notes(r *types.Record) string   { return r.Notes }

func value(r *types.Record) string {
	if r.Value == nil {
		return ""
	}
	return strconv.FormatFloat(*r.Value, 'f', -1, 64)
}

// headers defines the labeled header block per record type, in output order.
var headers = map[types.RecordType][]field{
	types.RecordTypeDeal: {
		{"Deal", name},
		{"Company", company},
		{"Stage", status},
		{"Value", value},
		{"Notes", notes},
	},
	types.RecordTypeContact: {
		{"Contact", name},
		{"Company", company},
		{"Email", email},
		{"Phone", phone},
		{"Status", status},
		{"Notes", notes},
	},
	types.RecordTypeLead: {
		{"Lead", name},
		{"Company", company},
		{"Email", email},
		{"Status", status},
		{"Score", value},
		{"Source", source},
		{"Notes", notes},
	},
}

// Compose serializes a record and its activities into embedding input text.
// Activities are ordered newest first regardless of input order; the input
// slice is not modified.
func Compose(record *types.Record, activities []types.Activity) string {
	header := composeHeader(record)
	lines := activityLines(activities)
	if len(lines) == 0 {
		return header
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString(ActivitiesHeading)
	b.WriteByte('\n')
	for _, line := range lines {
		b.WriteString(line)
	}
	return b.String()
}

// ComposeLimited is Compose capped at maxLen bytes. When the full text is
// too long, the oldest activity lines are dropped first; if the header alone
// still exceeds the cap it is cut at a rune boundary. maxLen <= 0 disables
// the cap.
func ComposeLimited(record *types.Record, activities []types.Activity, maxLen int) string {
	full := Compose(record, activities)
	if maxLen <= 0 || len(full) <= maxLen {
		return full
	}

	header := composeHeader(record)
	if len(header) >= maxLen {
		return truncate(header, maxLen)
	}

	var b strings.Builder
	b.WriteString(header)
	section := ActivitiesHeading + "\n"
	if b.Len()+len(section) > maxLen {
		return b.String()
	}
	b.WriteString(section)
	for _, line := range activityLines(activities) {
		if b.Len()+len(line) > maxLen {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

// Fingerprint returns the hex SHA-256 of composed text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ContentHash is the fingerprint of the full composed text for a record.
// Stores persist it alongside each record so staleness can be decided in SQL.
func ContentHash(record *types.Record, activities []types.Activity) string {
	return Fingerprint(Compose(record, activities))
}

func composeHeader(record *types.Record) string {
	var b strings.Builder
	for _, f := range headers[record.Type] {
		v := clean(f.value(record))
		if v == "" {
			v = Placeholder
		}
		b.WriteString(f.label)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return b.String()
}

func activityLines(activities []types.Activity) []string {
	if len(activities) == 0 {
		return nil
	}

	sorted := make([]types.Activity, len(activities))
	copy(sorted, activities)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	lines := make([]string, 0, len(sorted))
	for i := range sorted {
		a := &sorted[i]
		desc := clean(a.Description)
		if desc == "" {
			desc = clean(a.Subject)
		}
		if desc == "" {
			desc = Placeholder
		}
		kind := clean(a.Type)
		if kind == "" {
			kind = Placeholder
		}
		lines = append(lines, "- ["+a.CreatedAt.UTC().Format("2006-01-02")+"] "+kind+": "+desc+"\n")
	}
	return lines
}

// clean collapses internal whitespace so every field stays on one line.
func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
