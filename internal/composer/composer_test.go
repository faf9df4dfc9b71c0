package composer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/crmindex/pkg/types"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func enterpriseDeal() *types.Record {
	return &types.Record{
		Type:    types.RecordTypeDeal,
		ID:      "deal-42",
		OwnerID: "owner-1",
		Name:    "Enterprise License",
	}
}

func TestCompose_DealWithoutActivities(t *testing.T) {
	got := Compose(enterpriseDeal(), nil)

	want := "Deal: Enterprise License\n" +
		"Company: N/A\n" +
		"Stage: N/A\n" +
		"Value: N/A\n" +
		"Notes: N/A\n"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, ActivitiesHeading)
}

func TestCompose_AddingActivityAppendsSection(t *testing.T) {
	deal := enterpriseDeal()
	before := Compose(deal, nil)

	after := Compose(deal, []types.Activity{
		{ID: "act-1", Type: "call", Description: "Intro call", DealID: "deal-42", CreatedAt: day("2024-01-05")},
	})

	assert.True(t, strings.HasPrefix(after, before))
	assert.True(t, strings.HasSuffix(after, "Activities:\n- [2024-01-05] call: Intro call\n"))
	assert.NotEqual(t, Fingerprint(before), Fingerprint(after))
}

func TestCompose_Deterministic(t *testing.T) {
	v := 50000.0
	deal := enterpriseDeal()
	deal.Company = "Acme"
	deal.Status = "negotiation"
	deal.Value = &v
	acts := []types.Activity{
		{ID: "b", Type: "email", Subject: "Pricing", CreatedAt: day("2024-02-01")},
		{ID: "a", Type: "call", Description: "Intro call", CreatedAt: day("2024-01-05")},
	}

	first := Compose(deal, acts)
	second := Compose(deal, acts)
	assert.Equal(t, first, second)
	assert.Equal(t, Fingerprint(first), Fingerprint(second))
	assert.Contains(t, first, "Value: 50000\n")
}

func TestCompose_ActivitiesNewestFirst(t *testing.T) {
	acts := []types.Activity{
		{ID: "old", Type: "call", Description: "first", CreatedAt: day("2024-01-01")},
		{ID: "new", Type: "meeting", Description: "latest", CreatedAt: day("2024-03-01")},
		{ID: "b-mid", Type: "email", Description: "mid b", CreatedAt: day("2024-02-01")},
		{ID: "a-mid", Type: "email", Description: "mid a", CreatedAt: day("2024-02-01")},
	}

	got := Compose(enterpriseDeal(), acts)
	section := got[strings.Index(got, ActivitiesHeading):]

	assert.Equal(t, "Activities:\n"+
		"- [2024-03-01] meeting: latest\n"+
		"- [2024-02-01] email: mid a\n"+
		"- [2024-02-01] email: mid b\n"+
		"- [2024-01-01] call: first\n", section)

	// Input order must not leak into the output.
	reversed := []types.Activity{acts[3], acts[2], acts[1], acts[0]}
	assert.Equal(t, got, Compose(enterpriseDeal(), reversed))
	assert.Equal(t, "old", acts[0].ID, "input slice must not be reordered")
}

func TestCompose_FieldsPerType(t *testing.T) {
	score := 87.5
	lead := &types.Record{
		Type:    types.RecordTypeLead,
		ID:      "lead-1",
		Name:    "Jane Roe",
		Company: "Globex",
		Email:   "jane@globex.test",
		Status:  "qualified",
		Value:   &score,
		Source:  "webinar",
	}
	assert.Equal(t, "Lead: Jane Roe\n"+
		"Company: Globex\n"+
		"Email: jane@globex.test\n"+
		"Status: qualified\n"+
		"Score: 87.5\n"+
		"Source: webinar\n"+
		"Notes: N/A\n", Compose(lead, nil))

	contact := &types.Record{Type: types.RecordTypeContact, ID: "c-1", Name: "John Doe", Phone: "555-0100"}
	assert.Equal(t, "Contact: John Doe\n"+
		"Company: N/A\n"+
		"Email: N/A\n"+
		"Phone: 555-0100\n"+
		"Status: N/A\n"+
		"Notes: N/A\n", Compose(contact, nil))
}

func TestCompose_SubjectFallbackAndWhitespace(t *testing.T) {
	deal := enterpriseDeal()
	deal.Notes = "multi\nline   notes"
	got := Compose(deal, []types.Activity{
		{ID: "x", Type: "email", Subject: "Follow up", CreatedAt: day("2024-01-05")},
	})

	assert.Contains(t, got, "Notes: multi line notes\n")
	assert.Contains(t, got, "- [2024-01-05] email: Follow up\n")
}

func TestComposeLimited_DropsOldestActivitiesFirst(t *testing.T) {
	deal := enterpriseDeal()
	acts := []types.Activity{
		{ID: "1", Type: "call", Description: "oldest", CreatedAt: day("2024-01-01")},
		{ID: "2", Type: "call", Description: "middle", CreatedAt: day("2024-01-02")},
		{ID: "3", Type: "call", Description: "newest", CreatedAt: day("2024-01-03")},
	}
	full := Compose(deal, acts)
	line := len("- [2024-01-03] call: newest\n")

	limited := ComposeLimited(deal, acts, len(full)-1)
	assert.Contains(t, limited, "newest")
	assert.Contains(t, limited, "middle")
	assert.NotContains(t, limited, "oldest")
	assert.LessOrEqual(t, len(limited), len(full)-1)

	limited = ComposeLimited(deal, acts, len(full)-2*line)
	assert.Contains(t, limited, "newest")
	assert.NotContains(t, limited, "middle")

	assert.Equal(t, full, ComposeLimited(deal, acts, len(full)))
	assert.Equal(t, full, ComposeLimited(deal, acts, 0))
}

func TestComposeLimited_TruncatesHeaderAtRuneBoundary(t *testing.T) {
	deal := enterpriseDeal()
	deal.Name = strings.Repeat("é", 40)

	limited := ComposeLimited(deal, nil, 21)
	require.LessOrEqual(t, len(limited), 21)
	assert.True(t, strings.HasPrefix(limited, "Deal: "))
	assert.True(t, strings.ToValidUTF8(limited, "?") == limited, "must not split a rune")
}

func TestContentHash(t *testing.T) {
	deal := enterpriseDeal()
	assert.Equal(t, Fingerprint(Compose(deal, nil)), ContentHash(deal, nil))
	assert.Len(t, ContentHash(deal, nil), 64)
}
