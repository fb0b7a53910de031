package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepOrdering(t *testing.T) {
	assert.Equal(t, StepSummary, MaxStep(StepProduct, StepSummary))
	assert.Equal(t, StepSummary, MaxStep(StepSummary, StepProduct))
	assert.Less(t, int(StepLanguage), int(StepCompleted))
	assert.Equal(t, "completed", StepCompleted.String())

	s, err := ParseStep(" Product ")
	require.NoError(t, err)
	assert.Equal(t, StepProduct, s)

	_, err = ParseStep("checkout")
	assert.Error(t, err)
}

func TestStepJSONUsesNames(t *testing.T) {
	out, err := json.Marshal(struct {
		Step Step `json:"step"`
	}{StepEmployer})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"employer"}`, string(out))

	var in struct {
		Step Step `json:"step"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"step":"summary"}`), &in))
	assert.Equal(t, StepSummary, in.Step)

	assert.Error(t, json.Unmarshal([]byte(`{"step":3}`), &in))
}

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel("WhatsApp")
	require.NoError(t, err)
	assert.Equal(t, ChannelChat, c)
	assert.Equal(t, ChannelWeb, c.Other())

	_, err = ParseChannel("sms")
	assert.Error(t, err)
}

func TestDeepMerge(t *testing.T) {
	base := Document{
		"employer": "goz-ssb",
		"amount":   1000,
		"formResponses": map[string]interface{}{
			"firstName": "Tendai",
			"phone":     "0775",
		},
	}
	overlay := Document{
		"employer": "entrepreneur",
		"formResponses": Document{
			"phone": "+263775555555",
		},
	}

	merged := DeepMerge(base, overlay)

	assert.Equal(t, "entrepreneur", merged["employer"])
	assert.Equal(t, 1000, merged["amount"])
	assert.Equal(t, "Tendai", merged.String("formResponses", "firstName"))
	assert.Equal(t, "+263775555555", merged.String("formResponses", "phone"))

	// inputs untouched
	assert.Equal(t, "goz-ssb", base["employer"])
	assert.Equal(t, "0775", Document(base["formResponses"].(map[string]interface{})).String("phone"))
}

func TestDocumentAccessors(t *testing.T) {
	d := Document{"amount": "22,000", "nested": Document{"n": 12.5}}

	f, ok := d.Float("amount")
	require.True(t, ok)
	assert.Equal(t, 22000.0, f)
	assert.Equal(t, "12.5", d.String("nested", "n"))
	assert.Equal(t, "", d.String("missing", "path"))
	assert.True(t, ValuesEqual(22000, 22000.0))
	assert.False(t, ValuesEqual("22000", 22000))
}

func TestMetadataJSONKeepsFlagsAndExtras(t *testing.T) {
	raw := `{
		"status": "under_review",
		"documents_verified": true,
		"documents_verified_at": "2026-03-01T10:00:00Z",
		"credit_check_completed": true,
		"branch": "harare-cbd",
		"approval_details": {"amount": "5000", "disbursement_date": "2026-04-01"},
		"status_history": [{"status": "submitted", "timestamp": "2026-02-28T09:00:00Z"}]
	}`

	var m Metadata
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.Equal(t, "under_review", m.Status)
	at, ok := m.Flag(FlagDocumentsVerified)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), at)

	at, ok = m.Flag(FlagCreditCheckCompleted)
	require.True(t, ok)
	assert.True(t, at.IsZero())

	assert.Equal(t, "harare-cbd", m.Extra["branch"])
	require.NotNil(t, m.ApprovalDetails)
	assert.Equal(t, 5000.0, m.ApprovalDetails.Amount)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), *m.ApprovalDetails.DisbursementDate)
	require.Len(t, m.StatusHistory, 1)

	out, err := json.Marshal(m)
	require.NoError(t, err)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &flat))
	assert.Equal(t, true, flat["documents_verified"])
	assert.Equal(t, "2026-03-01T10:00:00Z", flat["documents_verified_at"])
	assert.Equal(t, true, flat["credit_check_completed"])
	assert.NotContains(t, flat, "credit_check_completed_at")
	assert.Equal(t, "harare-cbd", flat["branch"])
}

func TestRecordCloneIsDeep(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	r := &ApplicationRecord{
		SessionID:              "web_1",
		FormData:               Document{"nested": Document{"a": 1}},
		ReferenceCode:          "X1Y2Z3",
		ReferenceCodeExpiresAt: &exp,
		Metadata: Metadata{
			Notifications: []Notification{{ID: "n1"}},
			Flags:         map[string]time.Time{FlagDocumentsVerified: exp},
		},
	}

	c := r.Clone()
	c.FormData["nested"].(Document)["a"] = 2
	c.Metadata.Notifications[0].Read = true
	c.Metadata.Flags[FlagFundsDisbursed] = exp
	*c.ReferenceCodeExpiresAt = exp.Add(time.Hour)

	assert.Equal(t, 1, r.FormData["nested"].(Document)["a"])
	assert.False(t, r.Metadata.Notifications[0].Read)
	assert.NotContains(t, r.Metadata.Flags, FlagFundsDisbursed)
	assert.Equal(t, exp, *r.ReferenceCodeExpiresAt)
}

func TestHasLiveReferenceCode(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	assert.False(t, (&ApplicationRecord{ReferenceCode: "ABCDEF", ReferenceCodeExpiresAt: &past}).HasLiveReferenceCode(now))
	assert.True(t, (&ApplicationRecord{ReferenceCode: "ABCDEF", ReferenceCodeExpiresAt: &future}).HasLiveReferenceCode(now))
	assert.False(t, (&ApplicationRecord{ReferenceCodeExpiresAt: &future}).HasLiveReferenceCode(now))
}
