package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Milestone flag keys. Each is stored as `<key>: true` plus `<key>_at: <timestamp>`.
const (
	FlagDocumentsVerified         = "documents_verified"
	FlagCreditCheckCompleted      = "credit_check_completed"
	FlagCommitteeReviewStarted    = "committee_review_started"
	FlagCommitteeReviewCompleted  = "committee_review_completed"
	FlagApprovalCommitteeDecision = "approval_committee_decision"
	FlagDisbursementPrepared      = "disbursement_prepared"
	FlagFundsDisbursed            = "funds_disbursed"
	FlagDeliveryStarted           = "delivery_started"
)

// KnownFlags are recognised as milestone flags even without a `_at` sibling.
var KnownFlags = map[string]bool{
	FlagDocumentsVerified:         true,
	FlagCreditCheckCompleted:      true,
	FlagCommitteeReviewStarted:    true,
	FlagCommitteeReviewCompleted:  true,
	FlagApprovalCommitteeDecision: true,
	FlagDisbursementPrepared:      true,
	FlagFundsDisbursed:            true,
	FlagDeliveryStarted:           true,
}

// Metadata holds workflow flags. Fields the core reasons about are typed;
// anything else round-trips through Extra untouched.
type Metadata struct {
	Status          string               `json:"status,omitempty"`
	StatusUpdatedAt *time.Time           `json:"status_updated_at,omitempty"`
	StatusUpdatedBy string               `json:"status_updated_by,omitempty"`
	StatusHistory   []StatusHistoryEntry `json:"status_history,omitempty"`
	Notifications   []Notification       `json:"notifications,omitempty"`
	ApprovalDetails *ApprovalDetails     `json:"approval_details,omitempty"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	SubmittedAt     *time.Time           `json:"submitted_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	DisbursedAt     *time.Time           `json:"disbursed_at,omitempty"`

	LastSync           *time.Time `json:"last_sync,omitempty"`
	LinkedTo           string     `json:"linked_to,omitempty"`
	LinkedChatSession  string     `json:"linked_whatsapp_session,omitempty"`
	LinkedWebSession   string     `json:"linked_web_session,omitempty"`
	CreatedFrom        Channel    `json:"created_from,omitempty"`
	PlatformSwitchTime *time.Time `json:"platform_switch_time,omitempty"`

	// Flags maps a milestone key to the time it was set. A zero time means
	// the flag was present without a timestamp.
	Flags map[string]time.Time `json:"-"`
	Extra Document             `json:"-"`
}

type metadataFields Metadata

var metadataKeys = func() map[string]bool {
	keys := map[string]bool{}
	for _, k := range []string{
		"status", "status_updated_at", "status_updated_by", "status_history",
		"notifications", "approval_details", "rejection_reason", "submitted_at",
		"completed_at", "disbursed_at", "last_sync", "linked_to",
		"linked_whatsapp_session", "linked_web_session", "created_from",
		"platform_switch_time",
	} {
		keys[k] = true
	}
	return keys
}()

// Flag reports whether a milestone flag is set and when.
func (m Metadata) Flag(key string) (time.Time, bool) {
	at, ok := m.Flags[key]
	return at, ok
}

// SetFlag marks a milestone flag at the given time.
func (m *Metadata) SetFlag(key string, at time.Time) {
	if m.Flags == nil {
		m.Flags = make(map[string]time.Time)
	}
	m.Flags[key] = at
}

// Clone returns a deep copy.
func (m Metadata) Clone() Metadata {
	out := m
	out.StatusUpdatedAt = cloneTime(m.StatusUpdatedAt)
	out.SubmittedAt = cloneTime(m.SubmittedAt)
	out.CompletedAt = cloneTime(m.CompletedAt)
	out.DisbursedAt = cloneTime(m.DisbursedAt)
	out.LastSync = cloneTime(m.LastSync)
	out.PlatformSwitchTime = cloneTime(m.PlatformSwitchTime)
	if m.StatusHistory != nil {
		out.StatusHistory = append([]StatusHistoryEntry(nil), m.StatusHistory...)
	}
	if m.Notifications != nil {
		out.Notifications = make([]Notification, len(m.Notifications))
		for i, n := range m.Notifications {
			n.ReadAt = cloneTime(n.ReadAt)
			n.Details = n.Details.Clone()
			if n.StatusChange != nil {
				sc := *n.StatusChange
				n.StatusChange = &sc
			}
			out.Notifications[i] = n
		}
	}
	if m.ApprovalDetails != nil {
		ad := *m.ApprovalDetails
		ad.ApprovedAt = cloneTime(ad.ApprovedAt)
		ad.DisbursementDate = cloneTime(ad.DisbursementDate)
		out.ApprovalDetails = &ad
	}
	if m.Flags != nil {
		out.Flags = make(map[string]time.Time, len(m.Flags))
		for k, v := range m.Flags {
			out.Flags[k] = v
		}
	}
	out.Extra = m.Extra.Clone()
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// MarshalJSON flattens typed fields, flags and extras into one object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	typed, err := json.Marshal(metadataFields(m))
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	for k, v := range m.Extra {
		out[k] = v
	}
	for key, at := range m.Flags {
		out[key] = true
		if !at.IsZero() {
			out[key+"_at"] = at.UTC().Format(time.RFC3339Nano)
		}
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(typed, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits an object into typed fields, milestone flags and extras.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var typed metadataFields
	if err := json.Unmarshal(data, &typed); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}

	*m = Metadata(typed)
	for key, value := range raw {
		if metadataKeys[key] {
			continue
		}
		if on, ok := value.(bool); ok && on {
			atRaw, hasAt := raw[key+"_at"]
			if KnownFlags[key] || hasAt {
				at, _ := ParseTimeValue(atRaw)
				m.SetFlag(key, at)
				continue
			}
		}
		if strings.HasSuffix(key, "_at") {
			if on, _ := raw[strings.TrimSuffix(key, "_at")].(bool); on {
				continue
			}
		}
		if m.Extra == nil {
			m.Extra = Document{}
		}
		m.Extra[key] = value
	}
	return nil
}

// FlagKeys returns the set flag keys in sorted order.
func (m Metadata) FlagKeys() []string {
	keys := make([]string, 0, len(m.Flags))
	for k := range m.Flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimeValue accepts RFC 3339 timestamps, SQL-style datetimes and bare dates.
func ParseTimeValue(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (a *ApprovalDetails) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount           interface{} `json:"amount"`
		ApprovedAt       interface{} `json:"approved_at"`
		DisbursementDate interface{} `json:"disbursement_date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode approval_details: %w", err)
	}
	*a = ApprovalDetails{}
	if amount, ok := (Document{"v": raw.Amount}).Float("v"); ok {
		a.Amount = amount
	}
	if t, ok := ParseTimeValue(raw.ApprovedAt); ok {
		a.ApprovedAt = &t
	}
	if t, ok := ParseTimeValue(raw.DisbursementDate); ok {
		a.DisbursementDate = &t
	}
	return nil
}
