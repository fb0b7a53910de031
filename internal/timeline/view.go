package timeline

import (
	"math"
	"strings"

	"application-tracker/internal/models"
)

const notAvailable = "N/A"

// BuildStatusView composes the applicant-facing status of a record.
func (e *Engine) BuildStatusView(rec *models.ApplicationRecord) models.StatusView {
	timeline := e.BuildTimeline(rec)

	view := models.StatusView{
		SessionID:               rec.SessionID,
		ReferenceCode:           rec.ReferenceCode,
		Channel:                 rec.Channel,
		Status:                  e.Status(rec),
		ApplicantName:           applicantName(rec.FormData),
		Business:                business(rec.FormData),
		LoanAmount:              firstFloat(rec.FormData, []string{"amount"}, []string{"formResponses", "loanAmount"}),
		MonthlyPayment:          firstFloat(rec.FormData, []string{"formResponses", "monthlyPayment"}, []string{"monthlyPayment"}, []string{"monthlyInstallment"}),
		CreditTerm:              int(math.Round(firstFloat(rec.FormData, []string{"creditTerm"}, []string{"formResponses", "loanTerm"}, []string{"formResponses", "creditTerm"}))),
		LastUpdated:             rec.UpdatedAt,
		Timeline:                timeline,
		ProgressPercentage:      e.ProgressPercentage(rec),
		EstimatedCompletionDate: e.EstimatedCompletionDate(rec),
		NextAction:              e.NextAction(rec),
		Notifications:           rec.Clone().Metadata.Notifications,
		Documents:               documentsSummary(rec),
		RejectionReason:         rec.Metadata.RejectionReason,
	}
	if view.Notifications == nil {
		view.Notifications = []models.Notification{}
	}
	for _, entry := range timeline {
		if entry.Key == MilestoneSubmitted {
			view.SubmittedAt = entry.Timestamp
		}
	}
	if rec.Metadata.ApprovalDetails != nil {
		ad := *rec.Metadata.ApprovalDetails
		view.ApprovalDetails = &ad
	}
	return view
}

func applicantName(form models.Document) string {
	first := form.String("formResponses", "firstName")
	last := form.String("formResponses", "lastName")
	if last == "" {
		last = form.String("formResponses", "surname")
	}
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		return notAvailable
	}
	return name
}

// business accepts either a scalar or a {id, name} object.
func business(form models.Document) string {
	if name := form.String("business", "name"); name != "" {
		return name
	}
	if name := form.String("selectedBusiness", "name"); name != "" {
		return name
	}
	if b := form.String("business"); b != "" {
		return b
	}
	return notAvailable
}

func firstFloat(form models.Document, paths ...[]string) float64 {
	for _, p := range paths {
		if f, ok := form.Float(p...); ok {
			return f
		}
	}
	return 0
}

func documentsSummary(rec *models.ApplicationRecord) models.DocumentsSummary {
	raw, ok := rec.FormData.Lookup("documents", "uploadedDocuments")
	if !ok {
		return models.DocumentsSummary{}
	}

	var docs []interface{}
	switch t := raw.(type) {
	case []interface{}:
		docs = t
	case models.Document:
		for _, v := range t {
			docs = append(docs, v)
		}
	case map[string]interface{}:
		for _, v := range t {
			docs = append(docs, v)
		}
	}

	_, allVerified := rec.Metadata.Flag(models.FlagDocumentsVerified)
	var s models.DocumentsSummary
	for _, d := range docs {
		if d == nil {
			continue
		}
		s.Uploaded++
		if allVerified || documentVerified(d) {
			s.Verified++
		}
	}
	s.Pending = s.Uploaded - s.Verified
	return s
}

func documentVerified(v interface{}) bool {
	var doc models.Document
	switch t := v.(type) {
	case models.Document:
		doc = t
	case map[string]interface{}:
		doc = t
	default:
		return false
	}
	if strings.EqualFold(doc.String("status"), "verified") {
		return true
	}
	verified, _ := doc["verified"].(bool)
	return verified
}
