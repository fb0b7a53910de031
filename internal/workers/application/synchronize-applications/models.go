package synchronizeapplications

type Input struct {
	PrimarySessionID   string `json:"primarySessionId"`
	SecondarySessionID string `json:"secondarySessionId"`
	// ReportOnly diffs the records without writing.
	ReportOnly bool `json:"reportOnly"`
}

type Output struct {
	SyncStatus           string `json:"syncStatus"`
	InconsistenciesCount int    `json:"inconsistenciesCount"`
	CurrentStep          string `json:"currentStep,omitempty"`
	Changed              bool   `json:"changed"`
}
