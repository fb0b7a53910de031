package switchchannel

import "application-tracker/internal/crosschannel"

type Input struct {
	SourceSessionID      string `json:"sourceSessionId"`
	TargetChannel        string `json:"targetChannel"`
	TargetUserIdentifier string `json:"targetUserIdentifier"`
}

type Output struct {
	NewSessionID  string                    `json:"newSessionId"`
	ReferenceCode string                    `json:"referenceCode"`
	CurrentStep   string                    `json:"currentStep"`
	Reused        bool                      `json:"reused"`
	Instructions  crosschannel.Instructions `json:"instructions"`
}
