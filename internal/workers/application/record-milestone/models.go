package recordmilestone

import "application-tracker/internal/models"

type Input struct {
	SessionID string          `json:"sessionId"`
	Milestone string          `json:"milestone"`
	Details   models.Document `json:"details"`
}

type Output struct {
	Milestone           string `json:"milestone"`
	UnreadNotifications int    `json:"unreadNotifications"`
}
