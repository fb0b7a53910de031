package generatereferencecode

type Input struct {
	SessionID string `json:"sessionId"`
}

type Output struct {
	ReferenceCode string `json:"referenceCode"`
	ExpiresAt     string `json:"expiresAt"` // RFC 3339
}
