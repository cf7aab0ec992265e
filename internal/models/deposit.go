package models

import "time"

// Deposit is the outcome of a successful document deposit.
type Deposit struct {
	TopicID     string    `json:"topic_id"`
	Title       string    `json:"title"`
	Students    []string  `json:"students,omitempty"`
	ArtifactRef string    `json:"artifact_ref"`
	SizeBytes   int64     `json:"size_bytes"`
	DepositedAt time.Time `json:"deposited_at"`
	ReceiptURL  string    `json:"receipt_url,omitempty"`
}

// ArtifactLink is a time limited download link for a deposited document.
type ArtifactLink struct {
	TopicID   string    `json:"topic_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
