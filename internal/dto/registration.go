package dto

// ClaimTargetRequest names the topic and credential for the resolve and
// confirm steps of a claim session.
type ClaimTargetRequest struct {
	TopicID    string `json:"topic_id"`
	Credential string `json:"credential" binding:"required"`
}

// CacheInvalidateRequest lists ledger tables to drop from the cache. An empty
// list invalidates every configured table.
type CacheInvalidateRequest struct {
	Tables []string `json:"tables"`
}

// ServiceStatus is returned by the readiness probe.
type ServiceStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
