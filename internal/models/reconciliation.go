package models

import "time"

// Discrepancy kinds reported by the reconciliation pass.
const (
	DiscrepancyClaimedWithoutStudents  = "claimed_without_students"
	DiscrepancyClaimedWithoutTimestamp = "claimed_without_timestamp"
	DiscrepancyStudentsWithoutClaim    = "students_without_claim"
	DiscrepancyCredentialMismatch      = "credential_state_mismatch"
	DiscrepancyDanglingTopicRef        = "dangling_topic_ref"
	DiscrepancyUnboundStudent          = "student_not_bound_on_topic"
	DiscrepancyDepositedUnclaimed      = "deposited_without_claim"
	DiscrepancyArtifactWithoutDeposit  = "artifact_without_deposit"
	DiscrepancyDepositWithoutArtifact  = "deposit_without_artifact"
)

// Discrepancy is one cross-ledger inconsistency.
type Discrepancy struct {
	Kind    string `json:"kind"`
	Table   string `json:"table"`
	Row     int    `json:"row"`
	TopicID string `json:"topic_id,omitempty"`
	Detail  string `json:"detail"`
}

// ReconciliationReport summarises ledger consistency.
type ReconciliationReport struct {
	GeneratedAt     time.Time     `json:"generated_at"`
	TopicsTotal     int           `json:"topics_total"`
	TopicsClaimed   int           `json:"topics_claimed"`
	TopicsDeposited int           `json:"topics_deposited"`
	StudentsBound   int           `json:"students_bound"`
	Discrepancies   []Discrepancy `json:"discrepancies"`
}

// Consistent reports whether no discrepancy was found.
func (r ReconciliationReport) Consistent() bool {
	return len(r.Discrepancies) == 0
}
