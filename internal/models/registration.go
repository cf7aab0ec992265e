package models

import "time"

// ClaimMode distinguishes individual and paired submissions.
type ClaimMode string

const (
	// ClaimModeIndividual binds one student.
	ClaimModeIndividual ClaimMode = "individual"
	// ClaimModePaired binds two students to the same topic.
	ClaimModePaired ClaimMode = "paired"
)

// StudentLogin is a username/password pair submitted for verification.
type StudentLogin struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ClaimTarget is a resolved topic together with the mirror ledger row, if any,
// that carries the same credential.
type ClaimTarget struct {
	Topic      Topic                 `json:"topic"`
	Credential *SupervisorCredential `json:"credential,omitempty"`
	Strategy   string                `json:"strategy"`
}

// ClaimPreview is what the resolve step shows before confirmation.
type ClaimPreview struct {
	TopicID    string           `json:"topic_id"`
	Title      string           `json:"title"`
	Specialty  string           `json:"specialty"`
	Supervisor string           `json:"supervisor"`
	Students   []StudentSummary `json:"students"`
	Strategy   string           `json:"strategy"`
}

// Registration is the outcome of a successful claim.
type Registration struct {
	TopicID    string           `json:"topic_id"`
	Title      string           `json:"title"`
	Specialty  string           `json:"specialty"`
	Supervisor string           `json:"supervisor"`
	Mode       ClaimMode        `json:"mode"`
	Students   []StudentSummary `json:"students"`
	ClaimedAt  time.Time        `json:"claimed_at"`
	Strategy   string           `json:"strategy"`
	ReceiptURL string           `json:"receipt_url,omitempty"`
}

// Commit steps of the registration write sequence.
const (
	StepTopicLedger       = "topic_ledger"
	StepClaimVerification = "claim_verification"
	StepTopicDetails      = "topic_details"
	StepMirrorLedger      = "mirror_ledger"
	StepStudents          = "students"
)

// Steps of the deposit write sequence.
const (
	StepArtifactUpload = "artifact_upload"
	StepDepositFlag    = "deposit_flag"
	StepDepositDetails = "deposit_details"
)

// PartialCommitDetails describes an interrupted write sequence so an operator can repair it.
type PartialCommitDetails struct {
	TopicID        string   `json:"topic_id"`
	CompletedSteps []string `json:"completed_steps"`
	FailedStep     string   `json:"failed_step"`
	Students       []string `json:"students,omitempty"`
}
