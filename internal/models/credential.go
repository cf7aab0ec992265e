package models

import "time"

// CredentialState is the lifecycle of a one-time claim credential. It is either
// Unused or Used; no other implementations exist.
type CredentialState interface {
	credentialState()
}

// Unused marks a credential that can still bind a topic.
type Unused struct{}

// Used marks a credential already consumed by a claim.
type Used struct {
	By []string
	At time.Time
}

func (Unused) credentialState() {}
func (Used) credentialState()   {}

// SupervisorCredential is one row of the supervisor-scoped credential ledger.
type SupervisorCredential struct {
	Row           int             `json:"-"`
	Supervisor    string          `json:"supervisor"`
	Email         string          `json:"email,omitempty"`
	TopicID       string          `json:"topic_id,omitempty"`
	Title         string          `json:"title,omitempty"`
	ClaimPassword string          `json:"-"`
	State         CredentialState `json:"-"`
}

// IsUsed reports whether the credential has been consumed.
func (c SupervisorCredential) IsUsed() bool {
	switch c.State.(type) {
	case Used, *Used:
		return true
	default:
		return false
	}
}

// StateOf derives the credential state from the raw ledger columns.
func StateOf(usedFlag string, usedAt time.Time, by ...string) CredentialState {
	if !IsTruthy(usedFlag) {
		return Unused{}
	}
	return Used{By: nonEmpty(by...), At: usedAt}
}
