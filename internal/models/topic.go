package models

import "time"

// Topic is one row of the Topics ledger.
type Topic struct {
	Row             int       `json:"-"`
	ID              string    `json:"topic_id"`
	Title           string    `json:"title"`
	Specialty       string    `json:"specialty"`
	Supervisor      string    `json:"supervisor"`
	ClaimPassword   string    `json:"-"`
	Claimed         bool      `json:"claimed"`
	ClaimedFlag     string    `json:"-"`
	ClaimedAt       time.Time `json:"claimed_at,omitempty"`
	Students        []string  `json:"students,omitempty"`
	DepositPassword string    `json:"-"`
	Deposited       bool      `json:"deposited"`
	DepositedFlag   string    `json:"-"`
	DepositedAt     time.Time `json:"deposited_at,omitempty"`
	ArtifactRef     string    `json:"-"`
	JuryPresident   string    `json:"jury_president,omitempty"`
	JuryExaminer    string    `json:"jury_examiner,omitempty"`
}

// TopicFilter scopes topic listings.
type TopicFilter struct {
	Specialty  string
	Supervisor string
	Available  *bool
	Page       int
	PageSize   int
}
