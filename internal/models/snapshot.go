package models

import (
	"strings"
	"time"

	"github.com/noah-isme/memo-registry-api/pkg/sheets"
)

// Snapshot is a decoded, point-in-time view of the three ledgers together with
// the column positions needed to address writes back into them.
type Snapshot struct {
	Students    []Student
	Topics      []Topic
	Credentials []SupervisorCredential

	StudentCols    StudentColumns
	TopicCols      TopicColumns
	CredentialCols CredentialColumns
	HasCredentials bool
}

// DecodeSnapshot turns raw tables into typed rows. credentials may be nil when
// the mirror ledger is disabled.
func DecodeSnapshot(students, topics, credentials *sheets.Table, loc *time.Location) (*Snapshot, error) {
	snap := &Snapshot{}

	sc, err := ResolveStudentColumns(students)
	if err != nil {
		return nil, err
	}
	snap.StudentCols = sc
	for i := range students.Rows {
		username := students.Value(i, sc.Username)
		if username == "" {
			continue
		}
		snap.Students = append(snap.Students, Student{
			Row:          sheets.SheetRow(i),
			Registration: students.Value(i, sc.Registration),
			Surname:      students.Value(i, sc.Surname),
			FirstName:    students.Value(i, sc.FirstName),
			Specialty:    students.Value(i, sc.Specialty),
			Username:     username,
			Password:     students.Value(i, sc.Password),
			TopicRef:     students.Value(i, sc.TopicRef),
			Email:        students.Value(i, sc.Email),
		})
	}

	tc, err := ResolveTopicColumns(topics)
	if err != nil {
		return nil, err
	}
	snap.TopicCols = tc
	for i := range topics.Rows {
		id := topics.Value(i, tc.ID)
		if id == "" {
			continue
		}
		snap.Topics = append(snap.Topics, Topic{
			Row:             sheets.SheetRow(i),
			ID:              id,
			Title:           topics.Value(i, tc.Title),
			Specialty:       topics.Value(i, tc.Specialty),
			Supervisor:      topics.Value(i, tc.Supervisor),
			ClaimPassword:   topics.Value(i, tc.ClaimPassword),
			Claimed:         IsTruthy(topics.Value(i, tc.Claimed)),
			ClaimedFlag:     topics.Value(i, tc.Claimed),
			ClaimedAt:       ParseTimestamp(topics.Value(i, tc.ClaimedAt), loc),
			Students:        nonEmpty(topics.Value(i, tc.Student1), topics.Value(i, tc.Student2)),
			DepositPassword: topics.Value(i, tc.DepositPassword),
			Deposited:       IsTruthy(topics.Value(i, tc.Deposited)),
			DepositedFlag:   topics.Value(i, tc.Deposited),
			DepositedAt:     ParseTimestamp(topics.Value(i, tc.DepositedAt), loc),
			ArtifactRef:     topics.Value(i, tc.ArtifactRef),
			JuryPresident:   topics.Value(i, tc.JuryPresident),
			JuryExaminer:    topics.Value(i, tc.JuryExaminer),
		})
	}

	if credentials == nil {
		return snap, nil
	}
	cc, err := ResolveCredentialColumns(credentials)
	if err != nil {
		return nil, err
	}
	snap.CredentialCols = cc
	snap.HasCredentials = true
	for i := range credentials.Rows {
		supervisor := credentials.Value(i, cc.Supervisor)
		password := credentials.Value(i, cc.ClaimPassword)
		if supervisor == "" && password == "" {
			continue
		}
		snap.Credentials = append(snap.Credentials, SupervisorCredential{
			Row:           sheets.SheetRow(i),
			Supervisor:    supervisor,
			Email:         credentials.Value(i, cc.Email),
			TopicID:       credentials.Value(i, cc.TopicID),
			Title:         credentials.Value(i, cc.Title),
			ClaimPassword: password,
			State: StateOf(
				credentials.Value(i, cc.Used),
				ParseTimestamp(credentials.Value(i, cc.UsedAt), loc),
				credentials.Value(i, cc.Student1),
				credentials.Value(i, cc.Student2),
			),
		})
	}
	return snap, nil
}

// StudentByUsername finds a student by exact trimmed username.
func (s *Snapshot) StudentByUsername(username string) (*Student, bool) {
	username = strings.TrimSpace(username)
	for i := range s.Students {
		if s.Students[i].Username == username {
			return &s.Students[i], true
		}
	}
	return nil, false
}

// TopicByID finds a topic by exact trimmed id.
func (s *Snapshot) TopicByID(id string) (*Topic, bool) {
	id = strings.TrimSpace(id)
	for i := range s.Topics {
		if s.Topics[i].ID == id {
			return &s.Topics[i], true
		}
	}
	return nil, false
}

// TopicByClaimPassword finds the topic row holding the credential.
func (s *Snapshot) TopicByClaimPassword(credential string) (*Topic, bool) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, false
	}
	for i := range s.Topics {
		if s.Topics[i].ClaimPassword == credential {
			return &s.Topics[i], true
		}
	}
	return nil, false
}

// CredentialByPassword finds the mirror ledger row holding the credential.
func (s *Snapshot) CredentialByPassword(credential string) (*SupervisorCredential, bool) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, false
	}
	for i := range s.Credentials {
		if s.Credentials[i].ClaimPassword == credential {
			return &s.Credentials[i], true
		}
	}
	return nil, false
}

// CredentialsForTopic lists the mirror rows bound to a topic id.
func (s *Snapshot) CredentialsForTopic(topicID string) []*SupervisorCredential {
	topicID = strings.TrimSpace(topicID)
	out := make([]*SupervisorCredential, 0, 1)
	for i := range s.Credentials {
		if s.Credentials[i].TopicID == topicID {
			out = append(out, &s.Credentials[i])
		}
	}
	return out
}

// CredentialsForSupervisor lists the mirror rows issued by a supervisor (exact name).
func (s *Snapshot) CredentialsForSupervisor(name string) []SupervisorCredential {
	name = strings.TrimSpace(name)
	out := make([]SupervisorCredential, 0)
	for _, c := range s.Credentials {
		if c.Supervisor == name {
			out = append(out, c)
		}
	}
	return out
}
