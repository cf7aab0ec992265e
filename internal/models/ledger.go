package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/memo-registry-api/pkg/sheets"
)

// FlagYes is the value written into boolean ledger columns.
const FlagYes = "yes"

// TimestampLayout is the textual layout of ledger timestamps.
const TimestampLayout = "2006-01-02 15:04"

// Students table headers.
const (
	ColStudentRegistration = "Registration"
	ColStudentSurname      = "Surname"
	ColStudentFirstName    = "FirstName"
	ColStudentSpecialty    = "Specialty"
	ColStudentUsername     = "Username"
	ColStudentPassword     = "Password"
	ColStudentTopicRef     = "TopicRef"
	ColStudentEmail        = "Email"
)

// Topics table headers.
const (
	ColTopicID              = "TopicID"
	ColTopicTitle           = "Title"
	ColTopicSpecialty       = "Specialty"
	ColTopicSupervisor      = "Supervisor"
	ColTopicClaimPassword   = "ClaimPassword"
	ColTopicClaimed         = "Claimed"
	ColTopicClaimedAt       = "ClaimedAt"
	ColTopicStudent1        = "Student1"
	ColTopicStudent2        = "Student2"
	ColTopicDepositPassword = "DepositPassword"
	ColTopicDeposited       = "Deposited"
	ColTopicDepositedAt     = "DepositedAt"
	ColTopicArtifactRef     = "ArtifactRef"
	ColTopicJuryPresident   = "JuryPresident"
	ColTopicJuryExaminer    = "JuryExaminer"
)

// SupervisorCredentials table headers.
const (
	ColCredSupervisor    = "Supervisor"
	ColCredTopicID       = "TopicID"
	ColCredTitle         = "Title"
	ColCredClaimPassword = "ClaimPassword"
	ColCredUsed          = "Used"
	ColCredUsedAt        = "UsedAt"
	ColCredStudent1      = "Student1"
	ColCredStudent2      = "Student2"
)

// CredentialEmailColumns lists accepted headers for the supervisor address, in priority order.
var CredentialEmailColumns = []string{"Email", "E-mail", "Mail"}

var truthy = map[string]struct{}{
	"yes":  {},
	"true": {},
	"1":    {},
	"نعم":  {},
}

// IsTruthy interprets a ledger flag cell.
func IsTruthy(raw string) bool {
	_, ok := truthy[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// FormatTimestamp renders t in loc using TimestampLayout.
func FormatTimestamp(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(TimestampLayout)
}

// ParseTimestamp parses a ledger timestamp; zero time when empty or malformed.
func ParseTimestamp(raw string, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{TimestampLayout, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

// StudentColumns holds 1-based column positions resolved from the Students header.
type StudentColumns struct {
	Registration, Surname, FirstName, Specialty, Username, Password, TopicRef, Email int
}

// TopicColumns holds 1-based column positions resolved from the Topics header.
type TopicColumns struct {
	ID, Title, Specialty, Supervisor, ClaimPassword, Claimed, ClaimedAt, Student1, Student2 int
	DepositPassword, Deposited, DepositedAt, ArtifactRef, JuryPresident, JuryExaminer      int
}

// CredentialColumns holds 1-based column positions resolved from the SupervisorCredentials header.
type CredentialColumns struct {
	Supervisor, Email, TopicID, Title, ClaimPassword, Used, UsedAt, Student1, Student2 int
}

// ResolveStudentColumns locates the Students columns and requires those the coordinator writes or matches on.
func ResolveStudentColumns(t *sheets.Table) (StudentColumns, error) {
	cols := StudentColumns{
		Registration: t.Column(ColStudentRegistration),
		Surname:      t.Column(ColStudentSurname),
		FirstName:    t.Column(ColStudentFirstName),
		Specialty:    t.Column(ColStudentSpecialty),
		Username:     t.Column(ColStudentUsername),
		Password:     t.Column(ColStudentPassword),
		TopicRef:     t.Column(ColStudentTopicRef),
		Email:        t.Column(ColStudentEmail),
	}
	return cols, requireColumns(t, map[string]int{
		ColStudentUsername: cols.Username,
		ColStudentPassword: cols.Password,
		ColStudentTopicRef: cols.TopicRef,
	})
}

// ResolveTopicColumns locates the Topics columns.
func ResolveTopicColumns(t *sheets.Table) (TopicColumns, error) {
	cols := TopicColumns{
		ID:              t.Column(ColTopicID),
		Title:           t.Column(ColTopicTitle),
		Specialty:       t.Column(ColTopicSpecialty),
		Supervisor:      t.Column(ColTopicSupervisor),
		ClaimPassword:   t.Column(ColTopicClaimPassword),
		Claimed:         t.Column(ColTopicClaimed),
		ClaimedAt:       t.Column(ColTopicClaimedAt),
		Student1:        t.Column(ColTopicStudent1),
		Student2:        t.Column(ColTopicStudent2),
		DepositPassword: t.Column(ColTopicDepositPassword),
		Deposited:       t.Column(ColTopicDeposited),
		DepositedAt:     t.Column(ColTopicDepositedAt),
		ArtifactRef:     t.Column(ColTopicArtifactRef),
		JuryPresident:   t.Column(ColTopicJuryPresident),
		JuryExaminer:    t.Column(ColTopicJuryExaminer),
	}
	return cols, requireColumns(t, map[string]int{
		ColTopicID:        cols.ID,
		ColTopicClaimed:   cols.Claimed,
		ColTopicClaimedAt: cols.ClaimedAt,
		ColTopicStudent1:  cols.Student1,
	})
}

// ResolveCredentialColumns locates the SupervisorCredentials columns.
func ResolveCredentialColumns(t *sheets.Table) (CredentialColumns, error) {
	cols := CredentialColumns{
		Supervisor:    t.Column(ColCredSupervisor),
		Email:         t.FirstColumn(CredentialEmailColumns...),
		TopicID:       t.Column(ColCredTopicID),
		Title:         t.Column(ColCredTitle),
		ClaimPassword: t.Column(ColCredClaimPassword),
		Used:          t.Column(ColCredUsed),
		UsedAt:        t.Column(ColCredUsedAt),
		Student1:      t.Column(ColCredStudent1),
		Student2:      t.Column(ColCredStudent2),
	}
	return cols, requireColumns(t, map[string]int{
		ColCredSupervisor:    cols.Supervisor,
		ColCredClaimPassword: cols.ClaimPassword,
		ColCredUsed:          cols.Used,
	})
}

func requireColumns(t *sheets.Table, cols map[string]int) error {
	missing := make([]string, 0)
	for name, idx := range cols {
		if idx == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("table %s is missing columns %s", t.Name, strings.Join(sortStrings(missing), ", "))
	}
	return nil
}

func sortStrings(in []string) []string {
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j] < in[j-1]; j-- {
			in[j], in[j-1] = in[j-1], in[j]
		}
	}
	return in
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
