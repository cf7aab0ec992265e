package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
)

// ReconciliationService reports cross-ledger inconsistencies left behind by
// interrupted write sequences or manual edits. It never repairs anything.
type ReconciliationService struct {
	ledger    ledgerStore
	artifacts artifactChecker
	logger    *zap.Logger
	now       func() time.Time
}

type artifactChecker interface {
	Exists(name string) (bool, error)
}

// NewReconciliationService constructs the reporter.
func NewReconciliationService(ledger ledgerStore, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{ledger: ledger, logger: logger, now: time.Now}
}

// UseArtifacts adds deposited-document checks against the artifact store.
func (s *ReconciliationService) UseArtifacts(store artifactChecker) {
	s.artifacts = store
}

// Report compares the three ledgers on fresh data.
func (s *ReconciliationService) Report(ctx context.Context) (*models.ReconciliationReport, error) {
	snap, err := s.ledger.Snapshot(ctx, true)
	if err != nil {
		return nil, err
	}
	tables := s.ledger.Tables()
	report := Reconcile(snap, tables)
	if s.artifacts != nil {
		if err := s.reconcileArtifacts(snap, tables, report); err != nil {
			return nil, err
		}
	}
	report.GeneratedAt = s.now().UTC()
	if !report.Consistent() {
		s.logger.Warn("ledger discrepancies found", zap.Int("count", len(report.Discrepancies)))
	}
	return report, nil
}

// Reconcile inspects a snapshot for discrepancies.
func Reconcile(snap *models.Snapshot, tables LedgerTables) *models.ReconciliationReport {
	report := &models.ReconciliationReport{Discrepancies: []models.Discrepancy{}}
	add := func(kind, table string, row int, topicID, detail string) {
		report.Discrepancies = append(report.Discrepancies, models.Discrepancy{
			Kind: kind, Table: table, Row: row, TopicID: topicID, Detail: detail,
		})
	}

	byID := make(map[string]*models.Topic, len(snap.Topics))
	for i := range snap.Topics {
		t := &snap.Topics[i]
		byID[t.ID] = t
		report.TopicsTotal++
		if t.Claimed {
			report.TopicsClaimed++
		}
		if t.Deposited {
			report.TopicsDeposited++
		}
		switch {
		case t.Claimed && len(t.Students) == 0:
			add(models.DiscrepancyClaimedWithoutStudents, tables.Topics, t.Row, t.ID, "topic is claimed but no student is bound")
		case !t.Claimed && len(t.Students) > 0:
			add(models.DiscrepancyStudentsWithoutClaim, tables.Topics, t.Row, t.ID,
				fmt.Sprintf("students %s are bound but the claimed flag is not set", strings.Join(t.Students, ", ")))
		}
		if t.Claimed && t.ClaimedAt.IsZero() {
			add(models.DiscrepancyClaimedWithoutTimestamp, tables.Topics, t.Row, t.ID, "topic is claimed but has no registration time")
		}
		if t.Deposited && !t.Claimed {
			add(models.DiscrepancyDepositedUnclaimed, tables.Topics, t.Row, t.ID, "topic is deposited but not claimed")
		}
	}

	for _, c := range snap.Credentials {
		if c.TopicID == "" {
			continue
		}
		topic, ok := byID[c.TopicID]
		if !ok {
			continue
		}
		if c.IsUsed() != topic.Claimed {
			add(models.DiscrepancyCredentialMismatch, tables.Credentials, c.Row, c.TopicID,
				fmt.Sprintf("credential used=%t but topic claimed=%t", c.IsUsed(), topic.Claimed))
		}
	}

	for _, st := range snap.Students {
		if !st.Registered() {
			continue
		}
		report.StudentsBound++
		ref := strings.TrimSpace(st.TopicRef)
		topic, ok := byID[ref]
		if !ok {
			add(models.DiscrepancyDanglingTopicRef, tables.Students, st.Row, ref,
				fmt.Sprintf("student %s references unknown topic %s", st.Username, ref))
			continue
		}
		if !topic.Claimed || !boundOnTopic(st, topic) {
			add(models.DiscrepancyUnboundStudent, tables.Students, st.Row, ref,
				fmt.Sprintf("student %s references topic %s which does not list them", st.Username, ref))
		}
	}
	return report
}

// reconcileArtifacts flags documents stored without the deposited flag, left by
// a deposit that stopped before its flag write, and flags without a document.
func (s *ReconciliationService) reconcileArtifacts(snap *models.Snapshot, tables LedgerTables, report *models.ReconciliationReport) error {
	for _, t := range snap.Topics {
		name := ArtifactName(t.ID)
		stored, err := s.artifacts.Exists(name)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect deposited documents")
		}
		switch {
		case stored && !t.Deposited:
			report.Discrepancies = append(report.Discrepancies, models.Discrepancy{
				Kind: models.DiscrepancyArtifactWithoutDeposit, Table: tables.Topics, Row: t.Row, TopicID: t.ID,
				Detail: fmt.Sprintf("document %s is stored but the topic is not marked deposited", name),
			})
		case !stored && t.Deposited:
			report.Discrepancies = append(report.Discrepancies, models.Discrepancy{
				Kind: models.DiscrepancyDepositWithoutArtifact, Table: tables.Topics, Row: t.Row, TopicID: t.ID,
				Detail: fmt.Sprintf("topic is marked deposited but %s is not stored", name),
			})
		}
	}
	return nil
}

func boundOnTopic(st models.Student, topic *models.Topic) bool {
	name := st.DisplayName()
	for _, bound := range topic.Students {
		if bound == name || bound == st.Username {
			return true
		}
	}
	return false
}
