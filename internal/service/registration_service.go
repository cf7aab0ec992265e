package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/sheets"
)

// ledgerStore is the part of the sheet gateway the coordinators need.
type ledgerStore interface {
	ledgerReader
	ReadTable(ctx context.Context, table string, fresh bool) (*sheets.Table, error)
	BatchWrite(ctx context.Context, table string, updates []sheets.CellUpdate) error
	CompareAndSwap(ctx context.Context, table string, cell sheets.CellRef, expected, value string) (bool, error)
	SupportsCAS() bool
	Invalidate(ctx context.Context, tables ...string) error
	Tables() LedgerTables
	MirrorEnabled() bool
	Location() *time.Location
}

type registrationNotifier interface {
	RegistrationCompleted(ctx context.Context, reg models.Registration)
	PartialCommit(ctx context.Context, operation string, details models.PartialCommitDetails)
}

type registrationReceipts interface {
	RegistrationReceipt(ctx context.Context, reg models.Registration) (string, error)
}

// ClaimRequest is a one-shot claim: student logins plus the claim credential.
type ClaimRequest struct {
	Mode       models.ClaimMode      `json:"mode" validate:"required,oneof=individual paired"`
	Students   []models.StudentLogin `json:"students" validate:"required,min=1,max=2,dive"`
	TopicID    string                `json:"topic_id"`
	Credential string                `json:"credential" validate:"required"`
}

// RegistrationService is the registration coordinator. It binds verified
// students to a resolved topic across the topic ledger, the supervisor mirror
// ledger and the Students table, in that order.
type RegistrationService struct {
	ledger   ledgerStore
	identity *IdentityService
	resolver *ClaimResolver
	notifier registrationNotifier
	receipts registrationReceipts
	metrics  *MetricsService
	locks    *keyedLock
	logger   *zap.Logger
	now      func() time.Time
}

// NewRegistrationService wires the coordinator. notifier and receipts are optional.
func NewRegistrationService(ledger ledgerStore, identity *IdentityService, resolver *ClaimResolver, notifier registrationNotifier, receipts registrationReceipts, metrics *MetricsService, logger *zap.Logger) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		ledger:   ledger,
		identity: identity,
		resolver: resolver,
		notifier: notifier,
		receipts: receipts,
		metrics:  metrics,
		locks:    newKeyedLock(),
		logger:   logger,
		now:      time.Now,
	}
}

// Strategy reports the active claim resolution strategy.
func (s *RegistrationService) Strategy() string { return s.resolver.Strategy() }

// Claim verifies the logins and claims the topic in one call.
func (s *RegistrationService) Claim(ctx context.Context, req ClaimRequest) (*models.Registration, error) {
	verify := VerifyRequest{Mode: req.Mode, Students: req.Students}
	if err := s.identity.Validate(verify); err != nil {
		return nil, err
	}
	usernames := make([]string, 0, len(req.Students))
	for _, login := range req.Students {
		usernames = append(usernames, strings.TrimSpace(login.Username))
	}
	return s.commit(ctx, req.Mode, usernames, req.TopicID, req.Credential, func(snap *models.Snapshot) ([]models.Student, error) {
		return s.identity.VerifyAgainst(snap, verify)
	})
}

// ClaimForSession claims the topic for students verified at login. Existence
// and the empty topic reference are re-checked on fresh data.
func (s *RegistrationService) ClaimForSession(ctx context.Context, session *models.ClaimSessionClaims, topicID, credential string) (*models.Registration, error) {
	if session == nil || len(session.Usernames) == 0 {
		return nil, appErrors.ErrSessionInvalid
	}
	return s.commit(ctx, session.Mode, session.Usernames, topicID, credential, func(snap *models.Snapshot) ([]models.Student, error) {
		return s.identity.Recheck(snap, session.Usernames)
	})
}

// Preview resolves the claim and verifies the session students on the cached
// view. Nothing is written.
func (s *RegistrationService) Preview(ctx context.Context, session *models.ClaimSessionClaims, topicID, credential string) (*models.ClaimPreview, error) {
	if session == nil || len(session.Usernames) == 0 {
		return nil, appErrors.ErrSessionInvalid
	}
	snap, err := s.ledger.Snapshot(ctx, false)
	if err != nil {
		return nil, err
	}
	students, err := s.identity.Recheck(snap, session.Usernames)
	if err != nil {
		return nil, err
	}
	target, err := s.resolver.Resolve(snap, topicID, credential)
	if err != nil {
		return nil, err
	}
	if err := checkSpecialty(students, target.Topic); err != nil {
		return nil, err
	}
	return &models.ClaimPreview{
		TopicID:    target.Topic.ID,
		Title:      target.Topic.Title,
		Specialty:  target.Topic.Specialty,
		Supervisor: target.Topic.Supervisor,
		Students:   summaries(students),
		Strategy:   target.Strategy,
	}, nil
}

func (s *RegistrationService) commit(ctx context.Context, mode models.ClaimMode, usernames []string, topicID, credential string, verify func(*models.Snapshot) ([]models.Student, error)) (reg *models.Registration, err error) {
	defer func() { s.metrics.RecordClaim(s.resolver.Strategy(), err) }()

	if strings.TrimSpace(credential) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "claim credential is required")
	}

	sorted := append([]string(nil), usernames...)
	sort.Strings(sorted)
	keys := make([]string, 0, len(sorted)+1)
	for _, u := range sorted {
		keys = append(keys, "student:"+u)
	}
	keys = append(keys, "credential:"+strings.TrimSpace(credential))
	unlock := s.locks.Lock(keys...)
	defer unlock()

	_, _, target, err := s.resolveFresh(ctx, verify, topicID, credential)
	if err != nil {
		return nil, err
	}

	unlockTopic := s.locks.Lock("topic:" + target.Topic.ID)
	defer unlockTopic()

	// Re-read under the topic lock; another request may have landed in between.
	snap, students, fresh, err := s.resolveFresh(ctx, verify, topicID, credential)
	if err != nil {
		return nil, err
	}
	if fresh.Topic.ID != target.Topic.ID {
		return nil, appErrors.Clone(appErrors.ErrConflict, "ledger changed during registration, please retry")
	}
	target = fresh

	reg, err = s.write(ctx, snap, mode, students, target)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, reg)
	return reg, nil
}

func (s *RegistrationService) resolveFresh(ctx context.Context, verify func(*models.Snapshot) ([]models.Student, error), topicID, credential string) (*models.Snapshot, []models.Student, *models.ClaimTarget, error) {
	snap, err := s.ledger.Snapshot(ctx, true)
	if err != nil {
		return nil, nil, nil, err
	}
	students, err := verify(snap)
	if err != nil {
		return nil, nil, nil, err
	}
	target, err := s.resolver.Resolve(snap, topicID, credential)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkSpecialty(students, target.Topic); err != nil {
		return nil, nil, nil, err
	}
	return snap, students, target, nil
}

func (s *RegistrationService) write(ctx context.Context, snap *models.Snapshot, mode models.ClaimMode, students []models.Student, target *models.ClaimTarget) (*models.Registration, error) {
	tables := s.ledger.Tables()
	topic := target.Topic
	now := s.now().UTC()
	stamp := models.FormatTimestamp(now, s.ledger.Location())
	names := make([]string, 0, len(students))
	usernames := make([]string, 0, len(students))
	for _, st := range students {
		name := st.DisplayName()
		if name == "" {
			name = st.Username
		}
		names = append(names, name)
		usernames = append(usernames, st.Username)
	}
	partial := func(step string, completed []string, cause error) error {
		details := models.PartialCommitDetails{
			TopicID:        topic.ID,
			CompletedSteps: completed,
			FailedStep:     step,
			Students:       usernames,
		}
		s.logger.Error("registration partially committed",
			zap.String("topic_id", topic.ID),
			zap.String("failed_step", step),
			zap.Strings("completed_steps", completed),
			zap.Strings("students", usernames),
			zap.Error(cause))
		s.metrics.RecordPartialCommit("registration", step)
		_ = s.ledger.Invalidate(ctx)
		if s.notifier != nil {
			s.notifier.PartialCommit(ctx, "registration", details)
		}
		wrapped := appErrors.WithDetails(appErrors.ErrPartialCommit,
			fmt.Sprintf("topic %s was written but step %s failed; an operator must reconcile it", topic.ID, step), details)
		wrapped.Err = cause
		return wrapped
	}

	// 1. Topic ledger.
	tc := snap.TopicCols
	claimedCell := sheets.Cell(topic.Row, tc.Claimed)
	detailCells := []sheets.CellUpdate{{Cell: sheets.Cell(topic.Row, tc.ClaimedAt), Value: stamp}}
	detailCells = append(detailCells, sheets.CellUpdate{Cell: sheets.Cell(topic.Row, tc.Student1), Value: names[0]})
	if tc.Student2 > 0 {
		second := ""
		if len(names) > 1 {
			second = names[1]
		}
		detailCells = append(detailCells, sheets.CellUpdate{Cell: sheets.Cell(topic.Row, tc.Student2), Value: second})
	}

	completed := make([]string, 0, 3)
	if s.ledger.SupportsCAS() {
		release, err := s.bindCredential(ctx, snap, target)
		if err != nil {
			return nil, err
		}
		swapped, err := s.ledger.CompareAndSwap(ctx, tables.Topics, claimedCell, topic.ClaimedFlag, models.FlagYes)
		if err != nil {
			release()
			return nil, err
		}
		if !swapped {
			release()
			return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, fmt.Sprintf("topic %s is already claimed", topic.ID))
		}
		completed = append(completed, models.StepTopicLedger)
		if err := s.ledger.BatchWrite(ctx, tables.Topics, detailCells); err != nil {
			return nil, partial(models.StepTopicDetails, completed, err)
		}
	} else {
		updates := append([]sheets.CellUpdate{{Cell: claimedCell, Value: models.FlagYes}}, detailCells...)
		if err := s.ledger.BatchWrite(ctx, tables.Topics, updates); err != nil {
			return nil, err
		}
		completed = append(completed, models.StepTopicLedger)
		if err := s.confirmTopicWrite(ctx, topic, names[0]); err != nil {
			if errors.Is(err, appErrors.ErrAlreadyClaimed) {
				return nil, err
			}
			return nil, partial(models.StepClaimVerification, completed, err)
		}
	}

	// 2. Supervisor mirror ledger.
	if s.ledger.MirrorEnabled() && snap.HasCredentials {
		rows := mirrorRowsToMark(snap, target)
		if len(rows) > 0 {
			updates := mirrorUpdates(snap.CredentialCols, rows, topic.ID, stamp, names)
			if err := s.ledger.BatchWrite(ctx, tables.Credentials, updates); err != nil {
				return nil, partial(models.StepMirrorLedger, completed, err)
			}
			completed = append(completed, models.StepMirrorLedger)
		}
	}

	// 3. Students table back-references.
	refs := make([]sheets.CellUpdate, 0, len(students))
	for _, st := range students {
		refs = append(refs, sheets.CellUpdate{Cell: sheets.Cell(st.Row, snap.StudentCols.TopicRef), Value: topic.ID})
	}
	if err := s.ledger.BatchWrite(ctx, tables.Students, refs); err != nil {
		return nil, partial(models.StepStudents, completed, err)
	}

	s.logger.Info("topic claimed",
		zap.String("topic_id", topic.ID),
		zap.Strings("students", usernames),
		zap.String("strategy", target.Strategy))

	return &models.Registration{
		TopicID:    topic.ID,
		Title:      topic.Title,
		Specialty:  topic.Specialty,
		Supervisor: topic.Supervisor,
		Mode:       mode,
		Students:   summaries(students),
		ClaimedAt:  now,
		Strategy:   target.Strategy,
	}, nil
}

// confirmTopicWrite re-reads the topic row after an unconditional write. If
// another writer's names are bound the claim is lost to them. Any outcome that
// cannot be confirmed is returned as an error.
func (s *RegistrationService) confirmTopicWrite(ctx context.Context, topic models.Topic, firstName string) error {
	table, err := s.ledger.ReadTable(ctx, s.ledger.Tables().Topics, true)
	if err != nil {
		return fmt.Errorf("verify claim of topic %s: %w", topic.ID, err)
	}
	cols, err := models.ResolveTopicColumns(table)
	if err != nil {
		return fmt.Errorf("verify claim of topic %s: %w", topic.ID, err)
	}
	idx := topic.Row - sheets.HeaderRow - 1
	if got := table.Value(idx, cols.ID); got != topic.ID {
		return fmt.Errorf("verify claim of topic %s: row %d now holds %q", topic.ID, topic.Row, got)
	}
	if bound := table.Value(idx, cols.Student1); bound != firstName {
		s.logger.Warn("claim lost to a concurrent writer", zap.String("topic_id", topic.ID), zap.String("bound", bound))
		return appErrors.Clone(appErrors.ErrAlreadyClaimed, fmt.Sprintf("topic %s is already claimed", topic.ID))
	}
	return nil
}

// bindCredential reserves an unbound mirror credential for the topic with a
// conditional write on its TopicID cell, so the same credential cannot bind two
// topics even across processes. The returned release undoes the reservation
// when the topic flag is not won.
func (s *RegistrationService) bindCredential(ctx context.Context, snap *models.Snapshot, target *models.ClaimTarget) (func(), error) {
	row := target.Credential
	cols := snap.CredentialCols
	if row == nil || row.TopicID != "" || !s.ledger.MirrorEnabled() || !snap.HasCredentials || cols.TopicID == 0 {
		return func() {}, nil
	}
	table := s.ledger.Tables().Credentials
	cell := sheets.Cell(row.Row, cols.TopicID)
	topicID := target.Topic.ID
	swapped, err := s.ledger.CompareAndSwap(ctx, table, cell, "", topicID)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, appErrors.Clone(appErrors.ErrAlreadyClaimed, "claim credential has already been used")
	}
	return func() {
		if ok, err := s.ledger.CompareAndSwap(context.WithoutCancel(ctx), table, cell, topicID, ""); err != nil || !ok {
			s.logger.Error("failed to release credential reservation",
				zap.String("topic_id", topicID), zap.Int("row", row.Row), zap.Bool("swapped", ok), zap.Error(err))
		}
	}, nil
}

func (s *RegistrationService) afterCommit(ctx context.Context, reg *models.Registration) {
	if err := s.ledger.Invalidate(ctx); err != nil {
		s.logger.Warn("cache invalidation after registration failed", zap.String("topic_id", reg.TopicID), zap.Error(err))
	}
	if s.receipts != nil {
		url, err := s.receipts.RegistrationReceipt(ctx, *reg)
		if err != nil {
			s.logger.Warn("registration receipt failed", zap.String("topic_id", reg.TopicID), zap.Error(err))
		} else {
			reg.ReceiptURL = url
		}
	}
	if s.notifier != nil {
		s.notifier.RegistrationCompleted(ctx, *reg)
	}
}

// mirrorRowsToMark returns the resolved credential row plus any other rows bound
// to the topic, so every credential of a claimed topic reads as used.
func mirrorRowsToMark(snap *models.Snapshot, target *models.ClaimTarget) []*models.SupervisorCredential {
	rows := make([]*models.SupervisorCredential, 0, 2)
	seen := map[int]struct{}{}
	if target.Credential != nil {
		rows = append(rows, target.Credential)
		seen[target.Credential.Row] = struct{}{}
	}
	for _, row := range snap.CredentialsForTopic(target.Topic.ID) {
		if _, dup := seen[row.Row]; dup {
			continue
		}
		seen[row.Row] = struct{}{}
		rows = append(rows, row)
	}
	return rows
}

func mirrorUpdates(cols models.CredentialColumns, rows []*models.SupervisorCredential, topicID, stamp string, names []string) []sheets.CellUpdate {
	second := ""
	if len(names) > 1 {
		second = names[1]
	}
	updates := make([]sheets.CellUpdate, 0, len(rows)*5)
	for _, row := range rows {
		updates = append(updates, sheets.CellUpdate{Cell: sheets.Cell(row.Row, cols.Used), Value: models.FlagYes})
		if cols.UsedAt > 0 {
			updates = append(updates, sheets.CellUpdate{Cell: sheets.Cell(row.Row, cols.UsedAt), Value: stamp})
		}
		if cols.Student1 > 0 {
			updates = append(updates, sheets.CellUpdate{Cell: sheets.Cell(row.Row, cols.Student1), Value: names[0]})
		}
		if cols.Student2 > 0 {
			updates = append(updates, sheets.CellUpdate{Cell: sheets.Cell(row.Row, cols.Student2), Value: second})
		}
		if cols.TopicID > 0 && row.TopicID == "" {
			updates = append(updates, sheets.CellUpdate{Cell: sheets.Cell(row.Row, cols.TopicID), Value: topicID})
		}
	}
	return updates
}

func checkSpecialty(students []models.Student, topic models.Topic) error {
	want := strings.TrimSpace(topic.Specialty)
	if want == "" {
		return nil
	}
	for _, st := range students {
		have := strings.TrimSpace(st.Specialty)
		if have != "" && !strings.EqualFold(have, want) {
			return appErrors.Clone(appErrors.ErrSpecialtyMismatch,
				fmt.Sprintf("student %q is enrolled in %s, topic %s belongs to %s", st.Username, have, topic.ID, want))
		}
	}
	return nil
}

func summaries(students []models.Student) []models.StudentSummary {
	out := make([]models.StudentSummary, 0, len(students))
	for _, st := range students {
		out = append(out, st.Summary())
	}
	return out
}
