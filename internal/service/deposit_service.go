package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/sheets"
	"github.com/noah-isme/memo-registry-api/pkg/storage"
)

const (
	depositContentType = "application/pdf"
	depositDir         = "deposits"
)

var unsafeArtifactChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

type artifactStorage interface {
	UploadArtifact(ctx context.Context, r io.Reader, suggestedName string) (string, error)
	Exists(name string) (bool, error)
	Delete(name string) error
}

type urlSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
}

type depositNotifier interface {
	DepositCompleted(ctx context.Context, dep models.Deposit)
	PartialCommit(ctx context.Context, operation string, details models.PartialCommitDetails)
}

type depositReceipts interface {
	DepositReceipt(ctx context.Context, dep models.Deposit) (string, error)
}

// DepositRequest identifies the topic and carries its deposit credential.
type DepositRequest struct {
	TopicID    string `json:"topic_id" validate:"required"`
	Credential string `json:"credential" validate:"required"`
}

// DepositUpload is the document being deposited.
type DepositUpload struct {
	Reader      io.Reader
	Size        int64
	ContentType string
	Filename    string
}

// DepositServiceConfig tunes deposit validation.
type DepositServiceConfig struct {
	MaxFileSize int64
	FileBaseURL string
}

// DepositService is the deposit coordinator: it accepts the final document of a
// claimed topic exactly once.
type DepositService struct {
	ledger    ledgerStore
	storage   artifactStorage
	signer    urlSigner
	notifier  depositNotifier
	receipts  depositReceipts
	metrics   *MetricsService
	validator *validator.Validate
	cfg       DepositServiceConfig
	locks     *keyedLock
	logger    *zap.Logger
	now       func() time.Time
}

// NewDepositService constructs the coordinator. notifier and receipts are optional.
func NewDepositService(ledger ledgerStore, store artifactStorage, signer urlSigner, notifier depositNotifier, receipts depositReceipts, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg DepositServiceConfig) *DepositService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 20 << 20
	}
	if cfg.FileBaseURL == "" {
		cfg.FileBaseURL = "/api/v1/files"
	}
	return &DepositService{
		ledger:    ledger,
		storage:   store,
		signer:    signer,
		notifier:  notifier,
		receipts:  receipts,
		metrics:   metrics,
		validator: validate,
		cfg:       cfg,
		locks:     newKeyedLock(),
		logger:    logger,
		now:       time.Now,
	}
}

// ArtifactName is the storage name of a topic's deposited document. It depends
// on the topic id only, so retrieval needs no secondary index.
func ArtifactName(topicID string) string {
	safe := unsafeArtifactChars.ReplaceAllString(strings.TrimSpace(topicID), "_")
	return fmt.Sprintf("%s/memo_%s.pdf", depositDir, safe)
}

// Deposit verifies the topic and credential, stores the document and marks the
// topic deposited.
func (s *DepositService) Deposit(ctx context.Context, req DepositRequest, upload DepositUpload) (dep *models.Deposit, err error) {
	defer func() { s.metrics.RecordDeposit(err) }()

	req.TopicID = strings.TrimSpace(req.TopicID)
	req.Credential = strings.TrimSpace(req.Credential)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid deposit payload")
	}
	if err := s.validateUpload(upload); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("topic:" + req.TopicID)
	defer unlock()

	snap, err := s.ledger.Snapshot(ctx, true)
	if err != nil {
		return nil, err
	}
	topic, ok := snap.TopicByID(req.TopicID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "topic not found")
	}
	if !topic.Claimed {
		return nil, appErrors.Clone(appErrors.ErrNotRegistered, fmt.Sprintf("topic %s has not been registered", topic.ID))
	}
	if topic.Deposited {
		return nil, appErrors.Clone(appErrors.ErrAlreadyDeposited, fmt.Sprintf("topic %s has already been deposited", topic.ID))
	}
	if topic.DepositPassword == "" || !PasswordMatches(topic.DepositPassword, req.Credential) {
		return nil, appErrors.Clone(appErrors.ErrBadCredential, "deposit credential does not match topic")
	}
	cols := snap.TopicCols
	if cols.Deposited == 0 {
		return nil, appErrors.Clone(appErrors.ErrInternal, "topics table has no Deposited column")
	}

	name := ArtifactName(topic.ID)
	counter := &countingReader{r: upload.Reader}
	artifact, err := s.storage.UploadArtifact(ctx, io.LimitReader(counter, s.cfg.MaxFileSize+1), name)
	if err != nil {
		if errors.Is(err, storage.ErrExists) {
			// fresh read says not deposited: an earlier attempt stopped before its flag
			return nil, s.partialCommit(ctx, models.PartialCommitDetails{
				TopicID:        topic.ID,
				CompletedSteps: []string{models.StepArtifactUpload},
				FailedStep:     models.StepDepositFlag,
			}, fmt.Sprintf("a document for topic %s is stored but the topic is not marked deposited; an operator must reconcile it", topic.ID), err)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}
	if counter.n > s.cfg.MaxFileSize {
		s.discard(artifact)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document exceeds %d bytes", s.cfg.MaxFileSize))
	}

	now := s.now().UTC()
	tables := s.ledger.Tables()
	flag := sheets.Cell(topic.Row, cols.Deposited)
	if s.ledger.SupportsCAS() {
		swapped, err := s.ledger.CompareAndSwap(ctx, tables.Topics, flag, topic.DepositedFlag, models.FlagYes)
		if err != nil {
			s.discard(artifact)
			return nil, err
		}
		if !swapped {
			// flag set by another writer; the stored document is ours and must not linger
			s.discard(artifact)
			return nil, appErrors.Clone(appErrors.ErrAlreadyDeposited, fmt.Sprintf("topic %s has already been deposited", topic.ID))
		}
	} else if err := s.ledger.BatchWrite(ctx, tables.Topics, []sheets.CellUpdate{{Cell: flag, Value: models.FlagYes}}); err != nil {
		s.discard(artifact)
		return nil, err
	}

	details := make([]sheets.CellUpdate, 0, 2)
	if cols.DepositedAt > 0 {
		details = append(details, sheets.CellUpdate{Cell: sheets.Cell(topic.Row, cols.DepositedAt), Value: models.FormatTimestamp(now, s.ledger.Location())})
	}
	if cols.ArtifactRef > 0 {
		details = append(details, sheets.CellUpdate{Cell: sheets.Cell(topic.Row, cols.ArtifactRef), Value: artifact})
	}
	if err := s.ledger.BatchWrite(ctx, tables.Topics, details); err != nil {
		return nil, s.partialCommit(ctx, models.PartialCommitDetails{
			TopicID:        topic.ID,
			CompletedSteps: []string{models.StepArtifactUpload, models.StepDepositFlag},
			FailedStep:     models.StepDepositDetails,
		}, fmt.Sprintf("topic %s is marked deposited but its details were not recorded", topic.ID), err)
	}

	if err := s.ledger.Invalidate(ctx, tables.Topics); err != nil {
		s.logger.Warn("cache invalidation after deposit failed", zap.String("topic_id", topic.ID), zap.Error(err))
	}
	s.logger.Info("topic deposited", zap.String("topic_id", topic.ID), zap.String("artifact", artifact), zap.Int64("bytes", counter.n))

	dep = &models.Deposit{
		TopicID:     topic.ID,
		Title:       topic.Title,
		Students:    topic.Students,
		ArtifactRef: artifact,
		SizeBytes:   counter.n,
		DepositedAt: now,
	}
	if s.receipts != nil {
		if url, err := s.receipts.DepositReceipt(ctx, *dep); err != nil {
			s.logger.Warn("deposit receipt failed", zap.String("topic_id", topic.ID), zap.Error(err))
		} else {
			dep.ReceiptURL = url
		}
	}
	if s.notifier != nil {
		s.notifier.DepositCompleted(ctx, *dep)
	}
	return dep, nil
}

func (s *DepositService) partialCommit(ctx context.Context, pc models.PartialCommitDetails, msg string, cause error) error {
	s.logger.Error("deposit partially committed",
		zap.String("topic_id", pc.TopicID),
		zap.String("failed_step", pc.FailedStep),
		zap.Strings("completed_steps", pc.CompletedSteps),
		zap.Error(cause))
	s.metrics.RecordPartialCommit("deposit", pc.FailedStep)
	_ = s.ledger.Invalidate(ctx, s.ledger.Tables().Topics)
	if s.notifier != nil {
		s.notifier.PartialCommit(ctx, "deposit", pc)
	}
	wrapped := appErrors.WithDetails(appErrors.ErrPartialCommit, msg, pc)
	wrapped.Err = cause
	return wrapped
}

// ArtifactURL returns a signed download link for a topic's deposited document.
func (s *DepositService) ArtifactURL(ctx context.Context, topicID string) (*models.ArtifactLink, error) {
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "topic id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := ArtifactName(topicID)
	ok, err := s.storage.Exists(name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up document")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no document deposited for this topic")
	}
	token, expires, err := s.signer.Generate(topicID, name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	return &models.ArtifactLink{
		TopicID:   topicID,
		URL:       fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.FileBaseURL, "/"), token),
		ExpiresAt: expires,
	}, nil
}

func (s *DepositService) validateUpload(upload DepositUpload) error {
	if upload.Reader == nil {
		return appErrors.Clone(appErrors.ErrValidation, "document file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document exceeds %d bytes", s.cfg.MaxFileSize))
	}
	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(upload.ContentType, ";", 2)[0]))
	if contentType != depositContentType {
		return appErrors.Clone(appErrors.ErrValidation, "only PDF documents are accepted")
	}
	return nil
}

func (s *DepositService) discard(artifact string) {
	if err := s.storage.Delete(artifact); err != nil {
		s.logger.Warn("failed to remove orphaned artifact", zap.String("artifact", artifact), zap.Error(err))
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
