package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/pkg/export"
)

const receiptDir = "receipts"

type receiptRenderer interface {
	RenderReceipt(r export.Receipt) ([]byte, error)
}

type receiptStorage interface {
	Save(filename string, data []byte) (string, error)
}

// ReceiptServiceConfig configures receipt links.
type ReceiptServiceConfig struct {
	BaseURL  string
	Footer   string
	Location *time.Location
}

// ReceiptService renders PDF acknowledgements and hands out signed links to them.
type ReceiptService struct {
	renderer receiptRenderer
	storage  receiptStorage
	signer   urlSigner
	cfg      ReceiptServiceConfig
	logger   *zap.Logger
}

// NewReceiptService constructs the receipt collaborator.
func NewReceiptService(renderer receiptRenderer, store receiptStorage, signer urlSigner, cfg ReceiptServiceConfig, logger *zap.Logger) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "/api/v1/receipts"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &ReceiptService{renderer: renderer, storage: store, signer: signer, cfg: cfg, logger: logger}
}

// RegistrationReceipt renders and stores the acknowledgement of a claim.
func (s *ReceiptService) RegistrationReceipt(ctx context.Context, reg models.Registration) (string, error) {
	names := make([]string, 0, len(reg.Students))
	for _, st := range reg.Students {
		label := st.Name
		if st.Registration != "" {
			label = fmt.Sprintf("%s (%s)", st.Name, st.Registration)
		}
		names = append(names, label)
	}
	receipt := export.Receipt{
		Title:    "Memo registration receipt",
		Subtitle: fmt.Sprintf("Topic %s", reg.TopicID),
		Fields: []export.Field{
			{Label: "Topic", Value: reg.TopicID},
			{Label: "Title", Value: reg.Title},
			{Label: "Specialty", Value: reg.Specialty},
			{Label: "Supervisor", Value: reg.Supervisor},
			{Label: "Students", Value: strings.Join(names, ", ")},
			{Label: "Registered at", Value: models.FormatTimestamp(reg.ClaimedAt, s.cfg.Location)},
		},
		Footer: s.cfg.Footer,
	}
	return s.issue(ctx, "registration", reg.TopicID, reg.ClaimedAt, receipt)
}

// DepositReceipt renders and stores the acknowledgement of a deposit.
func (s *ReceiptService) DepositReceipt(ctx context.Context, dep models.Deposit) (string, error) {
	receipt := export.Receipt{
		Title:    "Memo deposit receipt",
		Subtitle: fmt.Sprintf("Topic %s", dep.TopicID),
		Fields: []export.Field{
			{Label: "Topic", Value: dep.TopicID},
			{Label: "Title", Value: dep.Title},
			{Label: "Students", Value: strings.Join(dep.Students, ", ")},
			{Label: "Document", Value: dep.ArtifactRef},
			{Label: "Size", Value: fmt.Sprintf("%d bytes", dep.SizeBytes)},
			{Label: "Deposited at", Value: models.FormatTimestamp(dep.DepositedAt, s.cfg.Location)},
		},
		Footer: s.cfg.Footer,
	}
	return s.issue(ctx, "deposit", dep.TopicID, dep.DepositedAt, receipt)
}

func (s *ReceiptService) issue(ctx context.Context, kind, topicID string, at time.Time, receipt export.Receipt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := s.renderer.RenderReceipt(receipt)
	if err != nil {
		return "", fmt.Errorf("render %s receipt: %w", kind, err)
	}
	safe := unsafeArtifactChars.ReplaceAllString(topicID, "_")
	name := fmt.Sprintf("%s/%s_%s_%d.pdf", receiptDir, kind, safe, at.Unix())
	stored, err := s.storage.Save(name, data)
	if err != nil {
		return "", fmt.Errorf("store %s receipt: %w", kind, err)
	}
	token, _, err := s.signer.Generate(topicID, stored)
	if err != nil {
		return "", fmt.Errorf("sign %s receipt: %w", kind, err)
	}
	s.logger.Debug("receipt issued", zap.String("kind", kind), zap.String("topic_id", topicID), zap.String("file", stored))
	return fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), token), nil
}
