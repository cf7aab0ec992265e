package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/export"
)

const (
	defaultTopicPageSize = 50
	maxTopicPageSize     = 200
)

// Supported topic export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportFile is a rendered ledger export.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// TopicService serves the display listing of topics and the ledger export.
// Claim and deposit passwords never leave this service.
type TopicService struct {
	ledger ledgerReader
	csv    csvRenderer
	pdf    pdfRenderer
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time
}

// NewTopicService constructs the listing service.
func NewTopicService(ledger ledgerReader, csv csvRenderer, pdf pdfRenderer, loc *time.Location, logger *zap.Logger) *TopicService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &TopicService{ledger: ledger, csv: csv, pdf: pdf, loc: loc, logger: logger, now: time.Now}
}

// List returns a page of topics from the cached view.
func (s *TopicService) List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, *models.Pagination, error) {
	snap, err := s.ledger.Snapshot(ctx, false)
	if err != nil {
		return nil, nil, err
	}
	matched := filterTopics(snap.Topics, filter)

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = defaultTopicPageSize
	}
	if size > maxTopicPageSize {
		size = maxTopicPageSize
	}
	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], &models.Pagination{Page: page, PageSize: size, TotalCount: len(matched)}, nil
}

// Export renders the full topic ledger as CSV or PDF.
func (s *TopicService) Export(ctx context.Context, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	snap, err := s.ledger.Snapshot(ctx, true)
	if err != nil {
		return nil, err
	}
	dataset := s.topicDataset(snap.Topics)
	stamp := s.now().In(s.loc).Format("20060102_150405")

	var (
		data        []byte
		contentType string
	)
	switch format {
	case ExportFormatPDF:
		data, err = s.pdf.Render(dataset, "Topic ledger")
		contentType = "application/pdf"
	default:
		data, err = s.csv.Render(dataset)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("topic ledger exported", zap.String("format", format), zap.Int("rows", len(dataset.Rows)))
	return &ExportFile{
		Filename:    fmt.Sprintf("topics_%s.%s", stamp, format),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func (s *TopicService) topicDataset(topics []models.Topic) export.Dataset {
	headers := []string{"Topic", "Title", "Specialty", "Supervisor", "Claimed", "Claimed at", "Students", "Deposited", "Deposited at"}
	rows := make([]map[string]string, 0, len(topics))
	for _, t := range topics {
		rows = append(rows, map[string]string{
			"Topic":        t.ID,
			"Title":        t.Title,
			"Specialty":    t.Specialty,
			"Supervisor":   t.Supervisor,
			"Claimed":      yesNo(t.Claimed),
			"Claimed at":   s.stamp(t.ClaimedAt),
			"Students":     strings.Join(t.Students, ", "),
			"Deposited":    yesNo(t.Deposited),
			"Deposited at": s.stamp(t.DepositedAt),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func (s *TopicService) stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return models.FormatTimestamp(t, s.loc)
}

func filterTopics(topics []models.Topic, filter models.TopicFilter) []models.Topic {
	specialty := strings.TrimSpace(filter.Specialty)
	supervisor := strings.TrimSpace(filter.Supervisor)
	out := make([]models.Topic, 0, len(topics))
	for _, t := range topics {
		if specialty != "" && !strings.EqualFold(t.Specialty, specialty) {
			continue
		}
		if supervisor != "" && !supervisorMatches(t.Supervisor, supervisor) {
			continue
		}
		if filter.Available != nil && *filter.Available == t.Claimed {
			continue
		}
		out = append(out, t)
	}
	return out
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
