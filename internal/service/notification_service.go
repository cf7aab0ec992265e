package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/pkg/jobs"
)

const (
	jobRegistrationMail = "mail.registration"

	channelMail   = "mail"
	channelEvents = "events"
)

type mailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

type eventPublisher interface {
	Publish(ctx context.Context, name string, payload interface{}) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// NotificationConfig carries the fixed parts of supervisor mail.
type NotificationConfig struct {
	SupportContact string
	Footer         string
	Location       *time.Location
}

// NotificationService informs supervisors of new registrations and publishes
// ledger events. Failures are logged and counted, never returned to the caller.
type NotificationService struct {
	ledger  ledgerReader
	mailer  mailSender
	events  eventPublisher
	queue   jobEnqueuer
	metrics *MetricsService
	cfg     NotificationConfig
	logger  *zap.Logger
}

// NewNotificationService constructs the notifier. mailer and events may be nil.
func NewNotificationService(ledger ledgerReader, mailer mailSender, events eventPublisher, metrics *MetricsService, cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &NotificationService{ledger: ledger, mailer: mailer, events: events, metrics: metrics, cfg: cfg, logger: logger}
}

// UseMailer enables supervisor mail.
func (s *NotificationService) UseMailer(m mailSender) {
	s.mailer = m
}

// UsePublisher enables ledger event publishing.
func (s *NotificationService) UsePublisher(p eventPublisher) {
	s.events = p
}

// UseQueue routes mail through a background worker queue. Without one, mail is
// delivered inline.
func (s *NotificationService) UseQueue(q jobEnqueuer) {
	s.queue = q
}

// RegistrationCompleted mails the supervisor and publishes topic.claimed.
func (s *NotificationService) RegistrationCompleted(ctx context.Context, reg models.Registration) {
	names := make([]string, 0, len(reg.Students))
	for _, st := range reg.Students {
		names = append(names, st.Name)
	}
	s.publish(ctx, models.LedgerEvent{
		Type:       models.EventTopicClaimed,
		TopicID:    reg.TopicID,
		Title:      reg.Title,
		Supervisor: reg.Supervisor,
		Students:   names,
		Strategy:   reg.Strategy,
		OccurredAt: reg.ClaimedAt,
	})

	if s.mailer == nil {
		return
	}
	job := jobs.Job{Type: jobRegistrationMail, Payload: reg}
	if s.queue == nil {
		if err := s.HandleJob(ctx, job); err != nil {
			s.logger.Warn("supervisor notification failed", zap.String("topic_id", reg.TopicID), zap.Error(err))
		}
		return
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.metrics.RecordNotification(channelMail, err)
		s.logger.Warn("failed to enqueue supervisor notification", zap.String("topic_id", reg.TopicID), zap.Error(err))
	}
}

// DepositCompleted publishes topic.deposited.
func (s *NotificationService) DepositCompleted(ctx context.Context, dep models.Deposit) {
	s.publish(ctx, models.LedgerEvent{
		Type:       models.EventTopicDeposited,
		TopicID:    dep.TopicID,
		Title:      dep.Title,
		Students:   dep.Students,
		Artifact:   dep.ArtifactRef,
		OccurredAt: dep.DepositedAt,
	})
}

// PartialCommit publishes an operator alert for a write set that stopped midway.
func (s *NotificationService) PartialCommit(ctx context.Context, operation string, details models.PartialCommitDetails) {
	s.publish(ctx, models.LedgerEvent{
		Type:       models.EventPartialCommit,
		TopicID:    details.TopicID,
		Students:   details.Students,
		Operation:  operation,
		FailedStep: details.FailedStep,
		OccurredAt: time.Now().UTC(),
	})
}

// HandleJob is the worker queue handler.
func (s *NotificationService) HandleJob(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobRegistrationMail:
		reg, ok := job.Payload.(models.Registration)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", job.Payload, job.Type)
		}
		err := s.mailSupervisor(ctx, reg)
		s.metrics.RecordNotification(channelMail, err)
		return err
	default:
		s.logger.Warn("unknown notification job", zap.String("type", job.Type), zap.String("job_id", job.ID))
		return nil
	}
}

func (s *NotificationService) mailSupervisor(ctx context.Context, reg models.Registration) error {
	snap, err := s.ledger.Snapshot(ctx, false)
	if err != nil {
		return err
	}
	rows := supervisorRows(snap, reg.Supervisor)
	if len(rows) == 0 {
		return fmt.Errorf("no mirror rows for supervisor %q", reg.Supervisor)
	}
	to := ""
	for _, row := range rows {
		if email := strings.TrimSpace(row.Email); email != "" {
			to = email
			break
		}
	}
	if !strings.Contains(to, "@") {
		return fmt.Errorf("supervisor %q has no usable email address", reg.Supervisor)
	}

	body, err := renderSupervisorMail(supervisorMail{
		Supervisor:     reg.Supervisor,
		Registration:   reg,
		RegisteredAt:   reg.ClaimedAt.In(s.cfg.Location).Format("2006-01-02 15:04"),
		Stats:          credentialStats(rows),
		SupportContact: s.cfg.SupportContact,
		Footer:         s.cfg.Footer,
	})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("New memo registration - %s", reg.TopicID)
	if err := s.mailer.Send(ctx, to, subject, body); err != nil {
		return err
	}
	s.logger.Info("supervisor notified", zap.String("topic_id", reg.TopicID), zap.String("to", to))
	return nil
}

func (s *NotificationService) publish(ctx context.Context, event models.LedgerEvent) {
	if s.events == nil {
		return
	}
	event.ID = uuid.NewString()
	err := s.events.Publish(ctx, event.Type, event)
	s.metrics.RecordNotification(channelEvents, err)
	if err != nil {
		s.logger.Warn("event publish failed", zap.String("type", event.Type), zap.String("topic_id", event.TopicID), zap.Error(err))
	}
}

type credentialLine struct {
	Used     bool
	Password string
}

type supervisorStats struct {
	Total      int
	Registered int
	Remaining  int
	Lines      []credentialLine
}

// credentialStats lists used credentials before available ones.
func credentialStats(rows []models.SupervisorCredential) supervisorStats {
	stats := supervisorStats{Total: len(rows)}
	used := make([]credentialLine, 0, len(rows))
	open := make([]credentialLine, 0, len(rows))
	for _, row := range rows {
		isUsed := row.IsUsed()
		if isUsed {
			stats.Registered++
		}
		if row.ClaimPassword == "" {
			continue
		}
		if isUsed {
			used = append(used, credentialLine{Used: true, Password: row.ClaimPassword})
		} else {
			open = append(open, credentialLine{Password: row.ClaimPassword})
		}
	}
	stats.Remaining = stats.Total - stats.Registered
	stats.Lines = append(used, open...)
	return stats
}

type supervisorMail struct {
	Supervisor     string
	Registration   models.Registration
	RegisteredAt   string
	Stats          supervisorStats
	SupportContact string
	Footer         string
}

var supervisorMailTemplate = template.Must(template.New("supervisor").Parse(`<html>
<body style="font-family: Arial, sans-serif; background-color: #f4f4f4; padding: 20px;">
<div style="background-color: #ffffff; padding: 30px; border-radius: 10px; max-width: 600px; margin: auto;">
  <div style="background-color: #256D85; color: white; padding: 20px; border-radius: 8px; text-align: center;">
    <h2 style="margin: 0;">New memo registration</h2>
  </div>
  <p>Dear {{.Supervisor}},</p>
  <p>A new memo has been registered under your supervision:</p>
  <div style="background-color: #f8f9fa; padding: 15px; border-left: 4px solid #256D85;">
    <p><strong>Topic:</strong> {{.Registration.TopicID}}</p>
    <p><strong>Title:</strong> {{.Registration.Title}}</p>
    <p><strong>Specialty:</strong> {{.Registration.Specialty}}</p>
    {{range $i, $s := .Registration.Students}}<p><strong>Student {{if eq $i 0}}1{{else}}2{{end}}:</strong> {{$s.Name}}</p>
    {{end}}<p><strong>Registered at:</strong> {{.RegisteredAt}}</p>
  </div>
  <div style="background-color: #e8f4f8; padding: 15px; border-radius: 8px; margin: 15px 0;">
    <h3 style="color: #256D85; margin-top: 0;">Your memos</h3>
    <ul style="list-style: none; padding: 0;">
      <li><strong>Total:</strong> {{.Stats.Total}}</li>
      <li><strong>Registered:</strong> {{.Stats.Registered}}</li>
      <li><strong>Remaining:</strong> {{.Stats.Remaining}}</li>
    </ul>
  </div>
  <div style="background-color: #f8f9fa; padding: 15px; border-left: 4px solid #256D85;">
    <h3 style="color: #256D85; margin-top: 0;">Credentials</h3>
    <ul style="list-style: none; padding: 0;">
    {{range .Stats.Lines}}<li>{{if .Used}}✅{{else}}⏳{{end}} {{.Password}}</li>
    {{else}}<li>No credentials on record</li>
    {{end}}</ul>
  </div>
  {{if .SupportContact}}<p style="color: #666;">For questions or support, please contact {{.SupportContact}}.</p>{{end}}
  {{if .Footer}}<div style="text-align: center; color: #888; font-size: 12px; border-top: 1px solid #ddd; padding-top: 20px;">{{.Footer}}</div>{{end}}
</div>
</body>
</html>
`))

func renderSupervisorMail(data supervisorMail) (string, error) {
	var buf bytes.Buffer
	if err := supervisorMailTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render supervisor mail: %w", err)
	}
	return buf.String(), nil
}
