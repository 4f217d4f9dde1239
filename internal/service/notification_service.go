package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-observation-api/pkg/jobs"
	"github.com/noah-isme/sma-observation-api/pkg/mailer"
)

const (
	jobTypeVerification    = "mail.verification"
	jobTypeApprovalRequest = "mail.approval_request"

	hookEnqueueTimeout = 250 * time.Millisecond
)

type mailQueue interface {
	Start(ctx context.Context)
	Stop()
	Enqueue(ctx context.Context, job jobs.Job) error
}

// NotificationConfig configures outgoing notifications.
type NotificationConfig struct {
	ApproverEmails []string
	Queue          jobs.QueueConfig
}

// NotificationService delivers verification links and approval request
// notices through a background mail queue.
type NotificationService struct {
	sender    mailer.Sender
	approvers []string
	queue     mailQueue
	logger    *zap.Logger
}

// NewNotificationService wires a mail queue around sender.
func NewNotificationService(sender mailer.Sender, cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{sender: sender, approvers: cfg.ApproverEmails, logger: logger}
	queueCfg := cfg.Queue
	if queueCfg.Logger == nil {
		queueCfg.Logger = logger
	}
	if queueCfg.DeadLetter == nil {
		queueCfg.DeadLetter = func(job jobs.Job, err error) {
			logger.Error("notification dropped", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		}
	}
	s.queue = jobs.NewQueue("notifications", s.deliver, queueCfg)
	return s
}

// Start starts the mail workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop stops the mail workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// SendVerification implements VerificationSender by queueing the mail.
func (s *NotificationService) SendVerification(ctx context.Context, email, link string) error {
	msg := mailer.Message{
		To:      []string{email},
		Subject: "Verify your email address",
		Text:    fmt.Sprintf("Open the link below to verify your account:\n\n%s\n", link),
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, jobs.Job{Type: jobTypeVerification, Payload: msg})
}

// ApprovalHook notifies the configured approvers when a request is opened.
func (s *NotificationService) ApprovalHook() WriteHook {
	return func(_ context.Context, event WriteEvent) {
		if event.Operation != OperationRequest || len(s.approvers) == 0 {
			return
		}
		msg := mailer.Message{
			To:      s.approvers,
			Subject: fmt.Sprintf("طلب اعتماد جديد: %s", event.Definition.Title),
			Text: fmt.Sprintf("A new %s request for %s is waiting for your decision.\nRequest: %s\n",
				event.Definition.Type, event.Record.BucketKey, event.Record.ID),
		}
		ctx, cancel := context.WithTimeout(context.Background(), hookEnqueueTimeout)
		defer cancel()
		if err := s.queue.Enqueue(ctx, jobs.Job{Type: jobTypeApprovalRequest, Payload: msg}); err != nil {
			s.logger.Warn("queue approval notification failed", zap.String("record_id", event.Record.ID), zap.Error(err))
		}
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	return s.sender.Send(ctx, msg)
}
