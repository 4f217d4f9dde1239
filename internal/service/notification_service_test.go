package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-observation-api/internal/models"
	"github.com/noah-isme/sma-observation-api/pkg/jobs"
	"github.com/noah-isme/sma-observation-api/pkg/mailer"
)

type flakySender struct {
	mu       sync.Mutex
	failures int
	sent     []mailer.Message
}

func (s *flakySender) Send(_ context.Context, msg mailer.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("temporary failure")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *flakySender) messages() []mailer.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mailer.Message(nil), s.sent...)
}

func startNotifications(t *testing.T, sender mailer.Sender, approvers []string) *NotificationService {
	t.Helper()
	svc := NewNotificationService(sender, NotificationConfig{
		ApproverEmails: approvers,
		Queue:          jobs.QueueConfig{Workers: 1, BufferSize: 8, MaxRetries: 2, RetryDelay: time.Millisecond},
	}, nil)
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)
	return svc
}

func TestNotificationServiceSendsVerificationWithRetry(t *testing.T) {
	sender := &flakySender{failures: 1}
	svc := startNotifications(t, sender, nil)

	require.NoError(t, svc.SendVerification(context.Background(), "guide@school.sa", "http://localhost/verify?token=abc"))

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
	msg := sender.messages()[0]
	assert.Equal(t, []string{"guide@school.sa"}, msg.To)
	assert.Contains(t, msg.Text, "token=abc")
}

func TestNotificationServiceRejectsBadAddress(t *testing.T) {
	svc := startNotifications(t, &flakySender{}, nil)
	assert.Error(t, svc.SendVerification(context.Background(), "not an address", "http://localhost"))
}

func TestNotificationApprovalHook(t *testing.T) {
	sender := &flakySender{}
	svc := startNotifications(t, sender, []string{"manager@school.sa"})
	hook := svc.ApprovalHook()
	def := mustDefinition(t, models.ObservationAttendance100)

	hook(context.Background(), WriteEvent{Definition: def, Operation: OperationDecide, Record: models.Record{ID: "r1"}})
	hook(context.Background(), WriteEvent{Definition: def, Operation: OperationRequest, Record: models.Record{ID: "r2", BucketKey: "2024-03-10"}})

	require.Eventually(t, func() bool { return len(sender.messages()) == 1 }, time.Second, 5*time.Millisecond)
	msg := sender.messages()[0]
	assert.Equal(t, []string{"manager@school.sa"}, msg.To)
	assert.Contains(t, msg.Subject, def.Title)
	assert.Contains(t, msg.Text, "2024-03-10")
}

func TestNotificationApprovalHookWithoutApprovers(t *testing.T) {
	sender := &flakySender{}
	svc := startNotifications(t, sender, nil)
	svc.ApprovalHook()(context.Background(), WriteEvent{Definition: mustDefinition(t, models.ObservationAttendance100), Operation: OperationRequest})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sender.messages())
}
