package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/form-review-api/internal/models"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
	"github.com/noah-isme/form-review-api/pkg/jobs"
)

const notificationJobType = "decision_notification"

const (
	colorApproved = 0x0bef16
	colorRejected = 0xeb0909
)

// NotificationPort delivers a decision message to the applicant.
type NotificationPort interface {
	Notify(ctx context.Context, subjectID string, notification models.DecisionNotification) error
}

type notificationPublisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// DecisionMessage is the payload placed on the notification transport.
type DecisionMessage struct {
	SubjectID    string                      `json:"subjectId"`
	Notification models.DecisionNotification `json:"notification"`
}

// NotificationService hands decision messages to a background queue that
// publishes them to the message broker. Notify never waits for delivery.
type NotificationService struct {
	queue     *jobs.Queue
	publisher notificationPublisher
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNotificationService wires the delivery queue. A nil publisher disables
// delivery; Notify then only logs.
func NewNotificationService(publisher notificationPublisher, metrics *MetricsService, logger *zap.Logger, cfg jobs.QueueConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{publisher: publisher, metrics: metrics, logger: logger}
	cfg.Logger = logger
	cfg.OnFailure = func(job jobs.Job, err error) {
		svc.metrics.RecordNotificationFailure("delivery")
		svc.logger.Error("decision notification dropped", zap.String("job_id", job.ID), zap.Error(err))
	}
	svc.queue = jobs.NewQueue("notifications", svc.deliver, cfg)
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	s.queue.Start(ctx)
}

// Stop halts the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues the message for delivery.
func (s *NotificationService) Notify(ctx context.Context, subjectID string, notification models.DecisionNotification) error {
	if s.publisher == nil {
		s.logger.Debug("notifications disabled, message skipped",
			zap.String("subject_id", subjectID),
			zap.String("form_id", notification.FormID),
		)
		return nil
	}
	if notification.SentAt.IsZero() {
		notification.SentAt = time.Now().UTC()
	}
	job := jobs.Job{
		ID:      fmt.Sprintf("%s:%s:%d", notification.FormID, subjectID, notification.SentAt.UnixNano()),
		Type:    notificationJobType,
		Payload: DecisionMessage{SubjectID: subjectID, Notification: notification},
	}
	if err := s.queue.Enqueue(job); err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotificationFailure.Code, appErrors.ErrNotificationFailure.Status, "failed to queue decision notification")
	}
	return nil
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(DecisionMessage)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	if err := s.publisher.Publish(ctx, job.ID, msg); err != nil {
		return err
	}
	s.logger.Info("decision notification published",
		zap.String("subject_id", msg.SubjectID),
		zap.String("form_id", msg.Notification.FormID),
		zap.String("status", msg.Notification.StatusLabel),
	)
	return nil
}

// BuildDecisionNotification renders the applicant-facing message for a
// decided form. publicURL is the site root used for the deep link.
func BuildDecisionNotification(form *models.Form, publicURL string) models.DecisionNotification {
	label := strings.ToLower(form.Kind.Label())
	reason := form.StatusReason
	if strings.TrimSpace(reason) == "" {
		reason = models.DefaultStatusReason
	}
	color := colorApproved
	if form.Status == models.FormStatusRejected {
		color = colorRejected
	}
	notification := models.DecisionNotification{
		FormKind:    form.Kind,
		FormID:      form.ID,
		SubjectID:   form.ApplicantID,
		Status:      form.Status,
		StatusLabel: form.Status.String(),
		Reason:      reason,
		Title:       form.Kind.Label() + " Update",
		Description: fmt.Sprintf("Your staff %s has been updated!", label),
		Color:       color,
		Footer:      fmt.Sprintf("This is an automated message regarding your staff %s. Do not reply to this message as it is not monitored", label),
	}
	if publicURL != "" {
		notification.URL = fmt.Sprintf("%s/%ss/%s", strings.TrimRight(publicURL, "/"), label, form.ID)
	}
	return notification
}
