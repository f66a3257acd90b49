package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/form-review-api/internal/models"
	"github.com/noah-isme/form-review-api/internal/repository"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
)

type changeLogStore interface {
	Create(ctx context.Context, entry *models.ChangeLogEntry) error
	List(ctx context.Context, filter models.ChangeLogFilter) ([]models.ChangeLogEntry, error)
}

// auditOutbox is a FIFO of entries whose store write failed.
type auditOutbox interface {
	Push(ctx context.Context, key string, value interface{}) error
	Peek(ctx context.Context, key string, dest interface{}) error
	Drop(ctx context.Context, key string) error
	Len(ctx context.Context, key string) (int64, error)
}

type changeLogPublisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// AuditService is the append-only change log of form mutations.
type AuditService struct {
	store     changeLogStore
	outbox    auditOutbox
	outboxKey string
	publisher changeLogPublisher
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// AuditServiceOption configures the service.
type AuditServiceOption func(*AuditService)

// WithAuditOutbox enables staging of entries that could not be stored.
func WithAuditOutbox(outbox auditOutbox, key string) AuditServiceOption {
	return func(s *AuditService) {
		if outbox == nil {
			return
		}
		s.outbox = outbox
		if key != "" {
			s.outboxKey = key
		}
	}
}

// WithChangeLogPublisher streams stored entries to an event bus.
func WithChangeLogPublisher(publisher changeLogPublisher) AuditServiceOption {
	return func(s *AuditService) {
		s.publisher = publisher
	}
}

// WithAuditMetrics attaches the metrics sink.
func WithAuditMetrics(metrics *MetricsService) AuditServiceOption {
	return func(s *AuditService) {
		s.metrics = metrics
	}
}

// WithAuditClock overrides the timestamp source.
func WithAuditClock(now func() time.Time) AuditServiceOption {
	return func(s *AuditService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuditService constructs the change log service.
func NewAuditService(store changeLogStore, logger *zap.Logger, opts ...AuditServiceOption) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AuditService{
		store:     store,
		outboxKey: "audit:outbox",
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Record assigns the entry an id and a server-side timestamp, overriding any
// caller value, then appends it. On a store failure the entry keeps its
// assigned id so it can be staged.
func (s *AuditService) Record(ctx context.Context, entry *models.ChangeLogEntry) (string, error) {
	if entry == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "change log entry is required")
	}
	if strings.TrimSpace(entry.UserID) == "" || strings.TrimSpace(entry.FormID) == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "change log entry requires user and form")
	}
	if !entry.Action.Valid() {
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown change log action")
	}
	entry.ID = s.newID()
	entry.Timestamp = s.now()

	if err := s.store.Create(ctx, entry); err != nil {
		return entry.ID, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to record change log entry")
	}
	s.publish(ctx, entry)
	return entry.ID, nil
}

// Stage parks an already recorded-but-unstored entry in the outbox.
func (s *AuditService) Stage(ctx context.Context, entry *models.ChangeLogEntry) error {
	if s.outbox == nil {
		return appErrors.Clone(appErrors.ErrPersistence, "audit outbox not configured")
	}
	if err := s.outbox.Push(ctx, s.outboxKey, entry); err != nil {
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to stage change log entry")
	}
	s.metrics.RecordPartialCommit()
	s.logger.Warn("change log entry staged for reconciliation",
		zap.String("entry_id", entry.ID),
		zap.String("form_id", entry.FormID),
		zap.String("action", string(entry.Action)),
	)
	return nil
}

// ReconcileOutbox moves staged entries into the store in FIFO order. It stops
// at the first entry that still cannot be stored and returns how many moved.
func (s *AuditService) ReconcileOutbox(ctx context.Context) (int, error) {
	if s.outbox == nil {
		return 0, nil
	}
	moved := 0
	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		var entry models.ChangeLogEntry
		if err := s.outbox.Peek(ctx, s.outboxKey, &entry); err != nil {
			if errors.Is(err, appErrors.ErrCacheMiss) {
				s.reportDepth(ctx)
				return moved, nil
			}
			return moved, err
		}
		if err := s.store.Create(ctx, &entry); err != nil {
			s.reportDepth(ctx)
			return moved, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to reconcile change log entry")
		}
		if err := s.outbox.Drop(ctx, s.outboxKey); err != nil {
			return moved, err
		}
		moved++
		s.publish(ctx, &entry)
	}
}

// RunReconciler drains the outbox every interval until ctx is cancelled.
func (s *AuditService) RunReconciler(ctx context.Context, interval time.Duration) {
	if s.outbox == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			moved, err := s.ReconcileOutbox(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("audit outbox reconciliation incomplete", zap.Int("moved", moved), zap.Error(err))
				continue
			}
			if moved > 0 {
				s.logger.Info("audit outbox reconciled", zap.Int("moved", moved))
			}
		}
	}
}

// ListByForm returns the history of one form in insertion order.
func (s *AuditService) ListByForm(ctx context.Context, formID string) ([]models.ChangeLogEntry, error) {
	return s.listAll(ctx, models.ChangeLogFilter{FormID: formID})
}

// ListByUser returns everything one actor changed.
func (s *AuditService) ListByUser(ctx context.Context, userID string) ([]models.ChangeLogEntry, error) {
	return s.listAll(ctx, models.ChangeLogFilter{UserID: userID})
}

// ListByAction returns entries of one action type.
func (s *AuditService) ListByAction(ctx context.Context, action models.ChangeAction) ([]models.ChangeLogEntry, error) {
	if !action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown change log action")
	}
	return s.listAll(ctx, models.ChangeLogFilter{Action: action})
}

// ListByFormKind returns entries for one form kind.
func (s *AuditService) ListByFormKind(ctx context.Context, kind models.FormKind) ([]models.ChangeLogEntry, error) {
	return s.listAll(ctx, models.ChangeLogFilter{Form: kind})
}

// List applies a combined filter.
func (s *AuditService) List(ctx context.Context, filter models.ChangeLogFilter) ([]models.ChangeLogEntry, error) {
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown change log action")
	}
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change log")
	}
	return entries, nil
}

// listAll pages through every entry matching filter.
func (s *AuditService) listAll(ctx context.Context, filter models.ChangeLogFilter) ([]models.ChangeLogEntry, error) {
	filter.Limit = repository.MaxChangeLogPageSize
	filter.Offset = 0
	var all []models.ChangeLogEntry
	for {
		page, err := s.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < filter.Limit {
			return all, nil
		}
		filter.Offset += len(page)
	}
}

func (s *AuditService) publish(ctx context.Context, entry *models.ChangeLogEntry) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, entry.FormID, entry); err != nil {
		s.metrics.RecordChangeLogPublishError()
		s.logger.Warn("failed to publish change log entry", zap.String("entry_id", entry.ID), zap.Error(err))
	}
}

func (s *AuditService) reportDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	depth, err := s.outbox.Len(ctx, s.outboxKey)
	if err != nil {
		return
	}
	s.metrics.SetOutboxDepth(depth)
}
