package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/form-review-api/internal/dto"
	"github.com/noah-isme/form-review-api/internal/models"
	"github.com/noah-isme/form-review-api/internal/repository"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
	"github.com/noah-isme/form-review-api/pkg/formdiff"
)

const unclaimNote = "unclaimed"

type formStore interface {
	Create(ctx context.Context, form *models.Form) error
	Get(ctx context.Context, kind models.FormKind, id string) (*models.Form, error)
	Update(ctx context.Context, form *models.Form, expectedVersion int64) error
	Delete(ctx context.Context, kind models.FormKind, id string) error
	List(ctx context.Context, filter models.FormFilter) ([]models.Form, int, error)
}

type changeLogRecorder interface {
	Record(ctx context.Context, entry *models.ChangeLogEntry) (string, error)
	Stage(ctx context.Context, entry *models.ChangeLogEntry) error
}

// mutation edits the proposed copy of a form. It must only touch the
// proposed value and may refuse with an *appErrors.Error.
type mutation func(proposed *models.Form, now time.Time) error

// ReviewService runs the claim, decide, comment and delete transitions.
type ReviewService struct {
	forms     formStore
	audit     changeLogRecorder
	policy    PermissionPolicy
	notifier  NotificationPort
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
	publicURL string
}

// ReviewServiceOption configures the service.
type ReviewServiceOption func(*ReviewService)

// WithReviewNotifier sets where decision messages go.
func WithReviewNotifier(notifier NotificationPort) ReviewServiceOption {
	return func(s *ReviewService) {
		s.notifier = notifier
	}
}

// WithReviewCache invalidates cached snapshots on every write.
func WithReviewCache(cache *CacheService) ReviewServiceOption {
	return func(s *ReviewService) {
		s.cache = cache
	}
}

// WithReviewMetrics attaches the metrics sink.
func WithReviewMetrics(metrics *MetricsService) ReviewServiceOption {
	return func(s *ReviewService) {
		s.metrics = metrics
	}
}

// WithReviewClock overrides the time source.
func WithReviewClock(now func() time.Time) ReviewServiceOption {
	return func(s *ReviewService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublicURL sets the site root used for notification links.
func WithPublicURL(url string) ReviewServiceOption {
	return func(s *ReviewService) {
		s.publicURL = strings.TrimRight(url, "/")
	}
}

// NewReviewService constructs the workflow.
func NewReviewService(forms formStore, audit changeLogRecorder, policy PermissionPolicy, logger *zap.Logger, opts ...ReviewServiceOption) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ReviewService{
		forms:  forms,
		audit:  audit,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// ClaimForm assigns the form to the acting staff member. A non-empty note is
// appended to the thread.
func (s *ReviewService) ClaimForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity, note string) (*models.Form, error) {
	note = strings.TrimSpace(note)
	_, updated, err := s.transition(ctx, kind, id, actor, ActionClaim, func(proposed *models.Form, now time.Time) error {
		if proposed.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "decided forms cannot be claimed")
		}
		claimer := actor.ID
		proposed.ClaimedByID = &claimer
		if note != "" {
			proposed.AppendNote(actor.ID, note, now)
		}
		return nil
	})
	return updated, err
}

// UnclaimForm releases the form back to the pending pool.
func (s *ReviewService) UnclaimForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity) (*models.Form, error) {
	_, updated, err := s.transition(ctx, kind, id, actor, ActionUnclaim, func(proposed *models.Form, now time.Time) error {
		if proposed.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "decided forms cannot be unclaimed")
		}
		if proposed.ClaimedByID == nil {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "form is not claimed")
		}
		proposed.ClaimedByID = nil
		proposed.AppendNote(actor.ID, unclaimNote, now)
		return nil
	})
	return updated, err
}

// DecideForm approves or rejects the form. Only admins may change a decision
// that was already made. The applicant is notified when the status changes.
func (s *ReviewService) DecideForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity, req dto.DecideRequest) (*models.Form, error) {
	if !s.policy.Precheck(actor, ActionDecide) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to decide forms")
	}
	if req.Outcome == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "outcome must be approved or rejected")
	}
	outcome := models.FormStatus(*req.Outcome)
	if !outcome.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "outcome must be approved or rejected")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = models.DefaultStatusReason
	}
	note := strings.TrimSpace(req.Note)
	isAdmin := s.policy.IsAdmin(actor)

	previous, updated, err := s.transition(ctx, kind, id, actor, ActionDecide, func(proposed *models.Form, now time.Time) error {
		if proposed.Status.Terminal() && !isAdmin {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "only admins may change a decision")
		}
		proposed.Status = outcome
		proposed.StatusReason = reason
		if proposed.ClaimedByID == nil {
			claimer := actor.ID
			proposed.ClaimedByID = &claimer
		}
		if note != "" {
			proposed.AppendNote(actor.ID, note, now)
		}
		return nil
	})
	if updated != nil && previous != nil && updated.Status != previous.Status {
		s.notify(ctx, updated)
	}
	return updated, err
}

// CommentForm appends a staff note.
func (s *ReviewService) CommentForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity, text string) (*models.Form, error) {
	if !s.policy.Precheck(actor, ActionComment) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to comment on forms")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment text is required")
	}
	_, updated, err := s.transition(ctx, kind, id, actor, ActionComment, func(proposed *models.Form, now time.Time) error {
		if proposed.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "decided forms are closed for comments")
		}
		proposed.AppendNote(actor.ID, text, now)
		return nil
	})
	return updated, err
}

// AttachRecording stores the recording location of an interview. It can be
// set once.
func (s *ReviewService) AttachRecording(ctx context.Context, id string, actor models.Identity, path string) (*models.Form, error) {
	if !s.policy.Precheck(actor, ActionAttachRecording) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to attach recordings")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "recording path is required")
	}
	_, updated, err := s.transition(ctx, models.FormKindInterview, id, actor, ActionAttachRecording, func(proposed *models.Form, now time.Time) error {
		if proposed.Status.Terminal() {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "decided interviews cannot change")
		}
		if proposed.InterviewData == nil {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "form is not an interview")
		}
		if proposed.RecordingPath != "" {
			return appErrors.Clone(appErrors.ErrInvalidTransition, "recording already attached")
		}
		proposed.RecordingPath = path
		return nil
	})
	return updated, err
}

// DeleteForm removes the form and records a DELETED entry.
func (s *ReviewService) DeleteForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity) error {
	if !s.policy.Precheck(actor, ActionDelete) {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins may delete forms")
	}
	current, err := s.load(ctx, kind, id)
	if err != nil {
		return err
	}
	if !s.policy.Allows(actor, ActionDelete, current) {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins may delete forms")
	}
	if err := s.forms.Delete(ctx, kind, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(kind)
		}
		return appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to delete form")
	}
	s.rememberDeleted(ctx, current)
	s.metrics.RecordTransition(string(kind), string(ActionDelete))

	entry := &models.ChangeLogEntry{
		UserID:  actor.ID,
		Form:    kind,
		FormID:  id,
		Action:  models.ChangeActionDeleted,
		Changes: []formdiff.Change{},
	}
	if _, err := s.audit.Record(ctx, entry); err != nil {
		return s.partialCommit(ctx, entry, err)
	}
	s.logger.Info("form deleted", zap.String("form_id", id), zap.String("kind", string(kind)), zap.String("actor_id", actor.ID))
	return nil
}

// transition runs the shared protocol: permission pre-check, load, full
// permission check, mutate a copy, diff, version-guarded write (retried once
// on a lost race) and change-log append. It returns the form as loaded and
// as written. On a partial commit both are returned with the error.
func (s *ReviewService) transition(ctx context.Context, kind models.FormKind, id string, actor models.Identity, action Action, mutate mutation) (*models.Form, *models.Form, error) {
	if !s.policy.Precheck(actor, action) {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to "+strings.ToLower(string(action))+" forms")
	}

	for attempt := 0; attempt < 2; attempt++ {
		current, err := s.load(ctx, kind, id)
		if err != nil {
			return nil, nil, err
		}
		if !s.policy.Allows(actor, action, current) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to "+strings.ToLower(string(action))+" this form")
		}

		now := s.now()
		proposed := current.Clone()
		if err := mutate(proposed, now); err != nil {
			return nil, nil, err
		}
		proposed.Touch(actor.ID, now)

		changes, err := formdiff.Diff(current, proposed)
		if err != nil {
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to diff form")
		}

		if err := s.forms.Update(ctx, proposed, current.Version); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				s.logger.Info("form changed concurrently, retrying",
					zap.String("form_id", id),
					zap.String("action", string(action)),
					zap.Int("attempt", attempt+1),
				)
				continue
			}
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, notFound(kind)
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to update form")
		}
		s.remember(ctx, proposed)
		s.metrics.RecordTransition(string(kind), string(action))

		entry := &models.ChangeLogEntry{
			UserID:  actor.ID,
			Form:    kind,
			FormID:  id,
			Action:  models.ChangeActionModified,
			Changes: changes,
		}
		if _, err := s.audit.Record(ctx, entry); err != nil {
			return current, proposed, s.partialCommit(ctx, entry, err)
		}
		return current, proposed, nil
	}

	return nil, nil, appErrors.Clone(appErrors.ErrConflict, "form was modified concurrently, reload and retry")
}

func (s *ReviewService) load(ctx context.Context, kind models.FormKind, id string) (*models.Form, error) {
	form, err := s.forms.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(kind)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form")
	}
	return form, nil
}

// partialCommit stages the unrecorded entry and reports the write as
// committed without its audit record.
func (s *ReviewService) partialCommit(ctx context.Context, entry *models.ChangeLogEntry, cause error) error {
	if err := s.audit.Stage(ctx, entry); err != nil {
		s.logger.Error("change log entry lost",
			zap.String("form_id", entry.FormID),
			zap.String("action", string(entry.Action)),
			zap.NamedError("record_error", cause),
			zap.Error(err),
		)
	}
	return appErrors.Wrap(cause, appErrors.ErrPartialCommit.Code, appErrors.ErrPartialCommit.Status, appErrors.ErrPartialCommit.Message)
}

func (s *ReviewService) notify(ctx context.Context, form *models.Form) {
	if s.notifier == nil {
		return
	}
	notification := BuildDecisionNotification(form, s.publicURL)
	if err := s.notifier.Notify(ctx, form.ApplicantID, notification); err != nil {
		s.metrics.RecordNotificationFailure("notify")
		s.logger.Warn("failed to notify applicant",
			zap.String("form_id", form.ID),
			zap.String("applicant_id", form.ApplicantID),
			zap.Error(err),
		)
	}
}

// remember caches the written snapshot. Writes are versioned so a reader
// holding an older snapshot cannot replace it.
func (s *ReviewService) remember(ctx context.Context, form *models.Form) {
	if s.cache == nil {
		return
	}
	_ = s.cache.StoreForm(ctx, form, 0)
}

func (s *ReviewService) rememberDeleted(ctx context.Context, last *models.Form) {
	if s.cache == nil {
		return
	}
	_ = s.cache.StoreDeleted(ctx, last.Kind, last.ID, last.Version)
}

func notFound(kind models.FormKind) error {
	return appErrors.Clone(appErrors.ErrNotFound, strings.ToLower(kind.Label())+" not found")
}
