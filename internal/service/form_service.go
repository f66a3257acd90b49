package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/form-review-api/internal/dto"
	"github.com/noah-isme/form-review-api/internal/models"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
	"github.com/noah-isme/form-review-api/pkg/formdiff"
)

// FormService handles submission and read access to forms.
type FormService struct {
	forms     formStore
	audit     changeLogRecorder
	policy    PermissionPolicy
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
	cacheTTL  time.Duration
}

// FormServiceOption configures the service.
type FormServiceOption func(*FormService)

// WithFormCache serves Get from cached snapshots.
func WithFormCache(cache *CacheService, ttl time.Duration) FormServiceOption {
	return func(s *FormService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithFormClock overrides the time source.
func WithFormClock(now func() time.Time) FormServiceOption {
	return func(s *FormService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFormService constructs the service.
func NewFormService(forms formStore, audit changeLogRecorder, policy PermissionPolicy, validate *validator.Validate, logger *zap.Logger, opts ...FormServiceOption) *FormService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &FormService{
		forms:     forms,
		audit:     audit,
		policy:    policy,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// SubmitApplication stores a new pending application for the actor.
func (s *FormService) SubmitApplication(ctx context.Context, actor models.Identity, req dto.SubmitApplicationRequest) (*models.Form, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	form := models.NewApplication(actor.ID, models.ApplicationData{Sections: req.Sections})
	return s.submit(ctx, actor, form)
}

// SubmitInterview opens an interview for one of the actor's applications.
func (s *FormService) SubmitInterview(ctx context.Context, actor models.Identity, req dto.SubmitInterviewRequest) (*models.Form, error) {
	if !s.policy.Precheck(actor, ActionSubmit) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to submit forms")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid interview payload")
	}
	application, err := s.forms.Get(ctx, models.FormKindApplication, req.ApplicationID)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "referenced application does not exist")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if application.ApplicantID != actor.ID && !s.policy.IsStaff(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "application belongs to another user")
	}
	form := models.NewInterview(application.ApplicantID, models.InterviewData{
		ApplicationID: application.ID,
		Questions:     req.Questions,
	})
	return s.submit(ctx, actor, form)
}

func (s *FormService) submit(ctx context.Context, actor models.Identity, form *models.Form) (*models.Form, error) {
	if !s.policy.Precheck(actor, ActionSubmit) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to submit forms")
	}
	if err := form.Validate(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid form")
	}
	now := s.now()
	form.CreatedAt = now
	form.Touch(actor.ID, now)
	if err := s.forms.Create(ctx, form); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrPersistence.Code, appErrors.ErrPersistence.Status, "failed to store form")
	}

	entry := &models.ChangeLogEntry{
		UserID:  actor.ID,
		Form:    form.Kind,
		FormID:  form.ID,
		Action:  models.ChangeActionCreated,
		Changes: []formdiff.Change{},
	}
	if _, err := s.audit.Record(ctx, entry); err != nil {
		if stageErr := s.audit.Stage(ctx, entry); stageErr != nil {
			s.logger.Error("change log entry lost", zap.String("form_id", form.ID), zap.Error(stageErr))
		}
		return form, appErrors.Wrap(err, appErrors.ErrPartialCommit.Code, appErrors.ErrPartialCommit.Status, appErrors.ErrPartialCommit.Message)
	}
	s.logger.Info("form submitted", zap.String("form_id", form.ID), zap.String("kind", string(form.Kind)), zap.String("applicant_id", form.ApplicantID))
	return form, nil
}

// Get returns a form if the actor may view it.
func (s *FormService) Get(ctx context.Context, kind models.FormKind, id string, actor models.Identity) (*models.Form, error) {
	if !s.policy.Precheck(actor, ActionView) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view forms")
	}

	if cached, deleted, hit := s.cache.LoadForm(ctx, kind, id); hit {
		if deleted {
			return nil, notFound(kind)
		}
		if !s.policy.Allows(actor, ActionView, cached) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this form")
		}
		return cached, nil
	}

	form, err := s.forms.Get(ctx, kind, id)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound(kind)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load form")
	}
	if !s.policy.Allows(actor, ActionView, form) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this form")
	}
	_ = s.cache.StoreForm(ctx, form, s.cacheTTL)
	return form, nil
}

// List returns a page of forms. Regular users only ever see their own.
func (s *FormService) List(ctx context.Context, kind models.FormKind, query dto.FormQuery, actor models.Identity) ([]models.Form, *models.Pagination, error) {
	if actor.ID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to list forms")
	}
	filter := models.FormFilter{
		Kind:        kind,
		Status:      query.Status,
		ClaimedByID: query.ClaimedByID,
		ApplicantID: query.ApplicantID,
		SortStatus:  strings.ToLower(query.SortStatus),
		Page:        query.Page,
		PageSize:    query.PageSize,
	}
	if !s.policy.IsStaff(actor) {
		filter.ApplicantID = actor.ID
		filter.ClaimedByID = ""
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	forms, total, err := s.forms.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list forms")
	}
	return forms, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
