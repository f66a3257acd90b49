package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/form-review-api/internal/dto"
	"github.com/noah-isme/form-review-api/internal/models"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
	"github.com/noah-isme/form-review-api/pkg/response"
)

type formReader interface {
	SubmitApplication(ctx context.Context, actor models.Identity, req dto.SubmitApplicationRequest) (*models.Form, error)
	SubmitInterview(ctx context.Context, actor models.Identity, req dto.SubmitInterviewRequest) (*models.Form, error)
	Get(ctx context.Context, kind models.FormKind, id string, actor models.Identity) (*models.Form, error)
	List(ctx context.Context, kind models.FormKind, query dto.FormQuery, actor models.Identity) ([]models.Form, *models.Pagination, error)
}

type reviewWorkflow interface {
	ClaimForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity, note string) (*models.Form, error)
	UnclaimForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity) (*models.Form, error)
	DecideForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity, req dto.DecideRequest) (*models.Form, error)
	CommentForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity, text string) (*models.Form, error)
	AttachRecording(ctx context.Context, id string, actor models.Identity, path string) (*models.Form, error)
	DeleteForm(ctx context.Context, kind models.FormKind, id string, actor models.Identity) error
}

// FormHandler exposes form submission, reads and review transitions.
type FormHandler struct {
	forms    formReader
	review   reviewWorkflow
	validate *validator.Validate
}

// NewFormHandler builds the handler.
func NewFormHandler(forms formReader, review reviewWorkflow, validate *validator.Validate) *FormHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &FormHandler{forms: forms, review: review, validate: validate}
}

// Submit godoc
// @Summary Submit an application or interview
// @Tags Forms
// @Accept json
// @Produce json
// @Param kind path string true "application or interview"
// @Param payload body dto.SubmitApplicationRequest true "Form payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forms/{kind} [post]
func (h *FormHandler) Submit(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}

	var (
		form *models.Form
		err  error
	)
	switch kind {
	case models.FormKindApplication:
		var req dto.SubmitApplicationRequest
		if !h.bind(c, &req, "invalid application payload") {
			return
		}
		form, err = h.forms.SubmitApplication(c.Request.Context(), actor, req)
	case models.FormKindInterview:
		var req dto.SubmitInterviewRequest
		if !h.bind(c, &req, "invalid interview payload") {
			return
		}
		form, err = h.forms.SubmitInterview(c.Request.Context(), actor, req)
	}
	if err != nil {
		respondWrite(c, form, err)
		return
	}
	response.Created(c, form)
}

// List godoc
// @Summary List forms
// @Tags Forms
// @Produce json
// @Param kind path string true "application or interview"
// @Param status query string false "Comma separated statuses (0,1,2)"
// @Param claimedBy query string false "Reviewer id"
// @Param applicantId query string false "Applicant id"
// @Param sortStatus query string false "asc or desc"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /forms/{kind} [get]
func (h *FormHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}
	query, err := parseFormQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	forms, pagination, err := h.forms.List(c.Request.Context(), kind, query, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, forms, pagination)
}

// Get godoc
// @Summary Get a form
// @Tags Forms
// @Produce json
// @Param kind path string true "application or interview"
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forms/{kind}/{id} [get]
func (h *FormHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}
	form, err := h.forms.Get(c.Request.Context(), kind, c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, form, nil)
}

// Claim godoc
// @Summary Claim a form for review
// @Tags Review
// @Accept json
// @Produce json
// @Param kind path string true "application or interview"
// @Param id path string true "Form ID"
// @Param payload body dto.ClaimRequest false "Optional note"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /forms/{kind}/{id}/claim [post]
func (h *FormHandler) Claim(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}
	var req dto.ClaimRequest
	if c.Request.ContentLength > 0 {
		if !h.bind(c, &req, "invalid claim payload") {
			return
		}
	}
	form, err := h.review.ClaimForm(c.Request.Context(), kind, c.Param("id"), actor, req.Note)
	h.respondTransition(c, form, err)
}

// Unclaim godoc
// @Summary Release a claimed form
// @Tags Review
// @Produce json
// @Param kind path string true "application or interview"
// @Param id path string true "Form ID"
// @Success 200 {object} response.Envelope
// @Router /forms/{kind}/{id}/unclaim [post]
func (h *FormHandler) Unclaim(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}
	form, err := h.review.UnclaimForm(c.Request.Context(), kind, c.Param("id"), actor)
	h.respondTransition(c, form, err)
}

// Decide godoc
// @Summary Approve or reject a form
// @Tags Review
// @Accept json
// @Produce json
// @Param kind path string true "application or interview"
// @Param id path string true "Form ID"
// @Param payload body dto.DecideRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /forms/{kind}/{id}/decide [post]
func (h *FormHandler) Decide(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}
	var req dto.DecideRequest
	if !h.bind(c, &req, "invalid decision payload") {
		return
	}
	form, err := h.review.DecideForm(c.Request.Context(), kind, c.Param("id"), actor, req)
	h.respondTransition(c, form, err)
}

// Comment godoc
// @Summary Add a reviewer note
// @Tags Review
// @Accept json
// @Produce json
// @Param kind path string true "application or interview"
// @Param id path string true "Form ID"
// @Param payload body dto.CommentRequest true "Note"
// @Success 200 {object} response.Envelope
// @Router /forms/{kind}/{id}/comments [post]
func (h *FormHandler) Comment(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}
	var req dto.CommentRequest
	if !h.bind(c, &req, "invalid comment payload") {
		return
	}
	form, err := h.review.CommentForm(c.Request.Context(), kind, c.Param("id"), actor, req.Text)
	h.respondTransition(c, form, err)
}

// AttachRecording godoc
// @Summary Attach the interview recording location
// @Tags Review
// @Accept json
// @Produce json
// @Param kind path string true "interview"
// @Param id path string true "Interview ID"
// @Param payload body dto.RecordingRequest true "Recording"
// @Success 200 {object} response.Envelope
// @Router /forms/{kind}/{id}/recording [put]
func (h *FormHandler) AttachRecording(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}
	if kind != models.FormKindInterview {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "recordings attach to interviews only"))
		return
	}
	var req dto.RecordingRequest
	if !h.bind(c, &req, "invalid recording payload") {
		return
	}
	form, err := h.review.AttachRecording(c.Request.Context(), c.Param("id"), actor, req.Path)
	h.respondTransition(c, form, err)
}

// Delete godoc
// @Summary Delete a form
// @Tags Review
// @Param kind path string true "application or interview"
// @Param id path string true "Form ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /forms/{kind}/{id} [delete]
func (h *FormHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	kind, ok := kindFromPath(c)
	if !ok {
		return
	}
	if err := h.review.DeleteForm(c.Request.Context(), kind, c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// bind decodes the JSON body into req and enforces its validate tags.
func (h *FormHandler) bind(c *gin.Context, req interface{}, message string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func (h *FormHandler) respondTransition(c *gin.Context, form *models.Form, err error) {
	if err != nil {
		respondWrite(c, form, err)
		return
	}
	response.JSON(c, http.StatusOK, form, nil)
}

// respondWrite renders a write error. A partial commit still carries the
// stored snapshot so clients see what was applied.
func respondWrite(c *gin.Context, form *models.Form, err error) {
	if form != nil && appErrors.Is(err, appErrors.ErrPartialCommit) {
		response.ErrorWithData(c, err, form)
		return
	}
	response.Error(c, err)
}

func parseFormQuery(c *gin.Context) (dto.FormQuery, error) {
	query := dto.FormQuery{
		ClaimedByID: c.Query("claimedBy"),
		ApplicantID: c.Query("applicantId"),
		SortStatus:  strings.ToLower(c.Query("sortStatus")),
	}
	if query.SortStatus != "" && query.SortStatus != "asc" && query.SortStatus != "desc" {
		return query, appErrors.Clone(appErrors.ErrValidation, "sortStatus must be asc or desc")
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			value, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || value < int(models.FormStatusPending) || value > int(models.FormStatusRejected) {
				return query, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
			}
			query.Status = append(query.Status, models.FormStatus(value))
		}
	}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return query, appErrors.Clone(appErrors.ErrValidation, "invalid page")
		}
		query.Page = page
	}
	if raw := c.Query("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			return query, appErrors.Clone(appErrors.ErrValidation, "invalid page_size")
		}
		query.PageSize = size
	}
	return query, nil
}
