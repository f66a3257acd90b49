package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/form-review-api/internal/dto"
	"github.com/noah-isme/form-review-api/internal/models"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
	"github.com/noah-isme/form-review-api/pkg/response"
)

type changeLogReader interface {
	List(ctx context.Context, filter models.ChangeLogFilter) ([]models.ChangeLogEntry, error)
}

// ChangeLogHandler serves the audit trail to staff.
type ChangeLogHandler struct {
	audit    changeLogReader
	validate *validator.Validate
}

// NewChangeLogHandler builds the handler.
func NewChangeLogHandler(audit changeLogReader, validate *validator.Validate) *ChangeLogHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &ChangeLogHandler{audit: audit, validate: validate}
}

// List godoc
// @Summary List change-log entries
// @Tags ChangeLog
// @Produce json
// @Param formId query string false "Form ID"
// @Param userId query string false "Actor ID"
// @Param action query string false "CREATED, MODIFIED or DELETED"
// @Param form query string false "application or interview"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /changelogs [get]
func (h *ChangeLogHandler) List(c *gin.Context) {
	var query dto.ChangeLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	if err := h.validate.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}

	filter := models.ChangeLogFilter{
		FormID: query.FormID,
		UserID: query.UserID,
		Action: models.ChangeAction(query.Action),
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if query.Form != "" {
		kind, err := models.ParseFormKind(query.Form)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown form kind"))
			return
		}
		filter.Form = kind
	}

	entries, err := h.audit.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
