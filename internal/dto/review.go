package dto

import (
	"github.com/noah-isme/form-review-api/internal/models"
)

// SubmitApplicationRequest is the applicant's answers to the application sections.
type SubmitApplicationRequest struct {
	Sections []models.Section `json:"sections" validate:"required,min=1,dive"`
}

// SubmitInterviewRequest opens an interview for a previously submitted application.
type SubmitInterviewRequest struct {
	ApplicationID string            `json:"applicationId" validate:"required"`
	Questions     []models.Question `json:"questions" validate:"dive"`
}

// ClaimRequest carries the optional note appended on claim.
type ClaimRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

// DecideRequest captures a reviewer decision. Outcome values other than
// approved (1) or rejected (2) are refused by the workflow.
type DecideRequest struct {
	Outcome *int   `json:"outcome" validate:"required"`
	Reason  string `json:"reason" validate:"max=2000"`
	Note    string `json:"note" validate:"max=2000"`
}

// CommentRequest appends a reviewer note.
type CommentRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

// RecordingRequest stores the uploaded interview recording location.
type RecordingRequest struct {
	Path string `json:"path" validate:"required,max=1024"`
}

// FormQuery mirrors supported listing filters.
type FormQuery struct {
	Status      []models.FormStatus
	ClaimedByID string
	ApplicantID string
	SortStatus  string
	Page        int
	PageSize    int
}

// ChangeLogQuery mirrors the change-log listing filters.
type ChangeLogQuery struct {
	FormID string `form:"formId"`
	UserID string `form:"userId"`
	Action string `form:"action" validate:"omitempty,oneof=CREATED MODIFIED DELETED"`
	Form   string `form:"form"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" validate:"omitempty,min=0"`
}
