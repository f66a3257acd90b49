package models

import (
	"time"

	"github.com/noah-isme/form-review-api/pkg/formdiff"
)

// ChangeAction classifies a change-log entry.
type ChangeAction string

const (
	ChangeActionCreated  ChangeAction = "CREATED"
	ChangeActionModified ChangeAction = "MODIFIED"
	ChangeActionDeleted  ChangeAction = "DELETED"
)

// Valid reports whether the action is known.
func (a ChangeAction) Valid() bool {
	switch a {
	case ChangeActionCreated, ChangeActionModified, ChangeActionDeleted:
		return true
	default:
		return false
	}
}

// ChangeLogEntry is one append-only audit record of a form mutation.
type ChangeLogEntry struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Form      FormKind          `json:"form"`
	FormID    string            `json:"formId"`
	Action    ChangeAction      `json:"action"`
	Changes   []formdiff.Change `json:"changes"`
	Timestamp time.Time         `json:"timestamp"`
}

// ChangeLogFilter constrains change-log listing. Empty fields are ignored.
type ChangeLogFilter struct {
	FormID string
	UserID string
	Action ChangeAction
	Form   FormKind
	Limit  int
	Offset int
}
