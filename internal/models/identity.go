package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessLevel is the platform-wide elevation flag of a user.
type AccessLevel int

const (
	AccessLevelRegular  AccessLevel = 0
	AccessLevelElevated AccessLevel = 1
)

// Identity is the immutable snapshot of the authenticated actor of a request.
type Identity struct {
	ID          string      `json:"id"`
	AccessLevel AccessLevel `json:"accessLevel"`
	Roles       []string    `json:"roles"`
}

// HasRole reports membership in a platform role.
func (i Identity) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, role := range i.Roles {
		if role == roleID {
			return true
		}
	}
	return false
}

// JWTClaims represents the bearer token payload issued by the login bridge.
type JWTClaims struct {
	UserID      string      `json:"user_id"`
	Username    string      `json:"username,omitempty"`
	AccessLevel AccessLevel `json:"access_level"`
	Roles       []string    `json:"roles"`
	jwt.RegisteredClaims
}

// Identity projects the claims onto the actor snapshot.
func (c *JWTClaims) Identity() Identity {
	if c == nil {
		return Identity{}
	}
	return Identity{
		ID:          c.UserID,
		AccessLevel: c.AccessLevel,
		Roles:       append([]string(nil), c.Roles...),
	}
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// DecisionNotification is delivered to the applicant when a decision changes
// the status of their form.
type DecisionNotification struct {
	FormKind    FormKind   `json:"formKind"`
	FormID      string     `json:"formId"`
	SubjectID   string     `json:"subjectId"`
	Status      FormStatus `json:"status"`
	StatusLabel string     `json:"statusLabel"`
	Reason      string     `json:"reason"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Color       int        `json:"color"`
	Footer      string     `json:"footer,omitempty"`
	URL         string     `json:"url,omitempty"`
	SentAt      time.Time  `json:"sentAt"`
}
