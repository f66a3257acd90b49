package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/form-review-api/internal/models"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
	"github.com/noah-isme/form-review-api/pkg/response"
)

// StaffChecker reports whether an identity belongs to the review staff.
type StaffChecker interface {
	IsStaff(actor models.Identity) bool
}

// RequireStaff blocks routes that only the review staff may reach.
func RequireStaff(policy StaffChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := Identity(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !policy.IsStaff(actor) {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "staff only"))
			c.Abort()
			return
		}
		c.Next()
	}
}
