package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/form-review-api/internal/middleware"
	"github.com/noah-isme/form-review-api/internal/models"
	appErrors "github.com/noah-isme/form-review-api/pkg/errors"
	"github.com/noah-isme/form-review-api/pkg/response"
)

// actorFromContext resolves the authenticated identity or writes 401.
func actorFromContext(c *gin.Context) (models.Identity, bool) {
	actor, ok := middleware.Identity(c)
	if !ok || actor.ID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Identity{}, false
	}
	return actor, true
}

// kindFromPath parses the :kind path segment or writes 404.
func kindFromPath(c *gin.Context) (models.FormKind, bool) {
	kind, err := models.ParseFormKind(c.Param("kind"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown form kind"))
		return "", false
	}
	return kind, true
}
