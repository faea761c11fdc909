// Package httpapi implements the gin handlers for spec.md §6's HTTP API
// surface: comment/activity/presence/notification CRUD plus the ml/*
// classification and search routes. Grounded on the teacher's
// cmd/v1/session/main.go for router composition (CORS, recovery, route
// groups, Prometheus/health endpoints) and on internal/v1/apierr for
// consistent error responses.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/artifactor-hq/collab-core/internal/v1/apierr"
	"github.com/artifactor-hq/collab-core/internal/v1/store"
	"github.com/gin-gonic/gin"
)

// writeError maps err to a JSON body and status code. *apierr.Error values
// carry their own Kind; anything else (a raw store/service error) is
// classified heuristically and wrapped as Internal so the response shape
// stays consistent even for errors this package didn't originate.
func writeError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Kind.HTTPStatus(), gin.H{
			"error": gin.H{
				"kind":    apiErr.Kind,
				"code":    apiErr.Code,
				"message": apiErr.Message,
			},
		})
		return
	}

	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"kind": apierr.KindNotFound, "message": "not found"}})
		return
	}

	wrapped := apierr.Internal("internal_error", "an unexpected error occurred", err)
	c.JSON(wrapped.Kind.HTTPStatus(), gin.H{
		"error": gin.H{
			"kind":    wrapped.Kind,
			"code":    wrapped.Code,
			"message": wrapped.Message,
		},
	})
}

// badRequest writes a validation error without needing a wrapped cause.
func badRequest(c *gin.Context, code, message string) {
	err := apierr.Validation(code, message)
	c.JSON(err.Kind.HTTPStatus(), gin.H{
		"error": gin.H{"kind": err.Kind, "code": err.Code, "message": err.Message},
	})
}
