package httpapi

import (
	"context"
	"net/http"

	"github.com/artifactor-hq/collab-core/internal/v1/presence"
	"github.com/gin-gonic/gin"
)

// PresenceService is the subset of presence.Service the HTTP surface
// needs to answer the read-only presence route.
type PresenceService interface {
	ArtifactPresence(ctx context.Context, artifactID string) []presence.Record
}

// PresenceHandler serves GET /artifacts/{id}/presence.
type PresenceHandler struct {
	Presence PresenceService
}

// List handles GET /artifacts/:id/presence.
func (h *PresenceHandler) List(c *gin.Context) {
	records := h.Presence.ArtifactPresence(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"presence": records})
}
