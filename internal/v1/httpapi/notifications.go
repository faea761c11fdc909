package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/artifactor-hq/collab-core/internal/v1/notify"
	"github.com/gin-gonic/gin"
)

// NotifyService is the subset of notify.Service the HTTP surface needs.
type NotifyService interface {
	List(ctx context.Context, userID string, limit int, unreadOnly bool, artifactID string) ([]notify.Notification, error)
	Counts(ctx context.Context, userID string) (notify.Counts, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
	MarkAllRead(ctx context.Context, userID, artifactID string) (int, error)
}

// NotificationsHandler serves spec.md §6's /notifications routes.
type NotificationsHandler struct {
	Notify NotifyService
}

// List handles GET /notifications?limit&unread_only&artifact_id.
func (h *NotificationsHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	unreadOnly := c.Query("unread_only") == "true"

	notifications, err := h.Notify.List(c.Request.Context(), userID(c), limit, unreadOnly, c.Query("artifact_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// Counts handles GET /notifications/counts.
func (h *NotificationsHandler) Counts(c *gin.Context) {
	counts, err := h.Notify.Counts(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

// MarkRead handles POST /notifications/mark-read (body: list of ids).
func (h *NotificationsHandler) MarkRead(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "notification.bad_body", "could not read request body")
		return
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		badRequest(c, "notification.bad_body", "body must be a JSON array of notification ids")
		return
	}

	marked := 0
	for _, id := range ids {
		ok, err := h.Notify.MarkRead(c.Request.Context(), id, userID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		if ok {
			marked++
		}
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// MarkAllRead handles POST /notifications/mark-all-read?artifact_id.
func (h *NotificationsHandler) MarkAllRead(c *gin.Context) {
	marked, err := h.Notify.MarkAllRead(c.Request.Context(), userID(c), c.Query("artifact_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}
