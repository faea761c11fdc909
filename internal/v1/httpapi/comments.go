package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/artifactor-hq/collab-core/internal/v1/collab"
	"github.com/artifactor-hq/collab-core/internal/v1/logging"
	"github.com/artifactor-hq/collab-core/internal/v1/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CommentsHandler serves spec.md §6's
// POST/GET /artifacts/{id}/comments and PUT/DELETE .../{cid} routes.
type CommentsHandler struct {
	Comments   *store.CommentRepo
	Activities *store.ActivityRepo
	Notify     NotificationWriter
}

// NotificationWriter mirrors collab.NotificationWriter so CommentsHandler
// can raise the same mention/reply notifications the WebSocket path does,
// without depending on collab.Room's internals. May be left nil.
type NotificationWriter interface {
	NotifyCommentAdded(ctx context.Context, artifactID collab.ArtifactIdType, authorID collab.UserIdType, data json.RawMessage) error
}

// Create handles POST /artifacts/:id/comments.
func (h *CommentsHandler) Create(c *gin.Context) {
	artifactID := c.Param("id")
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "comment.bad_body", "could not read request body")
		return
	}

	saved, err := h.Comments.InsertComment(c.Request.Context(), collab.ArtifactIdType(artifactID), collab.UserIdType(userID(c)), body)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	_ = h.Activities.LogActivity(ctx, collab.ArtifactIdType(artifactID), collab.UserIdType(userID(c)), "comment_add", saved)

	if h.Notify != nil {
		if err := h.Notify.NotifyCommentAdded(ctx, collab.ArtifactIdType(artifactID), collab.UserIdType(userID(c)), saved); err != nil {
			logging.Error(ctx, "httpapi: failed to raise comment notification", zap.Error(err))
		}
	}

	c.Data(http.StatusCreated, "application/json", saved)
}

// List handles GET /artifacts/:id/comments.
func (h *CommentsHandler) List(c *gin.Context) {
	comments, err := h.Comments.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"comments": comments})
}

// Update handles PUT /artifacts/:id/comments/:cid.
func (h *CommentsHandler) Update(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "comment.bad_body", "could not read request body")
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		badRequest(c, "comment.bad_body", "malformed JSON body")
		return
	}

	payload, _ := json.Marshal(struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}{ID: c.Param("cid"), Content: req.Content})

	saved, err := h.Comments.UpdateComment(c.Request.Context(), collab.ArtifactIdType(c.Param("id")), collab.UserIdType(userID(c)), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", saved)
}

// Delete handles DELETE /artifacts/:id/comments/:cid.
func (h *CommentsHandler) Delete(c *gin.Context) {
	payload, _ := json.Marshal(struct {
		ID string `json:"id"`
	}{ID: c.Param("cid")})

	_, err := h.Comments.DeleteComment(c.Request.Context(), collab.ArtifactIdType(c.Param("id")), collab.UserIdType(userID(c)), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ActivityHandler serves GET /artifacts/{id}/activity.
type ActivityHandler struct {
	Activities *store.ActivityRepo
}

// List handles GET /artifacts/:id/activity?limit&types[]. An offset query
// parameter is not read.
func (h *ActivityHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	activities, err := h.Activities.List(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	types := c.QueryArray("types[]")
	if len(types) > 0 {
		wanted := make(map[string]bool, len(types))
		for _, t := range types {
			wanted[t] = true
		}
		filtered := activities[:0]
		for _, a := range activities {
			if wanted[a.Type] {
				filtered = append(filtered, a)
			}
		}
		activities = filtered
	}

	c.JSON(http.StatusOK, gin.H{"activities": activities})
}
