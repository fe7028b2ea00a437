package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/staryskies/explo/internal/api/middleware"
	"github.com/staryskies/explo/internal/session/runtime"
	"github.com/staryskies/explo/wire"
)

// wireGameState is the JSON body of POST /v1/squads/:id/state.
type wireGameState struct {
	Update wire.GameStateUpdate `json:"update" binding:"required"`
}

// MessageHandler serves chat messages over REST: the polling-transport path.
type MessageHandler struct {
	squads *runtime.Manager
}

// NewMessageHandler creates the message handler.
func NewMessageHandler(squads *runtime.Manager) *MessageHandler {
	return &MessageHandler{squads: squads}
}

// ListMessages handles GET /v1/messages?scope=&squadId=&since=&limit=.
//
// since is a seq watermark; repeated polls with the same watermark return
// the same rows, so client-side dedup keeps the poll idempotent.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	scope, err := wire.ParseScope(c.DefaultQuery("scope", string(wire.ScopeGlobal)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	since := int64(0)
	if raw := c.Query("since"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v >= 0 {
			since = v
		}
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	messages, err := h.squads.PollMessages(c.Request.Context(), userID, scope, c.Query("squadId"), since, limit)
	switch {
	case errors.Is(err, runtime.ErrNotFound), errors.Is(err, runtime.ErrNotMember):
		c.JSON(http.StatusNotFound, gin.H{"error": "squad not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
	default:
		if messages == nil {
			messages = []wire.Message{}
		}
		c.JSON(http.StatusOK, wire.MessagePage{Messages: messages})
	}
}

// PostMessage handles POST /v1/messages.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	displayName, _ := middleware.GetDisplayName(c)

	var out wire.OutboundMessage
	if err := c.ShouldBindJSON(&out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.squads.IngestMessage(c.Request.Context(), userID, displayName, out, "")
	switch {
	case errors.Is(err, runtime.ErrNotMember):
		c.JSON(http.StatusNotFound, gin.H{"error": "squad not found"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"message": msg})
	}
}
