package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/staryskies/explo/internal/api/middleware"
	"github.com/staryskies/explo/internal/session/runtime"
)

// SquadHandler serves squad lifecycle over REST. It is the polling-transport
// equivalent of the socket.io squad events.
type SquadHandler struct {
	squads *runtime.Manager
}

// NewSquadHandler creates the squad handler.
func NewSquadHandler(squads *runtime.Manager) *SquadHandler {
	return &SquadHandler{squads: squads}
}

type joinSquadRequest struct {
	JoinCode string `json:"joinCode" binding:"required"`
}

// CreateSquad handles POST /v1/squads.
func (h *SquadHandler) CreateSquad(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	displayName, _ := middleware.GetDisplayName(c)

	squad, err := h.squads.Create(c.Request.Context(), userID, displayName, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create squad"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"squad": squad})
}

// JoinSquad handles POST /v1/squads/join.
func (h *SquadHandler) JoinSquad(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	displayName, _ := middleware.GetDisplayName(c)

	var req joinSquadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	squad, err := h.squads.Join(c.Request.Context(), userID, displayName, req.JoinCode, "")
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid join code"})
	case errors.Is(err, runtime.ErrFull):
		c.JSON(http.StatusConflict, gin.H{"error": "squad is full"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join squad"})
	default:
		c.JSON(http.StatusOK, gin.H{"squad": squad})
	}
}

// LeaveSquad handles POST /v1/squads/leave. Leaving with no active squad is
// a no-op success.
func (h *SquadHandler) LeaveSquad(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	if err := h.squads.Leave(c.Request.Context(), userID, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to leave squad"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetSquad handles GET /v1/squads/:id. It is the poll-session-state
// operation; members poll it for the full snapshot including readiness.
func (h *SquadHandler) GetSquad(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	squadID := c.Param("id")

	squad, err := h.squads.Snapshot(c.Request.Context(), squadID, userID)
	switch {
	case errors.Is(err, runtime.ErrNotFound), errors.Is(err, runtime.ErrNotMember):
		c.JSON(http.StatusNotFound, gin.H{"error": "squad not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load squad"})
	default:
		c.JSON(http.StatusOK, gin.H{"squad": squad})
	}
}

// PostGameState handles POST /v1/squads/:id/state.
func (h *SquadHandler) PostGameState(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	squadID := c.Param("id")

	var update wireGameState
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.squads.GameState(c.Request.Context(), userID, squadID, update.Update, "")
	switch {
	case errors.Is(err, runtime.ErrNotFound), errors.Is(err, runtime.ErrNotMember):
		c.JSON(http.StatusNotFound, gin.H{"error": "squad not found"})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
