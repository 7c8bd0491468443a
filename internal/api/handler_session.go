package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kicet3/AIMEX-back-sub002/internal/session"
)

type SessionHandler struct {
	manager *session.Manager
}

func NewSessionHandler(manager *session.Manager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

// AcquireSession is the idempotent get-or-create entry point: repeated
// calls for the same user return the same session until it expires.
// Blocks while a fresh worker is provisioned.
func (h *SessionHandler) AcquireSession(c *gin.Context) {
	var req AcquireSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	sess, err := h.manager.Acquire(c.Request.Context(), req.UserID, session.AcquireOptions{
		InputTimeout:      time.Duration(req.InputTimeoutMinutes) * time.Minute,
		ProcessingTimeout: time.Duration(req.ProcessingTimeoutMinutes) * time.Minute,
	})
	if err != nil {
		respondError(c, mapError(err), err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, "user_id query parameter is required")
		return
	}

	sess, err := h.manager.Get(c.Request.Context(), userID)
	if err != nil {
		respondError(c, mapError(err), err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *SessionHandler) BeginWork(c *gin.Context) {
	sess, err := h.manager.BeginWork(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, mapError(err), err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *SessionHandler) ExtendProcessing(c *gin.Context) {
	sess, err := h.manager.Extend(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, mapError(err), err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *SessionHandler) CompleteWork(c *gin.Context) {
	sess, err := h.manager.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, mapError(err), err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (h *SessionHandler) TerminateSession(c *gin.Context) {
	if err := h.manager.Terminate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, mapError(err), err)
		return
	}

	c.Status(http.StatusNoContent)
}
