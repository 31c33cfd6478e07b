package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caremesh/telecare/internal/dtos"
	"github.com/caremesh/telecare/internal/middlewares"
	"github.com/caremesh/telecare/internal/models"
	"github.com/caremesh/telecare/internal/services"
)

type SessionHandler struct {
	lifecycle *services.LifecycleService
	tokenTTL  int // seconds, echoed in token responses
	logger    zerolog.Logger
}

func NewSessionHandler(lifecycle *services.LifecycleService, tokenTTLSeconds int, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		lifecycle: lifecycle,
		tokenTTL:  tokenTTLSeconds,
		logger:    logger.With().Str("component", "session_handler").Logger(),
	}
}

// CreateSession schedules a new consultation session.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req dtos.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.lifecycle.CreateSession(
		c.Request.Context(),
		req.PatientID, req.ProviderID,
		req.ScheduledStartTime,
		models.SessionMetadata{
			ConsultationType: req.ConsultationType,
			Priority:         req.Priority,
			Notes:            req.Notes,
			Tags:             req.Tags,
		},
	)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dtos.NewSessionResponse(session))
}

// GenerateToken issues a session-scoped access token.
func (h *SessionHandler) GenerateToken(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	var req dtos.AccessTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tok, err := h.lifecycle.GenerateAccessToken(sessionID, req.UserID, models.ParticipantRole(req.Role))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dtos.AccessTokenResponse{Token: tok, ExpiresIn: h.tokenTTL})
}

// JoinSession admits the authenticated caller as a participant.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	claims, err := middlewares.GetSessionClaims(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if claims.SessionID != sessionID {
		c.JSON(http.StatusForbidden, gin.H{"error": "token not valid for this session"})
		return
	}

	var req dtos.JoinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.lifecycle.JoinSession(
		c.Request.Context(),
		sessionID, claims.UserID, claims.Role,
		models.DeviceInfo{Type: req.DeviceType, OS: req.DeviceOS, NetworkType: req.NetworkType},
	)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dtos.NewSessionResponse(session))
}

// LeaveSession marks the authenticated caller disconnected.
func (h *SessionHandler) LeaveSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	claims, err := middlewares.GetSessionClaims(c)
	if err != nil || claims.SessionID != sessionID {
		c.JSON(http.StatusForbidden, gin.H{"error": "token not valid for this session"})
		return
	}

	if err := h.lifecycle.LeaveSession(c.Request.Context(), sessionID, claims.UserID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// EndSession completes the session; provider role only.
func (h *SessionHandler) EndSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	claims, err := middlewares.GetSessionClaims(c)
	if err != nil || claims.SessionID != sessionID {
		c.JSON(http.StatusForbidden, gin.H{"error": "token not valid for this session"})
		return
	}

	if err := h.lifecycle.EndSession(c.Request.Context(), sessionID, claims.UserID, claims.Role); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CancelSession cancels a session that has not started.
func (h *SessionHandler) CancelSession(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	claims, err := middlewares.GetSessionClaims(c)
	if err != nil || claims.SessionID != sessionID {
		c.JSON(http.StatusForbidden, gin.H{"error": "token not valid for this session"})
		return
	}

	if err := h.lifecycle.CancelSession(c.Request.Context(), sessionID, claims.UserID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetSessionSnapshot returns the session's current state.
func (h *SessionHandler) GetSessionSnapshot(c *gin.Context) {
	sessionID, ok := h.sessionID(c)
	if !ok {
		return
	}

	session, err := h.lifecycle.GetSessionSnapshot(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dtos.NewSessionResponse(session))
}

func (h *SessionHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps the service error taxonomy onto HTTP statuses without
// leaking provider internals to the caller.
func (h *SessionHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrAuthorization):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrParticipantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrCapacity),
		errors.Is(err, services.ErrState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrCompliance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrProvider):
		c.JSON(http.StatusBadGateway, gin.H{"error": "media provider unavailable"})
	default:
		h.logger.Error().Err(err).Msg("unhandled service error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
