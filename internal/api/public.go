package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/models"
	"application-tracker/internal/store"
)

type createSessionRequest struct {
	Channel        string `json:"channel"`
	UserIdentifier string `json:"userIdentifier"`
}

func (h *handlers) createSession(c *gin.Context) {
	var req createSessionRequest
	if !h.bind(c, &req) {
		return
	}
	channel, err := models.ParseChannel(req.Channel)
	if err != nil {
		h.fail(c, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	rec, err := h.Store.Create(c.Request.Context(), channel, req.UserIdentifier)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *handlers) getSession(c *gin.Context) {
	rec, err := h.Store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type updateSessionRequest struct {
	CurrentStep *string         `json:"currentStep"`
	FormData    models.Document `json:"formData"`
}

// updateSession merges wizard progress into a record. The step never moves
// backwards.
func (h *handlers) updateSession(c *gin.Context) {
	var req updateSessionRequest
	if !h.bind(c, &req) {
		return
	}

	var step models.Step
	if req.CurrentStep != nil {
		parsed, err := models.ParseStep(*req.CurrentStep)
		if err != nil {
			h.fail(c, apperrors.NewInvalidInputError(err.Error()))
			return
		}
		step = parsed
	}

	rec, err := h.Store.Update(c.Request.Context(), c.Param("id"), func(r *models.ApplicationRecord) error {
		if req.CurrentStep != nil {
			r.CurrentStep = models.MaxStep(r.CurrentStep, step)
		}
		if len(req.FormData) > 0 {
			r.FormData = models.DeepMerge(r.FormData, store.SanitizeDocument(req.FormData))
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type generateCodeRequest struct {
	SessionID string `json:"sessionId"`
}

// generateCode without a session id returns an unreserved candidate code.
func (h *handlers) generateCode(c *gin.Context) {
	var req generateCodeRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	if !h.check(c, "generate-reference-code", req) {
		return
	}

	issued, err := h.Codes.Generate(c.Request.Context(), req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"referenceCode": issued.Code,
		"expiresAt":     issued.ExpiresAt,
	})
}

func (h *handlers) validateCode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"valid": h.Codes.Validate(c.Request.Context(), c.Param("code"))})
}

func (h *handlers) resume(c *gin.Context) {
	snap, err := h.Codes.Resume(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.failLookup(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *handlers) status(c *gin.Context) {
	view, err := h.Codes.ResolveStatus(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.failLookup(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type markReadRequest struct {
	NotificationIDs []string `json:"notificationIds"`
}

// markRead accepts an empty body, which marks every notification read.
func (h *handlers) markRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}

	unread, err := h.Backoffice.MarkNotificationsRead(c.Request.Context(), c.Param("code"), req.NotificationIDs)
	if err != nil {
		h.failLookup(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": unread})
}

type switchRequest struct {
	SourceSessionID      string `json:"sourceSessionId"`
	TargetChannel        string `json:"targetChannel"`
	TargetUserIdentifier string `json:"targetUserIdentifier,omitempty"`
}

func (h *handlers) switchChannel(c *gin.Context) {
	var req switchRequest
	if !h.bind(c, &req) || !h.check(c, "switch-channel", req) {
		return
	}
	target, err := models.ParseChannel(req.TargetChannel)
	if err != nil {
		h.fail(c, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	res, err := h.CrossChannel.SwitchChannel(c.Request.Context(), req.SourceSessionID, target, req.TargetUserIdentifier)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) syncStatus(c *gin.Context) {
	a, b := strings.TrimSpace(c.Query("a")), strings.TrimSpace(c.Query("b"))
	if a == "" || b == "" {
		h.fail(c, apperrors.NewInvalidInputError("query parameters a and b are required"))
		return
	}

	report, err := h.CrossChannel.SyncStatus(c.Request.Context(), a, b)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type synchronizeRequest struct {
	PrimarySessionID   string `json:"primarySessionId"`
	SecondarySessionID string `json:"secondarySessionId"`
	ReportOnly         bool   `json:"reportOnly,omitempty"`
}

func (h *handlers) synchronize(c *gin.Context) {
	var req synchronizeRequest
	if !h.bind(c, &req) || !h.check(c, "synchronize-applications", req) {
		return
	}

	if req.ReportOnly {
		report, err := h.CrossChannel.SyncStatus(c.Request.Context(), req.PrimarySessionID, req.SecondarySessionID)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
		return
	}

	res, err := h.CrossChannel.Synchronize(c.Request.Context(), req.PrimarySessionID, req.SecondarySessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
