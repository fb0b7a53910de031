package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"application-tracker/internal/backoffice"
	apperrors "application-tracker/internal/common/errors"
	"application-tracker/internal/models"
	"application-tracker/internal/timeline"
)

// statusUpdateRequest mirrors the update-application-status job input.
type statusUpdateRequest struct {
	SessionID string `json:"sessionId"`
	timeline.StatusUpdate
}

func (h *handlers) updateStatus(c *gin.Context) {
	var req statusUpdateRequest
	if !h.bind(c, &req) {
		return
	}
	req.SessionID = c.Param("sessionId")
	if !h.check(c, "update-application-status", req) {
		return
	}

	res, err := h.Backoffice.UpdateStatus(c.Request.Context(), req.SessionID, req.StatusUpdate)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type bulkStatusRequest struct {
	SessionIDs []string `json:"sessionIds"`
	timeline.StatusUpdate
}

func (h *handlers) bulkStatus(c *gin.Context) {
	var req bulkStatusRequest
	if !h.bind(c, &req) {
		return
	}
	if len(req.SessionIDs) == 0 {
		h.fail(c, apperrors.NewInvalidInputError("sessionIds must not be empty"))
		return
	}
	c.JSON(http.StatusOK, h.Backoffice.BulkUpdateStatus(c.Request.Context(), req.SessionIDs, req.StatusUpdate))
}

type milestoneRequest struct {
	SessionID string          `json:"sessionId"`
	Milestone string          `json:"milestone"`
	Details   models.Document `json:"details,omitempty"`
}

func (h *handlers) recordMilestone(c *gin.Context) {
	var req milestoneRequest
	if !h.bind(c, &req) {
		return
	}
	req.SessionID = c.Param("sessionId")
	if !h.check(c, "record-milestone", req) {
		return
	}

	rec, err := h.Backoffice.RecordMilestone(c.Request.Context(), req.SessionID, req.Milestone, req.Details)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// lookupCode tells staff whether a code is unknown (404) or expired (410).
func (h *handlers) lookupCode(c *gin.Context) {
	rec, err := h.Backoffice.Lookup(c.Request.Context(), c.Param("code"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// retrieveState finds the newest live record for a phone number or other
// user identifier, optionally on one channel.
func (h *handlers) retrieveState(c *gin.Context) {
	var channel models.Channel
	if raw := c.Query("channel"); raw != "" {
		parsed, err := models.ParseChannel(raw)
		if err != nil {
			h.fail(c, apperrors.NewInvalidInputError(err.Error()))
			return
		}
		channel = parsed
	}

	rec, err := h.CrossChannel.RetrieveState(c.Request.Context(), c.Query("identifier"), channel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type extendRequest struct {
	Days int `json:"days"`
}

func (h *handlers) extendCode(c *gin.Context) {
	var req extendRequest
	if c.Request.ContentLength != 0 && !h.bind(c, &req) {
		return
	}
	if req.Days < 0 {
		h.fail(c, apperrors.NewInvalidInputError("days must not be negative"))
		return
	}

	code := strings.ToUpper(c.Param("code"))
	expiresAt, err := h.Codes.Extend(c.Request.Context(), code, req.Days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referenceCode": code, "expiresAt": expiresAt})
}

func (h *handlers) listApplications(c *gin.Context) {
	q := backoffice.ListQuery{
		Status: c.Query("status"),
		Text:   c.Query("q"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(c, apperrors.NewInvalidInputError("limit must be a non-negative integer"))
			return
		}
		q.Limit = n
	}

	res, err := h.Backoffice.ListApplications(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
