package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/moneyscripter/copytrade/models"
)

type handlers struct {
	svc *Service
	log *zap.Logger
}

// internalError logs err and answers without any detail.
func (h *handlers) internalError(c *gin.Context, op string, err error) {
	h.log.Error("Request failed", zap.String("op", op), zap.String("subscriber_id", c.GetString(subscriberKey)), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
}

func (h *handlers) listSignals(c *gin.Context) {
	id := c.GetString(subscriberKey)
	signals, err := h.svc.ListSignals(c.Request.Context(), id, parseLimit(c.Query("limit")))
	if err != nil {
		h.internalError(c, "list signals", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(signals), "signals": signals})
}

func (h *handlers) deleteSignal(c *gin.Context) {
	err := h.svc.DeleteSignal(c.Request.Context(), c.Param("id"), c.GetString(subscriberKey))
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Signal not found"})
	case err != nil:
		h.internalError(c, "delete signal", err)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Signal deleted"})
	}
}

func (h *handlers) risk(c *gin.Context) {
	r, err := h.svc.Risk(c.Request.Context(), c.GetString(subscriberKey))
	switch {
	case errors.Is(err, models.ErrNotSubscribed):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not subscribed"})
	case err != nil:
		h.internalError(c, "risk", err)
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "risk": r})
	}
}

func (h *handlers) subscription(c *gin.Context) {
	sub, ok, err := h.svc.Subscription(c.Request.Context(), c.GetString(subscriberKey))
	if err != nil {
		h.internalError(c, "subscription", err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"success": true, "subscribed": false, "risk": nil, "ref": nil, "subscribedSince": nil,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"subscribed":      true,
		"risk":            sub.Risk,
		"ref":             sub.ReferralScope,
		"subscribedSince": sub.SubscribedAt,
	})
}
