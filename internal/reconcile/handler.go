package reconcile

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pablodelmoral/gritoncall/internal/telephony"
	"github.com/pablodelmoral/gritoncall/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	headerWebhookSecret = "X-Vapi-Secret"
	maxWebhookBytes     = 5 << 20
)

// WebhookHandler receives provider webhooks.
//
// No business logic here: it authenticates, reads the body and delegates.
// Business failures inside an event handler still answer 200.
type WebhookHandler struct {
	Reconciler *Reconciler

	// Secret, when set, must match the X-Vapi-Secret header.
	Secret string
}

func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Reconciler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciler not configured"})
		return
	}
	if h.Secret != "" {
		got := c.GetHeader(headerWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
			log.Warn("webhook secret mismatch")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		log.Warn("webhook body read failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	res, err := h.Reconciler.Handle(c.Request.Context(), body, recordedHeaders(c.Request.Header))
	if err != nil {
		if errors.Is(err, telephony.ErrInvalidPayload) {
			log.Warn("webhook payload rejected", "err", err)
		} else {
			log.Error("webhook processing failed", "err", err)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	log.Info("webhook processed", "event", string(res.Event), "provider_call_id", res.ProviderCallID, "scheduled_call_id", res.ScheduledCallID, "handled", res.Handled)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Webhook processed"})
}

// recordedHeaders flattens request headers for storage, dropping credentials.
func recordedHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		key := strings.ToLower(k)
		switch key {
		case "authorization", "cookie", strings.ToLower(headerWebhookSecret):
			continue
		}
		out[key] = strings.Join(v, ", ")
	}
	return out
}
