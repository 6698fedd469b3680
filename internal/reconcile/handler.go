package reconcile

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/internal/placement"
	"github.com/sddhantjaiii/Calling-agent-with-bolna-sub011/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Applier lets the webhook handler be tested without a database.
type Applier interface {
	Apply(ctx context.Context, ev placement.Event) (Outcome, error)
}

// WebhookHandler receives provider status callbacks.
//
// No business logic here: verify the signature, normalize the payload,
// hand it to the reconciler.
//
// Response codes steer provider retries: 5xx asks for redelivery,
// everything else acknowledges. Unknown execution refs acknowledge too;
// redelivering them can never succeed.
type WebhookHandler struct {
	Reconciler Applier

	// Secret validates the HMAC signature. Empty disables validation
	// (non-production only; config enforces it for prod).
	Secret string

	Now func() time.Time
}

func (h WebhookHandler) HandleStatusEvent(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Reconciler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciler not configured"})
		return
	}
	if h.Now == nil {
		h.Now = time.Now
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if h.Secret != "" {
		sig := c.GetHeader("X-Webhook-Signature")
		if !placement.ValidSignature(h.Secret, body, sig) {
			log.Warn("webhook signature rejected", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	ev, err := placement.ParseEvent(body, h.Now())
	if err != nil {
		log.Warn("webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	out, err := h.Reconciler.Apply(c.Request.Context(), ev)
	if errors.Is(err, ErrUnknownExecution) {
		log.Warn("webhook for unknown execution", "execution_ref", ev.ExecutionRef)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		log.Error("event reconciliation failed", "execution_ref", ev.ExecutionRef, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	status := "ignored"
	if out.Applied {
		status = "applied"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
