package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/pledgeline/pledgeline/internal/payment/domain"
)

const webhookSignatureHeader = "X-Webhook-Signature"

// maxWebhookBodyBytes caps webhook payload reads; processor events are a few
// KB at most.
const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook accepts processor callbacks. Anything the reconciler
// has seen or deliberately ignores still answers 200 so the processor stops
// redelivering; a bad signature answers 401 with no state change.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.webhookSvc.HandleEvent(c.Request.Context(), payload, c.GetHeader(webhookSignatureHeader))
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "result": result})
}
