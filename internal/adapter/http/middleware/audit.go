package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Audit actions recorded for successful writes.
const (
	ActionAddressIssued    = "ADDRESS_ISSUED"
	ActionTransferExecuted = "TRANSFER_EXECUTED"
)

// AuditLog writes one audit line per successful state-changing request.
// Reads and failed writes are not audited.
func AuditLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		action := auditAction(c.Request.Method, c.FullPath())
		if action == "" {
			return
		}

		log.Info().
			Str("action", action).
			Str("request_id", c.GetString(CtxRequestID)).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Bool("replayed", c.Writer.Header().Get("Idempotent-Replayed") == "true").
			Msg("audit")
	}
}

// auditAction maps a route to its audit action.
func auditAction(method, route string) string {
	if method != http.MethodPost {
		return ""
	}
	switch route {
	case "/api/v1/addresses":
		return ActionAddressIssued
	case "/api/v1/transfers":
		return ActionTransferExecuted
	}
	return ""
}
