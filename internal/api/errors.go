package api

import (
	"net/http"
	"strings"
	"time"

	"solar-telemetry/internal/aggregator"
	"solar-telemetry/internal/apperr"

	"github.com/gin-gonic/gin"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConfiguration:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindDeviceUnreachable:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes {"error": {"kind", "message"}}. Internal errors do not
// leak their message.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	message := apperr.Message(err)
	if kind == apperr.KindInternal {
		message = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{"kind": kind, "message": message},
	})
}

func bindError(c *gin.Context, err error) {
	respondError(c, apperr.Validation("invalid request body: %v", err))
}

// parseTime accepts RFC 3339 timestamps or plain dates, which mean local
// midnight in loc.
func parseTime(name, value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, apperr.Validation("%s is required", name)
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(aggregator.DateLayout, value, loc); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation("invalid %s %q: use RFC 3339 or YYYY-MM-DD", name, value)
}
