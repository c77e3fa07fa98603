package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/ai-cherry/sophia-strategic-development-sub016/internal/gateway"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("writing response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"message": msg},
	})
}

// writeGatewayError maps a gateway error kind onto an HTTP status. The kind
// string travels in the body so clients can branch without parsing messages.
func writeGatewayError(w http.ResponseWriter, err error) {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusBadGateway
	switch ge.Kind {
	case gateway.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case gateway.KindPoolExhausted, gateway.KindTransportUnavailable, gateway.KindUnavailable:
		status = http.StatusServiceUnavailable
	case gateway.KindAuthentication:
		status = http.StatusUnauthorized
	case gateway.KindValidation:
		status = http.StatusBadRequest
	case gateway.KindTransient:
		status = http.StatusBadGateway
	}

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"kind":     ge.Kind.String(),
			"message":  ge.Error(),
			"attempts": ge.Attempts,
		},
	})
}
