package observability

import (
	"net/http"

	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderDeviceID  = "X-Device-Id"
)

// NewRequestID returns a fresh correlation id for an outgoing request.
func NewRequestID() string {
	return uuid.NewString()
}

// ApplyClientHeaders stamps correlation headers on an outgoing request.
func ApplyClientHeaders(h http.Header, requestID, deviceID string) {
	if requestID != "" {
		h.Set(HeaderRequestID, requestID)
	}
	if deviceID != "" {
		h.Set(HeaderDeviceID, deviceID)
	}
}

func DeviceIDFromRequest(r *http.Request) string {
	return r.Header.Get(HeaderDeviceID)
}

func RequestIDFromRequest(r *http.Request) string {
	return r.Header.Get(HeaderRequestID)
}
