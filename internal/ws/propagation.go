package ws

import (
	"net/http"

	"go.opentelemetry.io/otel/propagation"
)

func propagationHeader(h http.Header) propagation.HeaderCarrier {
	return propagation.HeaderCarrier(h)
}
