// Package api is the REST client for the chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"chat-client/internal/observability"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
)

var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrInvalidRequest  = errors.New("invalid request")
)

const maxErrorBody = 64 << 10

var validate = validator.New()

// Client issues REST calls on behalf of one session.
type Client struct {
	baseURL  string
	http     *http.Client
	session  session.Session
	deviceID string
	now      func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

func WithSession(s session.Session) Option {
	return func(c *Client) { c.session = s }
}

// New builds a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the identity the client authenticates with.
func (c *Client) Session() session.Session {
	return c.session
}

// WithSession returns a copy of the client bound to s.
func (c *Client) WithSession(s session.Session) *Client {
	clone := *c
	clone.session = s
	return &clone
}

// Error is a non-success response from the backend.
type Error struct {
	Status int
	Route  string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Route, e.Detail, e.Status)
}

// Detail returns the backend's message for err, or "" when err did not come
// from the backend.
func Detail(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return ""
}

type request struct {
	method string
	route  string
	path   string
	query  url.Values
	body   any
	auth   bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if r.auth {
		if err := c.session.Valid(c.now()); err != nil {
			return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
	}
	if r.body != nil {
		if err := validate.Struct(r.body); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	ctx, span := otel.Tracer("chat-client/api").Start(ctx, r.method+" "+r.route, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.route, err)
		}
		body = bytes.NewReader(raw)
	}

	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", r.route, err)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if r.auth {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}
	requestID := telemetry.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = observability.NewRequestID()
	}
	observability.ApplyClientHeaders(req.Header, requestID, c.deviceID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	span.SetAttributes(attribute.String("http.route", r.route), attribute.String("request.id", requestID))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.ObserveHTTPRequest(r.method, r.route, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return fmt.Errorf("%s %s: %w", r.method, r.route, err)
	}
	defer resp.Body.Close()
	observability.ObserveHTTPRequest(r.method, r.route, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeError(resp, r.method+" "+r.route)
		span.SetStatus(codes.Error, apiErr.Detail)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.route, err)
	}
	return nil
}

func decodeError(resp *http.Response, route string) *Error {
	apiErr := &Error{Status: resp.StatusCode, Route: route}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		apiErr.Detail = detailText(payload.Detail)
		if apiErr.Detail == "" {
			apiErr.Detail = payload.Error
		}
	}
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// detailText accepts a plain string or a list of validation problems.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	var problems []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &problems) == nil {
		msgs := make([]string, 0, len(problems))
		for _, p := range problems {
			if p.Msg != "" {
				msgs = append(msgs, p.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
