package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/telemetry"
)

// AuditRoutingKey is the routing key NewAuditEmitter uses in tests.
const AuditRoutingKey = "audit.test"

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NewAuditEmitter returns an emitter that publishes into m.
func (m *PublisherMock) NewAuditEmitter() *telemetry.AuditEmitter {
	return telemetry.NewAuditEmitter(m, AuditRoutingKey, "chat-client", "test")
}

// ExpectAudit expects one audit record for action on chatID.
func (m *PublisherMock) ExpectAudit(level, action string, chatID int) *mock.Call {
	return m.On("Publish", mock.Anything, AuditRoutingKey, mock.MatchedBy(func(e telemetry.AuditEnvelope) bool {
		return e.Payload.Level == level && e.Payload.Action == action && e.Payload.ChatID == chatID
	})).Return(nil).Once()
}
