package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"swapmarket/internal/domain/entity"
)

type EventPublisherMock struct {
	mock.Mock
}

func (m *EventPublisherMock) Publish(ctx context.Context, event entity.MessagingEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type TokenVerifierMock struct {
	mock.Mock
}

func (m *TokenVerifierMock) VerifyToken(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}
