package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"telemed-chat-service/internal/auth"
	"telemed-chat-service/internal/models"
	"telemed-chat-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, sender, receiver, body, fileURL, fileType string) (models.Message, error) {
	args := m.Called(ctx, sender, receiver, body, fileURL, fileType)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) History(ctx context.Context, userA, userB string) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, sender, receiver string) error {
	args := m.Called(ctx, sender, receiver)
	return args.Error(0)
}

func (m *MessageRepositoryMock) UnreadCounts(ctx context.Context, recipient string) (map[string]int, error) {
	args := m.Called(ctx, recipient)
	var counts map[string]int
	if val := args.Get(0); val != nil {
		counts = val.(map[string]int)
	}
	return counts, args.Error(1)
}

type TokenVerifierMock struct {
	mock.Mock
}

func (m *TokenVerifierMock) Verify(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ auth.TokenVerifier = (*TokenVerifierMock)(nil)
