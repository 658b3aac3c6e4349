package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"helpdesk-chat/internal/domain"
	"helpdesk-chat/internal/repository"
)

// MessageService valida y persiste intercambios completos.
type MessageService struct {
	repo repository.MessageRepository
	now  func() time.Time
}

var (
	ErrMessageServiceNotConfigured = errors.New("message service not configured")
	ErrMessageInvalidInput         = errors.New("message invalid input")
)

func NewMessageService(repo repository.MessageRepository) *MessageService {
	return &MessageService{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Save escribe el intercambio como una unidad. El texto de usuario puede ir vacío
// cuando solo se envió un adjunto.
func (s *MessageService) Save(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if s == nil || s.repo == nil {
		return domain.Message{}, ErrMessageServiceNotConfigured
	}

	msg.UserID = strings.TrimSpace(msg.UserID)
	msg.ChatID = strings.TrimSpace(msg.ChatID)
	if msg.UserID == "" || msg.ChatID == "" {
		return domain.Message{}, ErrMessageInvalidInput
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}
