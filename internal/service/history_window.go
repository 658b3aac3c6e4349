package service

import (
	"context"
	"fmt"

	"helpdesk-chat/internal/domain"
	"helpdesk-chat/internal/repository"
)

const defaultHistoryLimit = 20

// AttachmentURLResolver traduce la referencia guardada de un adjunto a una URL.
type AttachmentURLResolver interface {
	URL(ref string) string
}

// HistoryWindow reconstruye los últimos turnos de una conversación en orden cronológico.
type HistoryWindow struct {
	messageRepo repository.MessageRepository
	urls        AttachmentURLResolver
	limit       int
}

func NewHistoryWindow(messageRepo repository.MessageRepository, urls AttachmentURLResolver, limit int) *HistoryWindow {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &HistoryWindow{messageRepo: messageRepo, urls: urls, limit: limit}
}

func (h *HistoryWindow) Load(ctx context.Context, ref domain.ChatRef) ([]domain.Turn, error) {
	if !ref.Valid() {
		return []domain.Turn{}, nil
	}

	messages, err := h.messageRepo.ListRecent(ctx, ref.UserID, ref.ChatID, h.limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}

	// El repositorio devuelve del más nuevo al más viejo.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	turns := make([]domain.Turn, 0, len(messages)*2)
	for _, m := range messages {
		if m.UserMessage != "" || m.HasAttachment() {
			turn := domain.Turn{Role: domain.RoleUser, Content: m.UserMessage}
			if m.HasAttachment() && h.urls != nil {
				turn.AttachmentURL = h.urls.URL(m.AttachmentRef)
			}
			turns = append(turns, turn)
		}
		if m.AIMessage != "" {
			turns = append(turns, domain.Turn{Role: domain.RoleAssistant, Content: m.AIMessage})
		}
	}
	return turns, nil
}
