package domain

import "time"

// Message es un intercambio completo: un turno del usuario y la respuesta del asistente.
// Se escribe una sola vez y nunca se actualiza desde el núcleo del chat.
type Message struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ChatID        string    `json:"chat_id"`
	UserMessage   string    `json:"user_message"`
	AIMessage     string    `json:"ai_message"`
	AttachmentRef string    `json:"attachment_ref,omitempty"`
	IsArchived    bool      `json:"is_archived"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasAttachment indica si el intercambio guardó un archivo.
func (m Message) HasAttachment() bool {
	return m.AttachmentRef != ""
}
