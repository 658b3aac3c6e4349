package domain

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn es una contribución de usuario o asistente dentro de la ventana de conversación.
type Turn struct {
	Role          string `json:"role"`
	Content       string `json:"content"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}
