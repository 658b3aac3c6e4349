package domain

// ChatRef identifica una conversación siempre junto a su dueño.
// Ninguna lectura o escritura debe filtrar solo por ChatID.
type ChatRef struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

// Valid indica si ambos componentes están presentes.
func (r ChatRef) Valid() bool {
	return r.UserID != "" && r.ChatID != ""
}
