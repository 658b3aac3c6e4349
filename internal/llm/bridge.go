// Package llm adapta el backend de lenguaje compatible con OpenAI al flujo del chat.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"helpdesk-chat/internal/domain"
)

const (
	// ErrorMarker antecede el detalle de un fallo del backend dentro de la respuesta.
	ErrorMarker = "\n[Error]: "

	defaultImagePrompt = "Describe this image"
	attachmentOnlyText = "[Attachment]"
)

// InlineImage es una imagen ya codificada en base64 lista para enviarse al modelo.
type InlineImage struct {
	MIMEType string
	Base64   string
}

// DataURI arma la URL data: que espera la parte image_url.
func (i InlineImage) DataURI() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + i.Base64
}

// Prompt es todo lo que el backend necesita para un turno.
type Prompt struct {
	Model    string
	History  []domain.Turn
	UserText string
	Image    *InlineImage
}

// Bridge expone la respuesta completa y la respuesta por fragmentos.
type Bridge interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	// Stream devuelve un canal que se cierra al terminar. Un fallo del backend llega
	// como último fragmento con ErrorMarker; la cancelación del contexto no emite nada.
	Stream(ctx context.Context, p Prompt) <-chan string
}

// ErrorFragment convierte un error del backend en el texto que ve el usuario.
func ErrorFragment(err error) string {
	return ErrorMarker + describeError(err)
}

// IsErrorFragment indica si un fragmento es el marcador de error final.
func IsErrorFragment(fragment string) bool {
	return strings.HasPrefix(fragment, ErrorMarker)
}

func describeError(err error) string {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, context.DeadlineExceeded):
		return "the model backend timed out"
	case errors.As(err, &apiErr):
		if apiErr.HTTPStatusCode > 0 {
			return fmt.Sprintf("model backend returned status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "model backend error: " + apiErr.Message
	case errors.As(err, &reqErr):
		return fmt.Sprintf("model backend request failed with status %d", reqErr.HTTPStatusCode)
	case errors.Is(err, ErrEmptyResponse):
		return "the model backend returned an empty response"
	case errors.Is(err, ErrModelNotAllowed):
		return err.Error()
	default:
		return "the model backend is unavailable"
	}
}

// buildMessages arma preámbulo, historial y el turno nuevo; con imagen el turno
// nuevo lleva una parte de texto y una image_url.
func buildMessages(systemPrompt string, p Prompt) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(p.History)+2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, t := range p.History {
		switch t.Role {
		case domain.RoleAssistant:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: t.Content,
			})
		default:
			content := t.Content
			if content == "" {
				content = attachmentOnlyText
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: content,
			})
		}
	}

	if p.Image != nil {
		text := p.UserText
		if strings.TrimSpace(text) == "" {
			text = defaultImagePrompt
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: text},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    p.Image.DataURI(),
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		})
		return messages
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.UserText,
	})
	return messages
}
