package service

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"helpdesk-chat/internal/llm"
)

const (
	defaultMaxUploadBytes = 2 * 1024 * 1024
	textExcerptRunes      = 1000
	genericContentType    = "application/octet-stream"
)

var (
	ErrAttachmentTooLarge  = errors.New("attachment too large")
	ErrInvalidImagePayload = errors.New("invalid image payload")
)

// Upload es un archivo recibido; Content debe poder rebobinarse para guardarlo después.
type Upload struct {
	Filename    string
	ContentType string
	Content     io.ReadSeeker
}

// Processed es lo que el archivo aporta al turno saliente.
type Processed struct {
	TextSuffix  string
	Image       *llm.InlineImage
	ContentType string
	Size        int64
}

// AttachmentProcessor clasifica adjuntos en imagen, texto u otro.
type AttachmentProcessor struct {
	maxBytes int64
}

func NewAttachmentProcessor(maxBytes int64) *AttachmentProcessor {
	if maxBytes <= 0 {
		maxBytes = defaultMaxUploadBytes
	}
	return &AttachmentProcessor{maxBytes: maxBytes}
}

// MaxBytes es el tope que también aplica el handler HTTP antes de leer el archivo.
func (p *AttachmentProcessor) MaxBytes() int64 {
	return p.maxBytes
}

// Process deja Content rebobinado al inicio en todos los casos sin error.
func (p *AttachmentProcessor) Process(u Upload) (Processed, error) {
	size, err := u.Content.Seek(0, io.SeekEnd)
	if err != nil {
		return Processed{}, fmt.Errorf("measure attachment: %w", err)
	}
	if size > p.maxBytes {
		return Processed{}, ErrAttachmentTooLarge
	}
	if _, err := u.Content.Seek(0, io.SeekStart); err != nil {
		return Processed{}, fmt.Errorf("rewind attachment: %w", err)
	}

	contentType, err := p.contentType(u)
	if err != nil {
		return Processed{}, err
	}
	out := Processed{ContentType: contentType, Size: size}

	switch {
	case strings.HasPrefix(contentType, "image/"):
		data, err := io.ReadAll(u.Content)
		if err != nil {
			return Processed{}, fmt.Errorf("read image attachment: %w", err)
		}
		out.Image = &llm.InlineImage{
			MIMEType: contentType,
			Base64:   base64.StdEncoding.EncodeToString(data),
		}
	case strings.HasPrefix(contentType, "text/"):
		excerpt, err := readExcerpt(u.Content, textExcerptRunes)
		if err != nil {
			return Processed{}, fmt.Errorf("read text attachment: %w", err)
		}
		out.TextSuffix = "\n\n[Text File]\n" + excerpt
	default:
		out.TextSuffix = "\n\n[File]\n" + u.Filename
	}

	if _, err := u.Content.Seek(0, io.SeekStart); err != nil {
		return Processed{}, fmt.Errorf("rewind attachment: %w", err)
	}
	return out, nil
}

// contentType usa el tipo declarado salvo que falte o sea genérico.
func (p *AttachmentProcessor) contentType(u Upload) (string, error) {
	declared := normalizeMIME(u.ContentType)
	if declared != "" && declared != genericContentType {
		return declared, nil
	}
	detected, err := mimetype.DetectReader(u.Content)
	if err != nil {
		return "", fmt.Errorf("detect attachment type: %w", err)
	}
	if _, err := u.Content.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind attachment: %w", err)
	}
	return normalizeMIME(detected.String()), nil
}

// DecodeInlineImage valida una imagen base64 preparada por el cliente, con o sin prefijo data:.
func (p *AttachmentProcessor) DecodeInlineImage(payload string) (*llm.InlineImage, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}
	if strings.HasPrefix(payload, "data:") {
		_, after, found := strings.Cut(payload, ",")
		if !found {
			return nil, ErrInvalidImagePayload
		}
		payload = after
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrInvalidImagePayload
	}
	if int64(len(data)) > p.maxBytes {
		return nil, ErrAttachmentTooLarge
	}
	mime := normalizeMIME(mimetype.Detect(data).String())
	if !strings.HasPrefix(mime, "image/") {
		return nil, ErrInvalidImagePayload
	}
	return &llm.InlineImage{MIMEType: mime, Base64: payload}, nil
}

func normalizeMIME(ct string) string {
	base, _, _ := strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// readExcerpt lee hasta n caracteres reemplazando bytes inválidos en vez de fallar.
func readExcerpt(r io.Reader, n int) (string, error) {
	br := bufio.NewReader(transform.NewReader(r, runes.ReplaceIllFormed()))
	var sb strings.Builder
	for i := 0; i < n; i++ {
		ch, _, err := br.ReadRune()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		sb.WriteRune(ch)
	}
	return sb.String(), nil
}
