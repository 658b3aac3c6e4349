// Package storage guarda los archivos adjuntos de los mensajes y resuelve su URL pública.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const uploadPrefix = "chat_uploads"

var ErrInvalidRef = errors.New("invalid attachment reference")

// AttachmentStore guarda un archivo y devuelve una referencia estable.
type AttachmentStore interface {
	Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
	URL(ref string) string
}

// objectName arma la clave del objeto: chat_uploads/AAAA/MM/<uuid>-<nombre>.
func objectName(filename string, now time.Time) string {
	base := sanitizeFilename(filename)
	return path.Join(uploadPrefix, fmt.Sprintf("%04d/%02d", now.Year(), int(now.Month())), uuid.NewString()+"-"+base)
}

func sanitizeFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	var sb strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	out := strings.Trim(sb.String(), ".")
	if out == "" {
		return "upload"
	}
	if len(out) > 100 {
		out = out[len(out)-100:]
	}
	return out
}

func validRef(ref string) bool {
	if ref == "" || strings.Contains(ref, "..") || strings.HasPrefix(ref, "/") {
		return false
	}
	return strings.HasPrefix(ref, uploadPrefix+"/")
}
