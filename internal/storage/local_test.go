package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalStore_SaveAndURL(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, "/media/")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	store.now = func() time.Time { return time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC) }

	ref, err := store.Save(context.Background(), "../../etc/passwd", "text/plain", strings.NewReader("contenido"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(ref, "chat_uploads/2025/03/") || !strings.HasSuffix(ref, "-passwd") {
		t.Fatalf("unexpected ref %q", ref)
	}

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(ref)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "contenido" {
		t.Fatalf("unexpected content %q", data)
	}

	if got := store.URL(ref); got != "/media/"+ref {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestLocalStore_URLRejectsForeignRefs(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/media")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, ref := range []string{"", "/etc/passwd", "chat_uploads/../secret", "other/file.png"} {
		if got := store.URL(ref); got != "" {
			t.Fatalf("expected empty url for %q, got %q", ref, got)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"foto perfil.png":   "foto_perfil.png",
		"C:\\tmp\\doc.txt":  "doc.txt",
		"...":               "upload",
		"informe-final_v2":  "informe-final_v2",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitize %q: expected %q, got %q", in, want, got)
		}
	}
}
