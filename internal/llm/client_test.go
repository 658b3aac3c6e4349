package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"helpdesk-chat/internal/domain"
)

func newTestBridge(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *OpenAIBridge {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIBridge(Options{
		BaseURL:      srv.URL + "/v1",
		APIKey:       "sk-test",
		SystemPrompt: "You are a helpdesk bot.",
		Temperature:  0.2,
		MaxTokens:    600,
		Timeout:      timeout,
		StreamBuffer: 4,
	}, NewModelRegistry("openai/gpt-4o-mini", []string{"openai/gpt-4o"}), nil)
}

func writeChunk(w http.ResponseWriter, content string) {
	payload := fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q}}]}`, content)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
	w.(http.Flusher).Flush()
}

func collect(ch <-chan string) []string {
	var out []string
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func TestOpenAIBridge_CompleteBuildsRequest(t *testing.T) {
	var body map[string]any
	bridge := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"hola!"},"finish_reason":"stop"}]}`))
	}, time.Second)

	reply, err := bridge.Complete(context.Background(), Prompt{
		History: []domain.Turn{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Content: "hello"},
		},
		Image: &InlineImage{MIMEType: "image/jpeg", Base64: "AAAA"},
	})
	require.NoError(t, err)
	require.Equal(t, "hola!", reply)

	require.Equal(t, "openai/gpt-4o-mini", body["model"])
	require.InDelta(t, 0.2, body["temperature"], 0.0001)
	require.EqualValues(t, 600, body["max_tokens"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 4)
	require.Equal(t, "system", messages[0].(map[string]any)["role"])
	last := messages[3].(map[string]any)
	parts := last["content"].([]any)
	require.Len(t, parts, 2)
	require.Equal(t, "Describe this image", parts[0].(map[string]any)["text"])
	imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"]
	require.Equal(t, "data:image/jpeg;base64,AAAA", imageURL)
}

func TestOpenAIBridge_CompleteRejectsUnknownModel(t *testing.T) {
	called := false
	bridge := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) { called = true }, time.Second)
	_, err := bridge.Complete(context.Background(), Prompt{Model: "evil/model", UserText: "hi"})
	require.ErrorIs(t, err, ErrModelNotAllowed)
	require.False(t, called)
}

func TestOpenAIBridge_CompleteBackendError(t *testing.T) {
	bridge := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}, time.Second)

	_, err := bridge.Complete(context.Background(), Prompt{UserText: "hi"})
	require.Error(t, err)
	frag := ErrorFragment(err)
	require.True(t, IsErrorFragment(frag))
	require.Contains(t, frag, "502")
}

func TestOpenAIBridge_StreamInOrder(t *testing.T) {
	bridge := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range []string{"Hel", "lo", " world"} {
			writeChunk(w, c)
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}, time.Second)

	got := collect(bridge.Stream(context.Background(), Prompt{UserText: "hi"}))
	require.Equal(t, []string{"Hel", "lo", " world"}, got)
}

func TestOpenAIBridge_StreamErrorBecomesLastFragment(t *testing.T) {
	t.Run("error al abrir", func(t *testing.T) {
		bridge := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
		}, time.Second)

		got := collect(bridge.Stream(context.Background(), Prompt{UserText: "hi"}))
		require.Len(t, got, 1)
		require.True(t, IsErrorFragment(got[0]))
		require.Contains(t, got[0], "429")
	})

	t.Run("timeout después de texto parcial", func(t *testing.T) {
		bridge := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			writeChunk(w, "parcial")
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		}, 200*time.Millisecond)

		got := collect(bridge.Stream(context.Background(), Prompt{UserText: "hi"}))
		require.Len(t, got, 2)
		require.Equal(t, "parcial", got[0])
		require.True(t, IsErrorFragment(got[1]))
	})

	t.Run("modelo no permitido", func(t *testing.T) {
		bridge := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {}, time.Second)
		got := collect(bridge.Stream(context.Background(), Prompt{Model: "x/y", UserText: "hi"}))
		require.Len(t, got, 1)
		require.True(t, strings.HasPrefix(got[0], ErrorMarker))
		require.Contains(t, got[0], "model not allowed")
	})
}

func TestOpenAIBridge_StreamCancelStopsWithoutErrorFragment(t *testing.T) {
	bridge := newTestBridge(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeChunk(w, "first")
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	ch := bridge.Stream(ctx, Prompt{UserText: "hi"})
	require.Equal(t, "first", <-ch)
	cancel()

	done := make(chan []string)
	go func() { done <- collect(ch) }()
	select {
	case rest := <-done:
		for _, f := range rest {
			require.False(t, IsErrorFragment(f), "no error fragment after cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not stop after cancellation")
	}
}

func TestModelRegistry(t *testing.T) {
	r := NewModelRegistry(" openai/gpt-4o-mini ", []string{"openai/gpt-4o", "", "openai/gpt-4o"})
	require.Equal(t, []string{"openai/gpt-4o-mini", "openai/gpt-4o"}, r.Models())

	m, err := r.Resolve("")
	require.NoError(t, err)
	require.Equal(t, "openai/gpt-4o-mini", m)

	m, err = r.Resolve(" openai/gpt-4o ")
	require.NoError(t, err)
	require.Equal(t, "openai/gpt-4o", m)

	_, err = r.Resolve("rogue/model")
	require.ErrorIs(t, err, ErrModelNotAllowed)

	var nilRegistry *ModelRegistry
	require.False(t, nilRegistry.Allowed("openai/gpt-4o"))
}

func TestBuildMessages_AttachmentOnlyHistory(t *testing.T) {
	msgs := buildMessages("", Prompt{
		History:  []domain.Turn{{Role: domain.RoleUser, AttachmentURL: "/media/x.png"}},
		UserText: "next",
	})
	require.Len(t, msgs, 2)
	require.Equal(t, attachmentOnlyText, msgs[0].Content)
	require.Equal(t, "next", msgs[1].Content)
}
