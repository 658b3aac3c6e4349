package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"helpdesk-chat/internal/app"
	"helpdesk-chat/internal/config"
	"helpdesk-chat/internal/service"
)

// stdoutSink imprime cada fragmento apenas llega.
type stdoutSink struct{}

func (stdoutSink) Open(chatID string) error {
	fmt.Printf("[chat %s]\nAsistente: ", chatID)
	return nil
}

func (stdoutSink) Write(fragment string) error {
	_, err := fmt.Print(fragment)
	return err
}

func main() {
	userID := flag.String("user", "cli_user", "user id used for the conversation")
	stream := flag.Bool("stream", true, "stream the reply fragment by fragment")
	flag.Parse()

	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	chat, err := app.Build(ctx, cfg, logger, app.Options{SyncPersistence: true})
	if err != nil {
		log.Fatal(err)
	}
	defer chat.Close()

	s := &session{
		chat:      chat,
		userID:    *userID,
		clientKey: *userID + ":cli",
		stream:    *stream,
	}

	fmt.Println("===== HelpDesk CLI =====")
	fmt.Println("Comandos: /new, /model <id>, /file <ruta>, /state, /quit")
	for {
		fmt.Print("\nTú: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := s.command(ctx, line); quit {
				return
			}
			continue
		}
		s.send(ctx, line)
	}
}

type session struct {
	chat      *app.Chat
	userID    string
	clientKey string
	stream    bool

	startNew bool
	model    string
	file     string
}

func (s *session) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		return true
	case "/new":
		s.startNew = true
		fmt.Println("La próxima pregunta abre una conversación nueva.")
	case "/model":
		if arg == "" {
			fmt.Printf("Modelos: %s (default %s)\n", strings.Join(s.chat.Models.Models(), ", "), s.chat.Models.Default())
			return false
		}
		if !s.chat.Models.Allowed(arg) {
			fmt.Println("Modelo no permitido.")
			return false
		}
		s.model = arg
	case "/file":
		s.file = arg
		fmt.Printf("Adjunto listo: %s\n", filepath.Base(arg))
	case "/state":
		state, err := s.chat.Relay.State(ctx, s.userID, s.clientKey, "", false)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return false
		}
		fmt.Printf("Chat %s, %d turnos, quedan %d mensajes\n", state.ChatID, len(state.Conversation), state.Rate.Remaining)
		for _, t := range state.Conversation {
			fmt.Printf("  %s: %s\n", t.Role, t.Content)
		}
	default:
		fmt.Println("Comando desconocido.")
	}
	return false
}

func (s *session) send(ctx context.Context, message string) {
	req := service.ChatRequest{
		UserID:    s.userID,
		ClientKey: s.clientKey,
		StartNew:  s.startNew,
		Message:   message,
		Model:     s.model,
	}
	if s.file != "" {
		f, err := os.Open(s.file)
		if err != nil {
			fmt.Printf("no se pudo abrir el adjunto: %v\n", err)
			return
		}
		defer f.Close()
		req.Upload = &service.Upload{Filename: filepath.Base(s.file), Content: f}
	}

	var (
		out service.Outcome
		err error
	)
	if s.stream {
		out, err = s.chat.Relay.Stream(ctx, req, stdoutSink{})
		fmt.Println()
	} else {
		out, err = s.chat.Relay.Complete(ctx, req)
	}
	s.startNew = false
	s.file = ""

	switch {
	case errors.Is(err, service.ErrAttachmentTooLarge):
		fmt.Println("Image too large")
	case err != nil:
		fmt.Printf("error: %v\n", err)
	case out.Kind == service.OutcomeLimited:
		fmt.Printf("Límite alcanzado. Reintenta en %d segundos.\n", out.Rate.RemainingSeconds())
	case out.Kind == service.OutcomeBlocked:
		fmt.Printf("Mensaje bloqueado (%s).\n", out.Verdict.Reason)
	case !s.stream:
		fmt.Printf("Asistente: %s\n", out.Reply)
	}
}
