package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"helpdesk-chat/internal/service"
)

const chatSessionCookie = "chat_sid"

// ChatRelay es lo que el handler necesita del núcleo del chat.
type ChatRelay interface {
	Complete(ctx context.Context, req service.ChatRequest) (service.Outcome, error)
	Stream(ctx context.Context, req service.ChatRequest, sink service.FragmentSink) (service.Outcome, error)
	State(ctx context.Context, userID, clientKey, chatID string, startNew bool) (service.ChatState, error)
}

// ChatHandler expone el chat por HTTP, con y sin streaming.
type ChatHandler struct {
	logger         *zap.Logger
	relay          ChatRelay
	maxUploadBytes int64
	cookieTTL      time.Duration
	secureCookie   bool
}

func NewChatHandler(
	logger *zap.Logger,
	relay ChatRelay,
	maxUploadBytes int64,
	cookieTTL time.Duration,
	secureCookie bool,
) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{
		logger:         logger,
		relay:          relay,
		maxUploadBytes: maxUploadBytes,
		cookieTTL:      cookieTTL,
		secureCookie:   secureCookie,
	}
}

type chatForm struct {
	Message     string `form:"message" json:"message"`
	Model       string `form:"model" json:"model" binding:"omitempty,chatmodel"`
	ChatID      string `form:"chat_id" json:"chat_id"`
	ImageBase64 string `form:"image_base64" json:"image_base64"`
}

// PostChat maneja POST /chat.
func (h *ChatHandler) PostChat(c *gin.Context) {
	req, cleanup, ok := h.bindChatRequest(c)
	if !ok {
		return
	}
	defer cleanup()

	out, err := h.relay.Complete(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	switch out.Kind {
	case service.OutcomeLimited:
		c.JSON(http.StatusOK, gin.H{
			"limit_reached":     true,
			"remaining_seconds": out.Rate.RemainingSeconds(),
		})
	case service.OutcomeBlocked:
		c.JSON(http.StatusForbidden, gin.H{"blocked": true})
	default:
		c.JSON(http.StatusOK, gin.H{
			"reply":         out.Reply,
			"limit_reached": false,
			"chat_id":       out.ChatID,
		})
	}
}

// StreamChat maneja POST /chat/stream. El cuerpo es texto plano con los fragmentos
// concatenados; los rechazos llegan como JSON antes de abrir el stream.
func (h *ChatHandler) StreamChat(c *gin.Context) {
	req, cleanup, ok := h.bindChatRequest(c)
	if !ok {
		return
	}
	defer cleanup()

	sink := &streamSink{c: c}
	out, err := h.relay.Stream(c.Request.Context(), req, sink)
	if err != nil {
		if sink.opened {
			h.logger.Error("stream failed after headers", zap.String("chat_id", out.ChatID), zap.Error(err))
			return
		}
		h.writeError(c, err)
		return
	}

	switch out.Kind {
	case service.OutcomeLimited:
		c.JSON(http.StatusTooManyRequests, gin.H{
			"limit_reached":     true,
			"remaining_seconds": out.Rate.RemainingSeconds(),
		})
	case service.OutcomeBlocked:
		c.JSON(http.StatusForbidden, gin.H{"blocked": true})
	}
}

// GetState maneja GET /chat/state.
func (h *ChatHandler) GetState(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth"})
		return
	}

	state, err := h.relay.State(
		c.Request.Context(),
		claims.UserID,
		h.clientKey(c, claims.UserID),
		c.Query("chat_id"),
		c.Query("action") == "new",
	)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chat_id":            state.ChatID,
		"conversation":       state.Conversation,
		"limit_reached":      state.Rate.LimitReached,
		"remaining_seconds":  state.Rate.RemainingSeconds(),
		"remaining_messages": state.Rate.Remaining,
	})
}

// bindChatRequest escribe la respuesta de error y devuelve ok=false si el request no sirve.
func (h *ChatHandler) bindChatRequest(c *gin.Context) (service.ChatRequest, func(), bool) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth"})
		return service.ChatRequest{}, nil, false
	}

	var form chatForm
	if err := c.ShouldBind(&form); err != nil {
		h.logger.Warn("invalid chat request", zap.String("user_id", claims.UserID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErrorMessage(err)})
		return service.ChatRequest{}, nil, false
	}

	upload, cleanup, err := h.readUpload(c)
	if err != nil {
		h.writeError(c, err)
		return service.ChatRequest{}, nil, false
	}

	req := service.ChatRequest{
		UserID:      claims.UserID,
		ClientKey:   h.clientKey(c, claims.UserID),
		StartNew:    c.Query("action") == "new",
		ChatID:      form.ChatID,
		Message:     form.Message,
		Model:       form.Model,
		ImageBase64: form.ImageBase64,
		Upload:      upload,
	}
	return req, cleanup, true
}

func (h *ChatHandler) readUpload(c *gin.Context) (*service.Upload, func(), error) {
	noop := func() {}
	header, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, noop, nil
		}
		return nil, nil, err
	}
	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		return nil, nil, service.ErrAttachmentTooLarge
	}

	file, err := header.Open()
	if err != nil {
		return nil, nil, err
	}
	upload := &service.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     file,
	}
	return upload, func() { _ = file.Close() }, nil
}

// clientKey liga la conversación activa a la cookie del navegador y al usuario.
func (h *ChatHandler) clientKey(c *gin.Context, userID string) string {
	sid, err := c.Cookie(chatSessionCookie)
	if err != nil || strings.TrimSpace(sid) == "" {
		sid = uuid.NewString()
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(chatSessionCookie, sid, int(h.cookieTTL.Seconds()), "/", "", h.secureCookie, true)
	}
	return userID + ":" + sid
}

func (h *ChatHandler) writeError(c *gin.Context, err error) {
	if service.IsValidationError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}
	h.logger.Error("chat request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "server error", "detail": safeDetail(err)})
}

// safeDetail resume el error para el cliente; el error completo queda en el log.
func safeDetail(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "unexpected error"
	}
}

func validationMessage(err error) string {
	if errors.Is(err, service.ErrAttachmentTooLarge) {
		return "Image too large"
	}
	return err.Error()
}

func bindErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == chatModelTag {
				return "model not allowed"
			}
		}
	}
	return "invalid request"
}

// streamSink escribe cada fragmento y hace flush para que el cliente lo vea enseguida.
type streamSink struct {
	c      *gin.Context
	opened bool
}

func (s *streamSink) Open(chatID string) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	header := s.c.Writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	header.Set("X-Chat-Id", chatID)
	s.c.Status(http.StatusOK)
	s.c.Writer.WriteHeaderNow()
	s.c.Writer.Flush()
	s.opened = true
	return nil
}

func (s *streamSink) Write(fragment string) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	if _, err := s.c.Writer.WriteString(fragment); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}
