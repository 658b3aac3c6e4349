package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidChatID = errors.New("invalid chat id")

// maxChatIDLength acota los tokens de conversación que envía el cliente.
const maxChatIDLength = 128

type ResolveInput struct {
	// ClientKey identifica la sesión del cliente (usuario + cookie).
	ClientKey       string
	StartNew        bool
	RequestedChatID string
}

type Resolution struct {
	ChatID string
	IsNew  bool
}

// SessionResolver decide qué conversación usa cada request y la deja asociada al cliente.
type SessionResolver struct {
	store  SessionBindingStore
	ttl    time.Duration
	newID  func() string
	logger *zap.Logger
}

func NewSessionResolver(store SessionBindingStore, ttl time.Duration, logger *zap.Logger) *SessionResolver {
	if store == nil {
		store = NewMemorySessionBindingStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionResolver{
		store:  store,
		ttl:    ttl,
		newID:  uuid.NewString,
		logger: logger,
	}
}

// Resolve aplica la prioridad: chat nuevo explícito, id del request, id asociado, id nuevo.
func (r *SessionResolver) Resolve(ctx context.Context, in ResolveInput) (Resolution, error) {
	var res Resolution

	requested := strings.TrimSpace(in.RequestedChatID)
	switch {
	case in.StartNew:
		res = Resolution{ChatID: r.newID(), IsNew: true}
	case requested != "":
		chatID, err := normalizeChatID(requested)
		if err != nil {
			return Resolution{}, err
		}
		res = Resolution{ChatID: chatID}
	default:
		bound, ok, err := r.store.Get(ctx, in.ClientKey)
		if err != nil {
			r.logger.Warn("session binding lookup failed", zap.String("client_key", in.ClientKey), zap.Error(err))
		}
		if ok && bound != "" {
			res = Resolution{ChatID: bound}
		} else {
			res = Resolution{ChatID: r.newID(), IsNew: true}
		}
	}

	if err := r.store.Bind(ctx, in.ClientKey, res.ChatID, r.ttl); err != nil {
		r.logger.Warn("session binding store failed", zap.String("client_key", in.ClientKey), zap.Error(err))
	}
	return res, nil
}

// normalizeChatID acepta cualquier token imprimible y acotado; los UUID quedan en forma canónica.
func normalizeChatID(raw string) (string, error) {
	if len(raw) > maxChatIDLength {
		return "", ErrInvalidChatID
	}
	for _, r := range raw {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", ErrInvalidChatID
		}
	}
	if parsed, err := uuid.Parse(raw); err == nil {
		return parsed.String(), nil
	}
	return raw, nil
}
