package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qmuntal/stateless"
	"go.uber.org/zap"

	"helpdesk-chat/internal/domain"
	"helpdesk-chat/internal/guardrail"
	"helpdesk-chat/internal/llm"
	"helpdesk-chat/internal/observability"
)

// Estados del ciclo de vida de un turno.
const (
	StateResolving     = "RESOLVING"
	StateCheckingLimit = "CHECKING_LIMIT"
	StateGuarding      = "GUARDING"
	StateGenerating    = "GENERATING"
	StatePersisting    = "PERSISTING"
	StateDone          = "DONE"
	StateError         = "ERROR"
)

const (
	triggerResolved    = "resolved"
	triggerWithinLimit = "within_limit"
	triggerLimited     = "limited"
	triggerAllowed     = "allowed"
	triggerBlocked     = "blocked"
	triggerGenerated   = "generated"
	triggerPersisted   = "persisted"
	triggerFailed      = "failed"
)

var ErrEmptyTurn = errors.New("message or attachment required")

// IsValidationError agrupa los errores que el cliente puede corregir.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyTurn) ||
		errors.Is(err, ErrInvalidChatID) ||
		errors.Is(err, ErrAttachmentTooLarge) ||
		errors.Is(err, ErrInvalidImagePayload) ||
		errors.Is(err, llm.ErrModelNotAllowed)
}

type OutcomeKind string

const (
	OutcomeReplied OutcomeKind = "replied"
	OutcomeLimited OutcomeKind = "limited"
	OutcomeBlocked OutcomeKind = "blocked"
)

// ChatRequest es un turno entrante ya autenticado.
type ChatRequest struct {
	UserID      string
	ClientKey   string
	StartNew    bool
	ChatID      string
	Message     string
	Model       string
	ImageBase64 string
	Upload      *Upload
}

// Outcome describe cómo terminó el turno.
type Outcome struct {
	Kind          OutcomeKind
	ChatID        string
	IsNew         bool
	Reply         string
	BackendFailed bool
	Rate          RateStatus
	Verdict       guardrail.Verdict
	Message       domain.Message
	State         string
}

// FragmentSink recibe la respuesta a medida que llega. Open se llama una sola vez,
// justo antes del primer fragmento, cuando ya no puede haber rechazo del turno.
type FragmentSink interface {
	Open(chatID string) error
	Write(fragment string) error
}

// ContentGuard filtra el texto saliente del usuario.
type ContentGuard interface {
	Check(ctx context.Context, text string) guardrail.Verdict
}

// Relay orquesta un turno completo: conversación, límite, filtro, generación y persistencia.
type Relay struct {
	sessions    *SessionResolver
	history     *HistoryWindow
	rate        *RateWindow
	guard       ContentGuard
	attachments *AttachmentProcessor
	bridge      llm.Bridge
	models      *llm.ModelRegistry
	recorder    *ExchangeRecorder
	dispatcher  Dispatcher
	metrics     *observability.ChatMetrics
	logger      *zap.Logger
}

func NewRelay(
	sessions *SessionResolver,
	history *HistoryWindow,
	rate *RateWindow,
	guard ContentGuard,
	attachments *AttachmentProcessor,
	bridge llm.Bridge,
	models *llm.ModelRegistry,
	recorder *ExchangeRecorder,
	dispatcher Dispatcher,
	metrics *observability.ChatMetrics,
	logger *zap.Logger,
) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dispatcher == nil {
		dispatcher = SyncDispatcher{Logger: logger}
	}
	return &Relay{
		sessions:    sessions,
		history:     history,
		rate:        rate,
		guard:       guard,
		attachments: attachments,
		bridge:      bridge,
		models:      models,
		recorder:    recorder,
		dispatcher:  dispatcher,
		metrics:     metrics,
		logger:      logger,
	}
}

// turn es el estado mutable de un request mientras recorre la máquina.
type turn struct {
	req         ChatRequest
	sink        FragmentSink
	transport   observability.Transport
	message     string
	model       string
	ref         domain.ChatRef
	conv        []domain.Turn
	contentType string
	outcome     Outcome
}

func (r *Relay) newLifecycle() *stateless.StateMachine {
	sm := stateless.NewStateMachine(StateResolving)
	sm.Configure(StateResolving).
		Permit(triggerResolved, StateCheckingLimit).
		Permit(triggerFailed, StateError)
	sm.Configure(StateCheckingLimit).
		Permit(triggerWithinLimit, StateGuarding).
		Permit(triggerLimited, StateDone).
		Permit(triggerFailed, StateError)
	sm.Configure(StateGuarding).
		Permit(triggerAllowed, StateGenerating).
		Permit(triggerBlocked, StateDone).
		Permit(triggerFailed, StateError)
	sm.Configure(StateGenerating).
		Permit(triggerGenerated, StatePersisting).
		Permit(triggerFailed, StateError)
	sm.Configure(StatePersisting).
		Permit(triggerPersisted, StateDone).
		Permit(triggerFailed, StateError)
	sm.OnTransitioned(func(_ context.Context, tr stateless.Transition) {
		r.logger.Debug("relay transition",
			zap.Any("from", tr.Source),
			zap.Any("to", tr.Destination),
			zap.Any("trigger", tr.Trigger),
		)
	})
	return sm
}

// Complete genera la respuesta entera y la persiste antes de volver.
func (r *Relay) Complete(ctx context.Context, req ChatRequest) (Outcome, error) {
	return r.run(ctx, &turn{req: req, transport: observability.TransportFull})
}

// Stream reenvía fragmentos a sink y despacha la persistencia sin esperarla.
func (r *Relay) Stream(ctx context.Context, req ChatRequest, sink FragmentSink) (Outcome, error) {
	if sink == nil {
		return Outcome{}, errors.New("stream sink required")
	}
	return r.run(ctx, &turn{req: req, sink: sink, transport: observability.TransportStream})
}

func (r *Relay) run(ctx context.Context, t *turn) (Outcome, error) {
	sm := r.newLifecycle()
	steps := map[string]func(context.Context, *turn) (string, error){
		StateResolving:     r.resolve,
		StateCheckingLimit: r.checkLimit,
		StateGuarding:      r.screen,
		StateGenerating:    r.generate,
		StatePersisting:    r.persist,
	}

	for {
		state := sm.MustState().(string)
		if state == StateDone {
			t.outcome.State = StateDone
			r.metrics.RecordOutcome(t.transport, string(t.outcome.Kind))
			return t.outcome, nil
		}

		trigger, err := steps[state](ctx, t)
		if err != nil {
			if fireErr := sm.FireCtx(ctx, triggerFailed); fireErr != nil {
				r.logger.Error("relay transition failed", zap.String("state", state), zap.Error(fireErr))
			}
			t.outcome.State = StateError
			r.metrics.RecordOutcome(t.transport, "error")
			return t.outcome, err
		}
		if err := sm.FireCtx(ctx, trigger); err != nil {
			return t.outcome, fmt.Errorf("relay transition %s -> %s: %w", state, trigger, err)
		}
	}
}

func (r *Relay) resolve(ctx context.Context, t *turn) (string, error) {
	t.message = strings.TrimSpace(t.req.Message)
	if t.message == "" && t.req.Upload == nil && strings.TrimSpace(t.req.ImageBase64) == "" {
		return "", ErrEmptyTurn
	}
	model, err := r.models.Resolve(t.req.Model)
	if err != nil {
		return "", err
	}
	t.model = model

	res, err := r.sessions.Resolve(ctx, ResolveInput{
		ClientKey:       t.req.ClientKey,
		StartNew:        t.req.StartNew,
		RequestedChatID: t.req.ChatID,
	})
	if err != nil {
		return "", err
	}
	t.ref = domain.ChatRef{UserID: t.req.UserID, ChatID: res.ChatID}
	t.outcome.ChatID = res.ChatID
	t.outcome.IsNew = res.IsNew

	if !res.IsNew {
		t.conv, err = r.history.Load(ctx, t.ref)
		if err != nil {
			return "", fmt.Errorf("load history: %w", err)
		}
	}
	return triggerResolved, nil
}

func (r *Relay) checkLimit(ctx context.Context, t *turn) (string, error) {
	status, err := r.rate.Evaluate(ctx, t.ref)
	if err != nil {
		return "", fmt.Errorf("evaluate rate window: %w", err)
	}
	t.outcome.Rate = status
	if status.LimitReached {
		t.outcome.Kind = OutcomeLimited
		r.logger.Info("chat rate limit reached",
			zap.String("user_id", t.ref.UserID),
			zap.String("chat_id", t.ref.ChatID),
			zap.Int("count", status.Count),
			zap.Duration("retry_after", status.RetryAfter),
		)
		return triggerLimited, nil
	}
	return triggerWithinLimit, nil
}

func (r *Relay) screen(ctx context.Context, t *turn) (string, error) {
	verdict := r.guard.Check(ctx, t.message)
	t.outcome.Verdict = verdict
	if !verdict.Allowed {
		t.outcome.Kind = OutcomeBlocked
		r.metrics.RecordBlocked(verdict.Reason)
		r.logger.Info("chat message blocked",
			zap.String("user_id", t.ref.UserID),
			zap.String("chat_id", t.ref.ChatID),
			zap.String("reason", verdict.Reason),
			zap.String("entity", verdict.Entity),
		)
		return triggerBlocked, nil
	}
	return triggerAllowed, nil
}

func (r *Relay) generate(ctx context.Context, t *turn) (string, error) {
	prompt := llm.Prompt{
		Model:    t.model,
		History:  t.conv,
		UserText: t.message,
	}

	if t.req.ImageBase64 != "" {
		img, err := r.attachments.DecodeInlineImage(t.req.ImageBase64)
		if err != nil {
			return "", err
		}
		prompt.Image = img
	}
	if t.req.Upload != nil {
		processed, err := r.attachments.Process(*t.req.Upload)
		if err != nil {
			return "", err
		}
		prompt.UserText += processed.TextSuffix
		if processed.Image != nil {
			prompt.Image = processed.Image
		}
		t.contentType = processed.ContentType
	}

	start := time.Now()
	if t.sink == nil {
		reply, err := r.bridge.Complete(ctx, prompt)
		if err != nil {
			r.logger.Warn("chat backend failed", zap.String("chat_id", t.ref.ChatID), zap.Error(err))
			r.metrics.RecordBackendError(t.transport)
			reply = llm.ErrorFragment(err)
			t.outcome.BackendFailed = true
		}
		t.outcome.Reply = reply
	} else {
		if err := t.sink.Open(t.ref.ChatID); err != nil {
			return "", fmt.Errorf("open stream: %w", err)
		}
		r.relayFragments(ctx, t, prompt)
	}
	r.metrics.ObserveGeneration(t.transport, time.Since(start))

	t.outcome.Kind = OutcomeReplied
	return triggerGenerated, nil
}

// relayFragments acumula cada fragmento antes de escribirlo. Si el cliente deja de
// aceptar escrituras se corta el productor y se descarta lo que quede en el canal.
func (r *Relay) relayFragments(ctx context.Context, t *turn, prompt llm.Prompt) {
	r.metrics.StreamStarted()
	defer r.metrics.StreamEnded()

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var reply strings.Builder
	delivering := true
	for fragment := range r.bridge.Stream(genCtx, prompt) {
		if !delivering {
			continue
		}
		reply.WriteString(fragment)
		if llm.IsErrorFragment(fragment) {
			t.outcome.BackendFailed = true
			r.metrics.RecordBackendError(t.transport)
		}
		if err := t.sink.Write(fragment); err != nil {
			delivering = false
			cancel()
			r.logger.Info("stream client went away", zap.String("chat_id", t.ref.ChatID), zap.Error(err))
			continue
		}
		r.metrics.RecordFragment()
	}
	t.outcome.Reply = reply.String()
}

func (r *Relay) persist(ctx context.Context, t *turn) (string, error) {
	ex := Exchange{
		Ref:         t.ref,
		UserMessage: t.message,
		Reply:       t.outcome.Reply,
		Upload:      t.req.Upload,
		ContentType: t.contentType,
	}

	if t.sink != nil {
		r.dispatcher.Dispatch(ctx, "persist_exchange", func(ctx context.Context) error {
			_, err := r.recorder.Record(ctx, ex)
			return err
		})
		return triggerPersisted, nil
	}

	msg, err := r.recorder.Record(context.WithoutCancel(ctx), ex)
	if err != nil {
		r.logger.Error("persist exchange failed", zap.String("chat_id", t.ref.ChatID), zap.Error(err))
		return "", err
	}
	t.outcome.Message = msg
	return triggerPersisted, nil
}

// ChatState es lo que un cliente necesita para pintar una conversación al abrirla.
type ChatState struct {
	ChatID       string
	IsNew        bool
	Conversation []domain.Turn
	Rate         RateStatus
}

// State resuelve la conversación sin generar nada y devuelve historial y cuota.
func (r *Relay) State(ctx context.Context, userID, clientKey, chatID string, startNew bool) (ChatState, error) {
	res, err := r.sessions.Resolve(ctx, ResolveInput{ClientKey: clientKey, StartNew: startNew, RequestedChatID: chatID})
	if err != nil {
		return ChatState{}, err
	}
	ref := domain.ChatRef{UserID: userID, ChatID: res.ChatID}

	state := ChatState{ChatID: res.ChatID, IsNew: res.IsNew, Conversation: []domain.Turn{}}
	if !res.IsNew {
		state.Conversation, err = r.history.Load(ctx, ref)
		if err != nil {
			return ChatState{}, fmt.Errorf("load history: %w", err)
		}
	}
	state.Rate, err = r.rate.Evaluate(ctx, ref)
	if err != nil {
		return ChatState{}, fmt.Errorf("evaluate rate window: %w", err)
	}
	return state, nil
}
