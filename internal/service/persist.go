package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"helpdesk-chat/internal/domain"
	"helpdesk-chat/internal/observability"
)

// AttachmentSaver guarda el archivo original y devuelve su referencia.
type AttachmentSaver interface {
	Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

// Exchange es lo que se persiste al terminar un turno.
type Exchange struct {
	Ref         domain.ChatRef
	UserMessage string
	Reply       string
	Upload      *Upload
	ContentType string
}

// ExchangeRecorder guarda adjunto y mensaje, y descarta el conteo cacheado de la conversación.
type ExchangeRecorder struct {
	messages    *MessageService
	attachments AttachmentSaver
	rate        *RateWindow
	metrics     *observability.ChatMetrics
	logger      *zap.Logger
}

func NewExchangeRecorder(
	messages *MessageService,
	attachments AttachmentSaver,
	rate *RateWindow,
	metrics *observability.ChatMetrics,
	logger *zap.Logger,
) *ExchangeRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExchangeRecorder{
		messages:    messages,
		attachments: attachments,
		rate:        rate,
		metrics:     metrics,
		logger:      logger,
	}
}

// Record escribe un único Message. Si el adjunto no se puede guardar, el intercambio
// se persiste igual sin referencia.
func (r *ExchangeRecorder) Record(ctx context.Context, ex Exchange) (domain.Message, error) {
	msg := domain.Message{
		UserID:      ex.Ref.UserID,
		ChatID:      ex.Ref.ChatID,
		UserMessage: ex.UserMessage,
		AIMessage:   ex.Reply,
	}

	if ex.Upload != nil && ex.Upload.Content != nil && r.attachments != nil {
		if _, err := ex.Upload.Content.Seek(0, io.SeekStart); err != nil {
			r.logger.Warn("rewind attachment failed", zap.String("chat_id", ex.Ref.ChatID), zap.Error(err))
		} else {
			contentType := ex.ContentType
			if contentType == "" {
				contentType = ex.Upload.ContentType
			}
			ref, err := r.attachments.Save(ctx, ex.Upload.Filename, contentType, ex.Upload.Content)
			if err != nil {
				r.logger.Warn("store attachment failed",
					zap.String("chat_id", ex.Ref.ChatID),
					zap.String("filename", ex.Upload.Filename),
					zap.Error(err),
				)
			} else {
				msg.AttachmentRef = ref
			}
		}
	}

	saved, err := r.messages.Save(ctx, msg)
	if err != nil {
		r.metrics.RecordPersistFailure()
		return domain.Message{}, fmt.Errorf("save message: %w", err)
	}
	r.rate.Invalidate(ctx, ex.Ref)
	return saved, nil
}

// Dispatcher ejecuta escrituras que no deben bloquear al cliente.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, task func(ctx context.Context) error)
}

// AsyncDispatcher corre cada tarea en su propia goroutine, desligada de la cancelación
// del request y con su propio timeout.
type AsyncDispatcher struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *zap.Logger
}

func NewAsyncDispatcher(timeout time.Duration, logger *zap.Logger) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncDispatcher{timeout: timeout, logger: logger}
}

func (d *AsyncDispatcher) Dispatch(ctx context.Context, name string, task func(ctx context.Context) error) {
	detached := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("background task panicked", zap.String("task", name), zap.Any("panic", rec))
			}
		}()

		taskCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()
		if err := task(taskCtx); err != nil {
			d.logger.Error("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait bloquea hasta que terminen las tareas pendientes o ctx expire.
func (d *AsyncDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncDispatcher ejecuta la tarea en línea; útil en tests y en la CLI.
type SyncDispatcher struct {
	Logger *zap.Logger
}

func (d SyncDispatcher) Dispatch(ctx context.Context, name string, task func(ctx context.Context) error) {
	if err := task(context.WithoutCancel(ctx)); err != nil && d.Logger != nil {
		d.Logger.Error("task failed", zap.String("task", name), zap.Error(err))
	}
}
