package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var ErrEmptyResponse = errors.New("llm empty response")

// Options agrupa los parámetros fijos de generación.
type Options struct {
	BaseURL      string
	APIKey       string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	Timeout      time.Duration
	StreamBuffer int
}

// OpenAIBridge implementa Bridge contra cualquier API compatible con OpenAI.
type OpenAIBridge struct {
	client *openai.Client
	models *ModelRegistry
	opts   Options
	logger *zap.Logger
}

// NewOpenAIBridge construye el cliente apuntando a BaseURL (OpenRouter por defecto).
func NewOpenAIBridge(opts Options, models *ModelRegistry, logger *zap.Logger) *OpenAIBridge {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIBridge{
		client: openai.NewClientWithConfig(cfg),
		models: models,
		opts:   opts,
		logger: logger,
	}
}

func (b *OpenAIBridge) request(p Prompt) (openai.ChatCompletionRequest, error) {
	model, err := b.models.Resolve(p.Model)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    buildMessages(b.opts.SystemPrompt, p),
		Temperature: b.opts.Temperature,
		MaxTokens:   b.opts.MaxTokens,
	}, nil
}

func (b *OpenAIBridge) Complete(ctx context.Context, p Prompt) (string, error) {
	req, err := b.request(p)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		b.logger.Error("llm completion failed", zap.String("model", req.Model), zap.Error(err))
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *OpenAIBridge) Stream(ctx context.Context, p Prompt) <-chan string {
	out := make(chan string, b.opts.StreamBuffer)

	go func() {
		defer close(out)

		req, err := b.request(p)
		if err != nil {
			b.emitError(ctx, out, err)
			return
		}
		req.Stream = true

		callCtx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()

		stream, err := b.client.CreateChatCompletionStream(callCtx, req)
		if err != nil {
			b.emitError(ctx, out, err)
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				b.emitError(ctx, out, err)
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- resp.Choices[0].Delta.Content:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// emitError envía el marcador final salvo que el cliente ya se haya ido.
func (b *OpenAIBridge) emitError(ctx context.Context, out chan<- string, err error) {
	if ctx.Err() != nil {
		b.logger.Debug("llm stream stopped by caller", zap.Error(ctx.Err()))
		return
	}
	b.logger.Error("llm stream failed", zap.Error(err))
	select {
	case out <- ErrorFragment(err):
	case <-ctx.Done():
	}
}
