// Package guardrail filtra el texto que el usuario envía antes de que llegue al modelo.
package guardrail

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	ReasonAllowed          = "allowed"
	ReasonTooShort         = "too_short"
	ReasonSensitiveEntity  = "sensitive_entity"
	ReasonDenylistedTerm   = "denylisted_term"
	ReasonRecognizerFailed = "recognizer_unavailable"
)

// DefaultDenylist son términos de violencia, autolesión y actos ilegales.
var DefaultDenylist = []string{"kill", "bomb", "hack", "suicide", "murder", "kidnap", "rape", "terrorist"}

// Verdict explica la decisión del gate.
type Verdict struct {
	Allowed bool
	Reason  string
	Entity  string
	Term    string
}

// Gate decide si un mensaje saliente puede enviarse al modelo.
type Gate struct {
	recognizer EntityRecognizer
	denylist   []string
	minLength  int
	failOpen   bool
	logger     *zap.Logger
}

type Option func(*Gate)

// WithDenylist reemplaza la lista de términos; una lista vacía conserva la de fábrica.
func WithDenylist(terms []string) Option {
	return func(g *Gate) {
		var cleaned []string
		for _, t := range terms {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" {
				cleaned = append(cleaned, t)
			}
		}
		if len(cleaned) > 0 {
			g.denylist = cleaned
		}
	}
}

// WithMinLength fija la longitud mínima en runas a partir de la cual se revisa el texto.
func WithMinLength(n int) Option {
	return func(g *Gate) {
		if n > 0 {
			g.minLength = n
		}
	}
}

// WithFailOpen deja que la lista de términos decida sola cuando el reconocedor falla.
func WithFailOpen(failOpen bool) Option {
	return func(g *Gate) { g.failOpen = failOpen }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGate(recognizer EntityRecognizer, opts ...Option) *Gate {
	g := &Gate{
		recognizer: recognizer,
		denylist:   DefaultDenylist,
		minLength:  4,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Allow(ctx context.Context, text string) bool {
	return g.Check(ctx, text).Allowed
}

// Check revisa entidades sensibles y luego la lista de términos.
func (g *Gate) Check(ctx context.Context, text string) Verdict {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < g.minLength {
		return Verdict{Allowed: true, Reason: ReasonTooShort}
	}

	recognizerFailed := false
	if g.recognizer == nil {
		recognizerFailed = true
		g.logger.Error("guardrail recognizer not configured")
	} else {
		findings, err := g.recognizer.Recognize(ctx, text)
		if err != nil {
			recognizerFailed = true
			g.logger.Error("guardrail recognizer failed", zap.Bool("fail_open", g.failOpen), zap.Error(err))
		} else if len(findings) > 0 {
			return Verdict{Reason: ReasonSensitiveEntity, Entity: findings[0].Entity}
		}
	}

	lowered := strings.ToLower(text)
	for _, term := range g.denylist {
		if strings.Contains(lowered, term) {
			return Verdict{Reason: ReasonDenylistedTerm, Term: term}
		}
	}

	if recognizerFailed && !g.failOpen {
		return Verdict{Reason: ReasonRecognizerFailed}
	}
	return Verdict{Allowed: true, Reason: ReasonAllowed}
}
