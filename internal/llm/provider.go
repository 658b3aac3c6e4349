package llm

import (
	"errors"
	"fmt"
	"strings"
)

var ErrModelNotAllowed = errors.New("model not allowed")

// ModelRegistry valida los identificadores de modelo que llegan de los clientes.
type ModelRegistry struct {
	defaultModel string
	allowed      map[string]struct{}
	ordered      []string
}

// NewModelRegistry registra el modelo por defecto junto con la lista permitida.
func NewModelRegistry(defaultModel string, allowed []string) *ModelRegistry {
	r := &ModelRegistry{
		defaultModel: strings.TrimSpace(defaultModel),
		allowed:      make(map[string]struct{}),
	}
	for _, m := range append([]string{r.defaultModel}, allowed...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := r.allowed[m]; ok {
			continue
		}
		r.allowed[m] = struct{}{}
		r.ordered = append(r.ordered, m)
	}
	return r
}

// Resolve devuelve el modelo a usar; vacío significa el modelo por defecto.
func (r *ModelRegistry) Resolve(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return r.defaultModel, nil
	}
	if !r.Allowed(model) {
		return "", fmt.Errorf("%w: %s", ErrModelNotAllowed, model)
	}
	return model, nil
}

func (r *ModelRegistry) Allowed(model string) bool {
	if r == nil {
		return false
	}
	_, ok := r.allowed[strings.TrimSpace(model)]
	return ok
}

func (r *ModelRegistry) Default() string {
	return r.defaultModel
}

func (r *ModelRegistry) Models() []string {
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}
