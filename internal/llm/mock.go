package llm

import (
	"context"
	"sync"
)

// MockBridge permite tests sin llamar a un backend real.
type MockBridge struct {
	Response  string
	Err       error
	Fragments []string
	// StreamErr agrega el marcador de error después de Fragments.
	StreamErr error

	mu      sync.Mutex
	prompts []Prompt
}

func (m *MockBridge) Complete(_ context.Context, p Prompt) (string, error) {
	m.record(p)
	return m.Response, m.Err
}

func (m *MockBridge) Stream(ctx context.Context, p Prompt) <-chan string {
	m.record(p)
	out := make(chan string)
	go func() {
		defer close(out)
		for _, f := range m.Fragments {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if m.StreamErr != nil && ctx.Err() == nil {
			select {
			case out <- ErrorFragment(m.StreamErr):
			case <-ctx.Done():
			}
		}
	}()
	return out
}

func (m *MockBridge) record(p Prompt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, p)
}

// Calls devuelve cuántas veces se invocó el backend.
func (m *MockBridge) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// LastPrompt devuelve el último prompt recibido.
func (m *MockBridge) LastPrompt() (Prompt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return Prompt{}, false
	}
	return m.prompts[len(m.prompts)-1], true
}
