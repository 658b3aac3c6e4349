package guardrail

import (
	_ "embed"
)

// DefaultPatterns es el paquete de patrones compilado dentro del binario.
//
//go:embed patterns.yaml
var DefaultPatterns []byte
