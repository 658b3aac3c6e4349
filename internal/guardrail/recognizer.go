package guardrail

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

var ErrUnknownValidator = errors.New("unknown entity validator")

// Finding es una entidad sensible detectada en el texto.
type Finding struct {
	Entity    string
	PatternID string
	Match     string
	Start     int
	End       int
}

// EntityRecognizer detecta entidades sensibles. Un error significa que el
// reconocimiento no está disponible, no que el texto sea seguro.
type EntityRecognizer interface {
	Recognize(ctx context.Context, text string) ([]Finding, error)
}

type entityFile struct {
	Entities []entityDefinition `yaml:"entities"`
}

type entityDefinition struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Validator   string              `yaml:"validator"`
	Patterns    []patternDefinition `yaml:"patterns"`
}

type patternDefinition struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
}

type compiledPattern struct {
	entity   string
	id       string
	re       *regexp.Regexp
	validate func(string) bool
}

// PatternRecognizer aplica expresiones regulares y validadores de checksum.
type PatternRecognizer struct {
	patterns []compiledPattern
	entities []string
}

// NewPatternRecognizer carga y compila un paquete YAML de patrones.
func NewPatternRecognizer(data []byte) (*PatternRecognizer, error) {
	var file entityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity patterns: %w", err)
	}

	r := &PatternRecognizer{}
	for _, ent := range file.Entities {
		var validate func(string) bool
		if ent.Validator != "" {
			v, ok := validators[ent.Validator]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownValidator, ent.Validator)
			}
			validate = v
		}
		for _, p := range ent.Patterns {
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("failed to compile pattern %s: %w", p.ID, err)
			}
			r.patterns = append(r.patterns, compiledPattern{
				entity:   ent.Name,
				id:       p.ID,
				re:       re,
				validate: validate,
			})
		}
		r.entities = append(r.entities, ent.Name)
	}
	return r, nil
}

// NewDefaultRecognizer usa el paquete embebido.
func NewDefaultRecognizer() (*PatternRecognizer, error) {
	return NewPatternRecognizer(DefaultPatterns)
}

// Entities lista los tipos de entidad cargados, en el orden del archivo.
func (r *PatternRecognizer) Entities() []string {
	out := make([]string, len(r.entities))
	copy(out, r.entities)
	return out
}

func (r *PatternRecognizer) Recognize(ctx context.Context, text string) ([]Finding, error) {
	var findings []Finding
	for _, p := range r.patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if p.validate != nil && !p.validate(match) {
				continue
			}
			findings = append(findings, Finding{
				Entity:    p.entity,
				PatternID: p.id,
				Match:     match,
				Start:     loc[0],
				End:       loc[1],
			})
		}
	}
	return findings, nil
}
