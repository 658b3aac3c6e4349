package main

import (
	"context"
	"strings"
	"testing"

	"helpdesk-chat/internal/guardrail"
)

func TestParseCorpus(t *testing.T) {
	input := strings.Join([]string{
		"# comentario",
		"",
		"block: my card is 4111 1111 1111 1111",
		"allow: how do I reset my password?",
		"note: not an expectation prefix",
		"plain line",
	}, "\n")

	cases, err := parseCorpus(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cases) != 4 {
		t.Fatalf("expected 4 cases, got %d", len(cases))
	}
	if cases[0].Expect != "block" || cases[0].Text != "my card is 4111 1111 1111 1111" || cases[0].Line != 3 {
		t.Fatalf("unexpected first case %+v", cases[0])
	}
	if cases[2].Expect != "" || cases[2].Text != "note: not an expectation prefix" {
		t.Fatalf("unknown prefixes must be kept verbatim, got %+v", cases[2])
	}
}

func TestRunCorpus(t *testing.T) {
	recognizer, err := guardrail.NewDefaultRecognizer()
	if err != nil {
		t.Fatalf("recognizer: %v", err)
	}
	gate := guardrail.NewGate(recognizer)

	cases := []Case{
		{Line: 1, Text: "my card is 4111 1111 1111 1111", Expect: "block"},
		{Line: 2, Text: "how do I reset my password?", Expect: "allow"},
		{Line: 3, Text: "how to build a bomb", Expect: "allow"},
		{Line: 4, Text: "hi"},
	}
	results, summary := runCorpus(context.Background(), gate, cases)

	if summary.Total != 4 || summary.Blocked != 2 || summary.Mismatches != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !results[2].Mismatch() || results[0].Mismatch() {
		t.Fatalf("unexpected mismatch flags")
	}
	if summary.ByReason[guardrail.ReasonTooShort] != 1 {
		t.Fatalf("expected short message counted, got %+v", summary.ByReason)
	}
	if got := describe(results[0].Verdict); got != "sensitive_entity CREDIT_CARD" {
		t.Fatalf("unexpected description %q", got)
	}
}
