package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"helpdesk-chat/internal/guardrail"
)

// Case es una línea del corpus. Las líneas con prefijo "block:" o "allow:" declaran
// el veredicto esperado; el resto solo se reporta.
type Case struct {
	Line   int
	Text   string
	Expect string
}

type Result struct {
	Case    Case
	Verdict guardrail.Verdict
}

// Mismatch indica si el veredicto contradice lo esperado.
func (r Result) Mismatch() bool {
	switch r.Case.Expect {
	case "block":
		return r.Verdict.Allowed
	case "allow":
		return !r.Verdict.Allowed
	}
	return false
}

type Summary struct {
	Total      int
	Blocked    int
	Mismatches int
	ByReason   map[string]int
}

func parseCorpus(r io.Reader) ([]Case, error) {
	var cases []Case
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		c := Case{Line: line, Text: text}
		if prefix, rest, ok := strings.Cut(text, ":"); ok {
			switch strings.ToLower(strings.TrimSpace(prefix)) {
			case "block", "allow":
				c.Expect = strings.ToLower(strings.TrimSpace(prefix))
				c.Text = strings.TrimSpace(rest)
			}
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return cases, nil
}

func runCorpus(ctx context.Context, gate *guardrail.Gate, cases []Case) ([]Result, Summary) {
	summary := Summary{ByReason: make(map[string]int)}
	results := make([]Result, 0, len(cases))
	for _, c := range cases {
		res := Result{Case: c, Verdict: gate.Check(ctx, c.Text)}
		results = append(results, res)

		summary.Total++
		summary.ByReason[res.Verdict.Reason]++
		if !res.Verdict.Allowed {
			summary.Blocked++
		}
		if res.Mismatch() {
			summary.Mismatches++
		}
	}
	return results, summary
}

func describe(v guardrail.Verdict) string {
	switch {
	case v.Entity != "":
		return v.Reason + " " + v.Entity
	case v.Term != "":
		return v.Reason + " " + v.Term
	}
	return v.Reason
}
