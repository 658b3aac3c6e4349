package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"helpdesk-chat/internal/config"
	"helpdesk-chat/internal/guardrail"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

func main() {
	corpusPath := flag.String("corpus", "-", "file with one message per line, - for stdin")
	patternsPath := flag.String("patterns", "", "YAML pattern pack overriding the embedded one")
	flag.Parse()

	ctx := context.Background()
	_ = godotenv.Load()

	// Sin LLM_API_KEY la config completa no carga; aquí solo interesan los GUARDRAIL_*.
	var cfg config.Config
	if loaded, err := config.LoadConfig(); err == nil {
		cfg = *loaded
	} else {
		log.Printf("warning: using guardrail defaults: %v", err)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	recognizer, err := loadRecognizer(*patternsPath)
	if err != nil {
		log.Fatal(err)
	}
	gate := guardrail.NewGate(recognizer,
		guardrail.WithDenylist(cfg.GuardrailDenylist),
		guardrail.WithMinLength(cfg.GuardrailMinLength),
		guardrail.WithFailOpen(cfg.GuardrailFailOpen),
		guardrail.WithLogger(logger),
	)

	var in io.Reader = os.Stdin
	if *corpusPath != "-" {
		f, err := os.Open(*corpusPath)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		in = f
	}

	cases, err := parseCorpus(in)
	if err != nil {
		log.Fatal(err)
	}
	results, summary := runCorpus(ctx, gate, cases)

	for _, r := range results {
		color := colorGreen
		label := "ALLOW"
		if !r.Verdict.Allowed {
			color = colorRed
			label = "BLOCK"
		}
		marker := ""
		if r.Mismatch() {
			marker = " (expected " + r.Case.Expect + ")"
		}
		fmt.Printf("%s[%s]%s %4d %s  %s%s%s\n", color, label, colorReset, r.Case.Line, r.Case.Text, colorCyan, describe(r.Verdict), colorReset+marker)
	}

	reasons := make([]string, 0, len(summary.ByReason))
	for reason := range summary.ByReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	fmt.Printf("\nTotal: %d  Bloqueados: %d  Discrepancias: %d\n", summary.Total, summary.Blocked, summary.Mismatches)
	for _, reason := range reasons {
		fmt.Printf("  %-24s %d\n", reason, summary.ByReason[reason])
	}
	if summary.Mismatches > 0 {
		os.Exit(1)
	}
}

func loadRecognizer(path string) (*guardrail.PatternRecognizer, error) {
	if path == "" {
		return guardrail.NewDefaultRecognizer()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns: %w", err)
	}
	return guardrail.NewPatternRecognizer(data)
}
