//go:build ignore

// Package main generates a synthetic JSONL memory corpus for benchmarking.
// Usage: go run scripts/generate-test-corpus.go -docs 1000 -output testdata/bench/corpus.jsonl
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
)

var (
	numDocs  = flag.Int("docs", 1000, "Number of documents to generate")
	output   = flag.String("output", "testdata/bench/corpus.jsonl", "Output file (- for stdout)")
	seed     = flag.Uint64("seed", 42, "Random seed for reproducibility")
	maxLinks = flag.Int("links", 3, "Maximum links per document")
)

// document mirrors one corpus record.
type document struct {
	ID    string   `json:"id"`
	Text  string   `json:"text"`
	Label string   `json:"label,omitempty"`
	Links []string `json:"links,omitempty"`
}

// Sentence templates for realistic memory text.
var templates = []string{
	"The %s service %s %s requests and falls back to the %s path when %s fails.",
	"Incident review: the %s job timed out while %s during the %s rollout.",
	"Decision: %s owns %s for the %s team; escalations go through %s on call.",
	"Runbook: to recover %s, pause %s, drain the %s queue, then restart %s.",
	"Meeting notes: agreed to move %s %s behind the %s flag before %s ships.",
}

// Word pools for generating realistic names.
var (
	nouns = []string{
		"billing", "invoice", "payment", "ledger", "refund",
		"onboarding", "search", "export", "import", "webhook",
		"session", "token", "account", "profile", "catalog",
		"inventory", "shipping", "pricing", "report", "audit",
	}
	verbs = []string{
		"retries", "batches", "caches", "validates", "throttles",
		"signs", "compresses", "routes", "schedules", "deduplicates",
	}
	teams = []string{
		"platform", "payments", "growth", "people", "security",
		"data", "mobile", "support", "infra", "finance",
	}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))

	w := os.Stdout
	if *output != "-" {
		if err := os.MkdirAll(filepath.Dir(*output), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output directory: %v\n", err)
			os.Exit(1)
		}
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", *output, err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	for i := 0; i < *numDocs; i++ {
		if err := enc.Encode(generateDocument(rng, i)); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing document %d: %v\n", i, err)
			os.Exit(1)
		}
	}
	if err := buf.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Error flushing output: %v\n", err)
		os.Exit(1)
	}

	if *output != "-" {
		fmt.Printf("Generated %d documents in %s\n", *numDocs, *output)
	}
}

func randomWord(rng *rand.Rand, pool []string) string {
	return pool[rng.IntN(len(pool))]
}

func generateDocument(rng *rand.Rand, index int) document {
	tmpl := templates[rng.IntN(len(templates))]
	args := make([]any, strings.Count(tmpl, "%s"))
	for i := range args {
		switch i % 3 {
		case 0:
			args[i] = randomWord(rng, nouns)
		case 1:
			args[i] = randomWord(rng, verbs)
		default:
			args[i] = randomWord(rng, teams)
		}
	}

	doc := document{
		ID:   fmt.Sprintf("m%d", index),
		Text: fmt.Sprintf(tmpl, args...),
	}
	// Roughly a third of documents name a graph node.
	if rng.IntN(3) == 0 {
		doc.Label = capitalize(args[0].(string)) + " " + capitalize(randomWord(rng, teams))
	}
	// Links only point backwards so every target exists.
	if index > 0 && *maxLinks > 0 {
		for n := rng.IntN(*maxLinks + 1); n > 0; n-- {
			doc.Links = append(doc.Links, fmt.Sprintf("m%d", rng.IntN(index)))
		}
	}
	return doc
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
