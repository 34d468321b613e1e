// Package corpus loads memory documents into the retrieval indexes.
//
// A corpus is JSON Lines, one document per line:
//
//	{"id": "m1", "text": "...", "label": "Retry Policy", "links": ["m2"]}
//
// Text feeds the lexical and vector indexes. The id, label and links become
// graph nodes and edges.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/amanrecall/internal/store"
)

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 4 * 1024 * 1024

// Read parses a JSONL corpus. Blank lines are skipped. A later record with
// the same id replaces the earlier one.
func Read(r io.Reader) ([]store.Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var docs []store.Document
	pos := make(map[string]int)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var doc store.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := validate(doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		if i, seen := pos[doc.ID]; seen {
			docs[i] = doc
			continue
		}
		pos[doc.ID] = len(docs)
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	return docs, nil
}

func validate(doc store.Document) error {
	if strings.TrimSpace(doc.ID) == "" {
		return fmt.Errorf("document id is required")
	}
	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("document %s: text is required", doc.ID)
	}
	for _, link := range doc.Links {
		if strings.TrimSpace(link) == "" {
			return fmt.Errorf("document %s: empty link", doc.ID)
		}
	}
	return nil
}
