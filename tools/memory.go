// Package tools defines the tool surface the agent layer exposes to the
// model: JSON Schema helpers and the memory-retrieval tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexassist/lexgo/memory"
)

// Definition describes one tool in model-facing terms.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Handler executes a tool call. The returned string goes back to the
// model as the tool result.
type Handler func(ctx context.Context, input json.RawMessage) (string, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition
	Run Handler
}

// MemoryTools returns the retrieval tools bound to one user's memory:
// semantic search over conversation history and over the legal
// knowledge base.
func MemoryTools(mgr *memory.Manager, userID string) []Tool {
	return []Tool{
		{
			Definition: Definition{
				Name: "search_memory",
				Description: "Search the current session and the user's past interactions " +
					"for exchanges relevant to a query. Use this when the user refers to " +
					"something discussed before.",
				InputSchema: ObjectSchema(map[string]any{
					"query": StringProperty("What to look for, in natural language"),
					"top_k": IntegerProperty("Maximum results to return (default: 5)"),
				}, "query"),
			},
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					Query string `json:"query"`
					TopK  int    `json:"top_k"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("search_memory: bad input: %w", err)
				}
				hits, err := mgr.SearchMemory(ctx, userID, args.Query, args.TopK)
				if err != nil {
					return "", err
				}
				return renderMemoryHits(hits), nil
			},
		},
		{
			Definition: Definition{
				Name: "search_legal_knowledge",
				Description: "Search the legal-concept knowledge base for definitions and " +
					"examples relevant to a query. Optionally restrict to one legal domain " +
					"such as 'contract law' or 'tort law'.",
				InputSchema: ObjectSchema(map[string]any{
					"query":        StringProperty("What to look for, in natural language"),
					"legal_domain": StringProperty("Optional: restrict to one legal domain"),
					"top_k":        IntegerProperty("Maximum results to return (default: 5)"),
				}, "query"),
			},
			Run: func(ctx context.Context, input json.RawMessage) (string, error) {
				var args struct {
					Query       string `json:"query"`
					LegalDomain string `json:"legal_domain"`
					TopK        int    `json:"top_k"`
				}
				if err := json.Unmarshal(input, &args); err != nil {
					return "", fmt.Errorf("search_legal_knowledge: bad input: %w", err)
				}
				concepts, err := mgr.SearchKnowledge(ctx, args.Query, args.TopK, args.LegalDomain)
				if err != nil {
					return "", err
				}
				return renderConcepts(concepts), nil
			},
		},
	}
}

func renderMemoryHits(hits []memory.SearchHit) string {
	if len(hits) == 0 {
		return "No relevant memories found."
	}
	var b strings.Builder
	for i, hit := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s, relevance %.2f]\n%s", hit.Source, hit.Score, hit.Text)
	}
	return b.String()
}

func renderConcepts(concepts []memory.ConceptResult) string {
	if len(concepts) == 0 {
		return "No relevant legal concepts found."
	}
	var b strings.Builder
	for i, c := range concepts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s, relevance %.2f]\n%s", c.Concept.LegalDomain, c.Score, c.Concept.Text())
	}
	return b.String()
}
