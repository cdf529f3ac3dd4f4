// Package retrieval supplies context snippets for a user question.
package retrieval

import (
	"context"
	"strings"

	"codex-rag/internal/domain"
)

// Retriever returns the context snippets relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]domain.Snippet, error)
}

// DefaultContext is the product sheet served by the static retriever.
const DefaultContext = `Simple Water Bottle - Amber (limited edition launched Jan 1st 2025)
A water bottle designed with a perfect blend of functionality and aesthetics in mind. Crafted from high-quality, durable plastic with a sleek honey-colored finish.
Price: $24.99 
Dimensions: 10 inches height x 4 inches width`

// Static returns the same context for every query. It stands in for a real
// retrieval step.
type Static struct {
	snippets []domain.Snippet
}

func NewStatic(texts ...string) *Static {
	if len(texts) == 0 {
		texts = []string{DefaultContext}
	}
	s := &Static{}
	for _, t := range texts {
		s.snippets = append(s.snippets, domain.Snippet{Text: t, Source: "static"})
	}
	return s
}

func (s *Static) Retrieve(_ context.Context, _ string) ([]domain.Snippet, error) {
	return append([]domain.Snippet(nil), s.snippets...), nil
}

// JoinSnippets concatenates snippet texts, one per line.
func JoinSnippets(snippets []domain.Snippet) string {
	parts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}
