package retrieval

import (
	"context"
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"codex-rag/internal/domain"
)

// Counter counts prompt tokens.
type Counter interface {
	Count(text string) int
}

// TiktokenCounter counts tokens with a tiktoken encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("retrieval: load encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Budget wraps a Retriever and drops trailing snippets once the running token
// count would exceed maxTokens. The first snippet is always kept.
type Budget struct {
	next      Retriever
	counter   Counter
	maxTokens int
}

func NewBudget(next Retriever, counter Counter, maxTokens int) *Budget {
	return &Budget{next: next, counter: counter, maxTokens: maxTokens}
}

func (b *Budget) Retrieve(ctx context.Context, query string) ([]domain.Snippet, error) {
	snippets, err := b.next.Retrieve(ctx, query)
	if err != nil {
		return nil, err
	}
	if b.counter == nil || b.maxTokens <= 0 {
		return snippets, nil
	}

	total := 0
	for i, s := range snippets {
		total += b.counter.Count(s.Text)
		if total > b.maxTokens && i > 0 {
			return snippets[:i], nil
		}
	}
	return snippets, nil
}
