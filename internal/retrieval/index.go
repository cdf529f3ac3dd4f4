package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"codex-rag/internal/domain"
)

// Embedder turns texts into vectors; *openai.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Document is a source text added to an Index.
type Document struct {
	ID   string
	Text string
}

type chunk struct {
	source string
	text   string
	vec    []float32
	norm   float64
}

// embedBatchSize caps the inputs sent in one embeddings request.
const embedBatchSize = 256

// Index is an in-memory vector index over paragraph chunks.
type Index struct {
	embedder  Embedder
	topK      int
	batchSize int

	mu     sync.RWMutex
	chunks []chunk
}

func NewIndex(e Embedder, topK int) (*Index, error) {
	if e == nil {
		return nil, errors.New("retrieval: embedder must not be nil")
	}
	if topK <= 0 {
		topK = 3
	}
	return &Index{embedder: e, topK: topK, batchSize: embedBatchSize}, nil
}

// Add chunks and embeds docs, at most embedBatchSize chunks per request.
func (ix *Index) Add(ctx context.Context, docs ...Document) error {
	var pending []chunk
	for _, d := range docs {
		for _, p := range splitParagraphs(d.Text) {
			pending = append(pending, chunk{source: d.ID, text: p})
		}
	}
	if len(pending) == 0 {
		return nil
	}

	for start := 0; start < len(pending); start += ix.batchSize {
		batch := pending[start:min(start+ix.batchSize, len(pending))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.text
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("retrieval: embed documents: %w", err)
		}
		if len(vecs) != len(batch) {
			return fmt.Errorf("retrieval: got %d vectors for %d chunks", len(vecs), len(batch))
		}
		for i := range batch {
			batch[i].vec = vecs[i]
			batch[i].norm = norm(vecs[i])
		}
	}

	ix.mu.Lock()
	ix.chunks = append(ix.chunks, pending...)
	ix.mu.Unlock()
	return nil
}

// LoadDir adds every .txt and .md file under dir.
func (ix *Index) LoadDir(ctx context.Context, dir string) error {
	var docs []Document
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
		default:
			return nil
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		docs = append(docs, Document{ID: rel, Text: string(buf)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retrieval: load %s: %w", dir, err)
	}
	return ix.Add(ctx, docs...)
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

// Retrieve returns the topK chunks most similar to query by cosine similarity.
func (ix *Index) Retrieve(ctx context.Context, query string) ([]domain.Snippet, error) {
	ix.mu.RLock()
	empty := len(ix.chunks) == 0
	ix.mu.RUnlock()
	if empty {
		return nil, nil
	}

	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("retrieval: got %d vectors for query", len(vecs))
	}
	q := vecs[0]
	qn := norm(q)

	ix.mu.RLock()
	scored := make([]domain.Snippet, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		scored = append(scored, domain.Snippet{
			Text:   c.text,
			Source: c.source,
			Score:  cosine(q, qn, c.vec, c.norm),
		})
	}
	ix.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > ix.topK {
		scored = scored[:ix.topK]
	}
	return scored, nil
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}
