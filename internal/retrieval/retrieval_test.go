package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"codex-rag/internal/domain"
)

func TestStatic_ReturnsFixedContext(t *testing.T) {
	s := NewStatic()
	got, err := s.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Contains(t, got[0].Text, "Simple Water Bottle - Amber")
	require.Contains(t, got[0].Text, "Price: $24.99")

	got[0].Text = "mutated"
	again, err := s.Retrieve(context.Background(), "other")
	require.NoError(t, err)
	require.NotEqual(t, "mutated", again[0].Text)
}

func TestJoinSnippets(t *testing.T) {
	got := JoinSnippets([]domain.Snippet{{Text: " a "}, {Text: ""}, {Text: "b"}})
	require.Equal(t, "a\nb", got)
}

// keywordEmbedder embeds text as presence counts of a fixed vocabulary.
type keywordEmbedder struct {
	vocab   []string
	calls   int
	batches []int
	err     error
}

func (k *keywordEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	k.calls++
	k.batches = append(k.batches, len(inputs))
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, len(k.vocab))
		lower := strings.ToLower(in)
		for j, w := range k.vocab {
			v[j] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

func TestIndex_RetrievesMostSimilar(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"bottle", "return", "shipping"}}
	ix, err := NewIndex(e, 1)
	require.NoError(t, err)

	require.NoError(t, ix.Add(context.Background(),
		Document{ID: "product.md", Text: "The bottle is amber.\n\nThe bottle holds 750ml."},
		Document{ID: "policy.md", Text: "Returns: return within 30 days for a refund."},
	))
	require.Equal(t, 3, ix.Len())

	got, err := ix.Retrieve(context.Background(), "Can I return it?")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "policy.md", got[0].Source)
	require.Greater(t, got[0].Score, 0.9)
}

func TestIndex_EmptyAndErrors(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"a"}}
	ix, err := NewIndex(e, 0)
	require.NoError(t, err)

	got, err := ix.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, got)
	require.Zero(t, e.calls)

	e.err = errors.New("embeddings down")
	require.ErrorContains(t, ix.Add(context.Background(), Document{ID: "d", Text: "a"}), "embeddings down")

	_, err = NewIndex(nil, 1)
	require.Error(t, err)
}

func TestIndex_AddEmbedsInBatches(t *testing.T) {
	e := &keywordEmbedder{vocab: []string{"bottle", "return"}}
	ix, err := NewIndex(e, 3)
	require.NoError(t, err)
	ix.batchSize = 2

	text := "bottle one\n\nbottle two\n\nreturn three\n\nreturn four\n\nbottle five"
	require.NoError(t, ix.Add(context.Background(), Document{ID: "d.md", Text: text}))
	require.Equal(t, []int{2, 2, 1}, e.batches)
	require.Equal(t, 5, ix.Len())

	got, err := ix.Retrieve(context.Background(), "return policy")
	require.NoError(t, err)
	require.Equal(t, "return three", got[0].Text)
}

func TestIndex_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "faq.md"), []byte("bottle facts\n\nreturn policy"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("binary"), 0o600))

	ix, err := NewIndex(&keywordEmbedder{vocab: []string{"bottle", "return"}}, 2)
	require.NoError(t, err)
	require.NoError(t, ix.LoadDir(context.Background(), dir))
	require.Equal(t, 2, ix.Len())
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestBudget_TrimsTrailingSnippets(t *testing.T) {
	next := NewStatic("one two three", "four five", "six")
	b := NewBudget(next, wordCounter{}, 5)

	got, err := b.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, got, 2)

	b = NewBudget(next, wordCounter{}, 1)
	got, err = b.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, got, 1, "first snippet is always kept")

	b = NewBudget(next, nil, 1)
	got, err = b.Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, got, 3)
}
