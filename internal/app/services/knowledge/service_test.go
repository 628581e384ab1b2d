package knowledge

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richiesta-assistenza/service_layer/internal/app/storage/memory"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

func newSemantic(t *testing.T) (*Service, *SQLiteIndex) {
	t.Helper()
	index, err := OpenSQLiteIndex(filepath.Join(t.TempDir(), "kb", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return New(memory.New(), index, HashEmbedder{}, nil), index
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
}

func TestHashEmbedderDeterministic(t *testing.T) {
	ctx := context.Background()
	a, err := HashEmbedder{}.Embed(ctx, "Caldaia in blocco")
	require.NoError(t, err)
	b, err := HashEmbedder{}.EmbedQuery(ctx, "caldaia, IN blocco!")
	require.NoError(t, err)
	assert.Len(t, a, HashDimensions)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-6)
}

func TestSemanticSearch(t *testing.T) {
	svc, index := newSemantic(t)
	ctx := context.Background()

	boiler, err := svc.Create(ctx, "admin", ArticleInput{
		Title: "Caldaia", Content: "caldaia manutenzione annuale", Published: true,
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "admin", ArticleInput{
		Title: "Rubinetto", Content: "rubinetto perdita acqua", Published: true,
	})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "admin", ArticleInput{
		Title: "Bozza caldaia", Content: "caldaia manutenzione", Published: false,
	})
	require.NoError(t, err)

	n, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	results, err := svc.Search(ctx, "manutenzione caldaia", 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1, "drafts and unrelated articles are excluded")
	assert.Equal(t, boiler.ID, results[0].Article.ID)
	assert.Greater(t, results[0].Score, 0.8)

	require.NoError(t, svc.Delete(ctx, boiler.ID))
	n, err = index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err = svc.Search(ctx, "manutenzione caldaia", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordFallback(t *testing.T) {
	svc := New(memory.New(), nil, nil, nil)
	ctx := context.Background()
	assert.False(t, svc.Semantic())
	assert.Equal(t, "keyword", svc.EmbedderName())

	tap, err := svc.Create(ctx, "admin", ArticleInput{
		Title: "Rubinetto", Content: "Come riparare una perdita d'acqua", Tags: []string{" Idraulica ", "idraulica"}, Published: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"idraulica"}, tap.Tags)
	_, err = svc.Create(ctx, "admin", ArticleInput{
		Title: "Quadro elettrico", Content: "Il salvavita scatta spesso", Published: true,
	})
	require.NoError(t, err)

	results, err := svc.Search(ctx, "perdita rubinetto idraulica", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, tap.ID, results[0].Article.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)

	_, err = svc.Search(ctx, "   ", 5, 0)
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))

	_, err = svc.Reindex(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, errors.HTTPStatusFor(err))
}

func TestDraftVisibilityAndReindex(t *testing.T) {
	svc, _ := newSemantic(t)
	ctx := context.Background()

	draft, err := svc.Create(ctx, "admin", ArticleInput{Title: "Bozza", Content: "testo"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, draft.ID, false)
	assert.Equal(t, http.StatusNotFound, errors.HTTPStatusFor(err))
	got, err := svc.Get(ctx, draft.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "Bozza", got.Title)

	public, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, public)
	all, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	updated, err := svc.Update(ctx, draft.ID, ArticleInput{Title: "Pubblicato", Content: "testo", Published: true})
	require.NoError(t, err)
	assert.True(t, updated.Published)

	n, err := svc.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Create(ctx, "admin", ArticleInput{Title: " "})
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatusFor(err))
}
