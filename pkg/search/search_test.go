package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolrouter/toolrouter/pkg/embedding"
	"github.com/toolrouter/toolrouter/pkg/vectorstore"
)

type fakeStore struct {
	results    []vectorstore.Result
	err        error
	gotTopK    int
	gotScore   float64
	allEntries []vectorstore.Entry
	allErr     error
}

func (f *fakeStore) SearchTools(_ context.Context, _ []float32, topK int, minScore float64) ([]vectorstore.Result, error) {
	f.gotTopK = topK
	f.gotScore = minScore
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeStore) AllEntries(_ context.Context) ([]vectorstore.Entry, error) {
	if f.allErr != nil {
		return nil, f.allErr
	}
	return f.allEntries, nil
}

func TestSearch_EmptyQueryReturnsErrorCard(t *testing.T) {
	t.Parallel()

	op := &Operator{Store: &fakeStore{}, Embeddings: embedding.NewFakeClient(8)}
	resp := op.Search(context.Background(), Request{Query: "   "})

	assert.Equal(t, 0, resp.Count)
	assert.Contains(t, resp.Text, "query is required")
}

func TestSearch_NoMatchesReturnsTryRephrasingCard(t *testing.T) {
	t.Parallel()

	op := &Operator{Store: &fakeStore{}, Embeddings: embedding.NewFakeClient(8)}
	resp := op.Search(context.Background(), Request{Query: "anything"})

	assert.Equal(t, 0, resp.Count)
	assert.Contains(t, resp.Text, "No matching capabilities")
}

func TestSearch_DedupesByServerAndToolKeepingMaxScore(t *testing.T) {
	t.Parallel()

	store := &fakeStore{results: []vectorstore.Result{
		{Entry: vectorstore.Entry{ServerName: "fs", ToolName: "read_file"}, Score: 0.85},
		{Entry: vectorstore.Entry{ServerName: "fs", ToolName: "read_file"}, Score: 0.92},
		{Entry: vectorstore.Entry{ServerName: "git", ToolName: "git_log"}, Score: 0.80},
	}}
	op := &Operator{Store: store, Embeddings: embedding.NewFakeClient(8)}

	resp := op.Search(context.Background(), Request{Query: "find tool", Limit: 5})

	require.Equal(t, 2, resp.Count)
	readIdx := indexOf(resp.Text, "read_file")
	logIdx := indexOf(resp.Text, "git_log")
	require.NotEqual(t, -1, readIdx)
	require.NotEqual(t, -1, logIdx)
	assert.Less(t, readIdx, logIdx, "higher-scored read_file must be rendered before git_log")
	assert.Contains(t, resp.Text, "92%")
	assert.NotContains(t, resp.Text, "85%")
}

func TestSearch_LimitIsClampedAndFetchLimitIsBounded(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	op := &Operator{Store: store, Embeddings: embedding.NewFakeClient(8)}

	op.Search(context.Background(), Request{Query: "q", Limit: 500})
	assert.Equal(t, 60, store.gotTopK)

	op.Search(context.Background(), Request{Query: "q", Limit: 1})
	assert.Equal(t, 3, store.gotTopK)

	op.Search(context.Background(), Request{Query: "q", Limit: -5})
	assert.Equal(t, 3, store.gotTopK, "clamp floors at 1, so fetchLimit floors at 3")
}

func TestSearch_SignatureMarksOptionalParameters(t *testing.T) {
	t.Parallel()

	store := &fakeStore{results: []vectorstore.Result{
		{
			Entry: vectorstore.Entry{
				ServerName:     "fs",
				ToolName:       "read_file",
				ParametersJSON: `{"type":"object","properties":{"path":{"type":"string"},"encoding":{"type":"string"}},"required":["path"]}`,
			},
			Score: 0.9,
		},
	}}
	op := &Operator{Store: store, Embeddings: embedding.NewFakeClient(8)}

	resp := op.Search(context.Background(), Request{Query: "read a file"})

	assert.Contains(t, resp.Text, "path: string")
	assert.Contains(t, resp.Text, "encoding?: string")
}

func TestSearch_IncludeSchemaAppendsTruncatedSchema(t *testing.T) {
	t.Parallel()

	bigSchema := `{"type":"object","description":"` + string(make([]byte, 2100)) + `"}`
	store := &fakeStore{results: []vectorstore.Result{
		{Entry: vectorstore.Entry{ServerName: "fs", ToolName: "t", ParametersJSON: bigSchema}, Score: 0.9},
	}}
	include := true
	op := &Operator{Store: store, Embeddings: embedding.NewFakeClient(8)}

	resp := op.Search(context.Background(), Request{Query: "q", IncludeSchema: &include})

	assert.True(t, resp.IncludeSchema)
	assert.Contains(t, resp.Text, "…")
}

func TestSearch_ComputesTokenMetricsAgainstAllIndexedCapabilities(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		results: []vectorstore.Result{
			{Entry: vectorstore.Entry{ServerName: "fs", ToolName: "read_file", Description: "reads a file"}, Score: 0.9},
		},
		allEntries: []vectorstore.Entry{
			{ServerName: "fs", ToolName: "read_file", Description: "reads a file"},
			{ServerName: "fs", ToolName: "read_file", Description: "reads a file"}, // second chunk, same tool
			{ServerName: "fs", ToolName: "write_file", Description: "writes a file"},
			{ServerName: "git", ToolName: "git_log", Description: "shows commit history"},
		},
	}
	op := &Operator{Store: store, Embeddings: embedding.NewFakeClient(8)}

	resp := op.Search(context.Background(), Request{Query: "read a file"})

	require.Greater(t, resp.TokenMetrics.BaselineTokens, 0)
	require.Greater(t, resp.TokenMetrics.ReturnedTokens, 0)
	assert.Less(t, resp.TokenMetrics.ReturnedTokens, resp.TokenMetrics.BaselineTokens,
		"returning one of three capabilities must cost fewer tokens than the baseline")
	assert.Greater(t, resp.TokenMetrics.SavingsPercentage, 0.0)
	assert.Equal(t, resp.TokenMetrics.BaselineTokens-resp.TokenMetrics.ReturnedTokens, resp.TokenMetrics.TokensSaved)
	assert.Contains(t, resp.Text, "Token savings")
}

func TestSearch_TokenMetricsDegradeGracefullyWhenBaselineListingFails(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		results: []vectorstore.Result{
			{Entry: vectorstore.Entry{ServerName: "fs", ToolName: "read_file"}, Score: 0.9},
		},
		allErr: assertErr("store unavailable"),
	}
	op := &Operator{Store: store, Embeddings: embedding.NewFakeClient(8)}

	resp := op.Search(context.Background(), Request{Query: "read a file"})

	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, TokenMetrics{}, resp.TokenMetrics)
	assert.NotContains(t, resp.Text, "Token savings")
}

func TestSearch_EmbeddingFailureReturnsFriendlyErrorCard(t *testing.T) {
	t.Parallel()

	op := &Operator{Store: &fakeStore{}, Embeddings: failingEmbedder{}}
	resp := op.Search(context.Background(), Request{Query: "q"})

	assert.Equal(t, 0, resp.Count)
	assert.Contains(t, resp.Text, "re-index")
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, assertErr("embedding service down")
}
func (failingEmbedder) Dims() (int, bool)                 { return 0, false }
func (failingEmbedder) ProbeDims(context.Context) (int, error) { return 0, assertErr("down") }

type assertErr string

func (a assertErr) Error() string { return string(a) }

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
