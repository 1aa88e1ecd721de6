package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedDims(n int) func() (int, bool) {
	return func() (int, bool) { return n, true }
}

func vec(vals ...float32) []float32 {
	return vals
}

func TestUpsertTool_ReplacesExistingRow(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	entry := Entry{
		ToolID:         "srv::read_file",
		ServerName:     "srv",
		ToolName:       "read_file",
		Description:    "reads a file",
		ParametersJSON: `{"type":"object"}`,
		Vector:         vec(1, 0, 0),
	}
	require.NoError(t, store.UpsertTool(ctx, entry))

	count, err := store.CountTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entry.Description = "reads a file, updated"
	require.NoError(t, store.UpsertTool(ctx, entry))

	count, err = store.CountTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "upsert must not leave a duplicate row behind")
}

func TestUpsertTool_ToolIDWithSingleQuoteIsNotCorrupted(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	entry := Entry{
		ToolID:     "srv::o'brien_tool",
		ServerName: "srv",
		ToolName:   "o'brien_tool",
		Vector:     vec(1, 0, 0),
	}
	require.NoError(t, store.UpsertTool(ctx, entry))
	require.NoError(t, store.UpsertTool(ctx, entry))

	count, err := store.CountTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteToolChunks_RemovesAllChunksForTool(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AddToolEntries(ctx, []Entry{
		{ToolID: "srv::big::chunk0", ServerName: "srv", ToolName: "big", Vector: vec(1, 0, 0)},
		{ToolID: "srv::big::chunk1", ServerName: "srv", ToolName: "big", Vector: vec(0, 1, 0)},
		{ToolID: "srv::other", ServerName: "srv", ToolName: "other", Vector: vec(0, 0, 1)},
	}))

	require.NoError(t, store.DeleteToolChunks(ctx, "srv", "big"))

	count, err := store.CountTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAddToolEntries_NoopOnEmpty(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AddToolEntries(ctx, nil))

	count, err := store.CountTools(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteServer_RemovesOnlyThatServersRows(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AddToolEntries(ctx, []Entry{
		{ToolID: "a::t1", ServerName: "a", ToolName: "t1", Vector: vec(1, 0, 0)},
		{ToolID: "b::t1", ServerName: "b", ToolName: "t1", Vector: vec(0, 1, 0)},
	}))

	require.NoError(t, store.DeleteServer(ctx, "a"))

	counts, err := store.CountToolsByServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"b": 1}, counts)
}

func TestAllEntries_ReturnsEveryRowIncludingChunkDuplicates(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AddToolEntries(ctx, []Entry{
		{ToolID: "srv::big::chunk0", ServerName: "srv", ToolName: "big", Description: "big tool", Vector: vec(1, 0, 0)},
		{ToolID: "srv::big::chunk1", ServerName: "srv", ToolName: "big", Description: "big tool", Vector: vec(0, 1, 0)},
		{ToolID: "srv::other", ServerName: "srv", ToolName: "other", Description: "other tool", Vector: vec(0, 0, 1)},
	}))

	entries, err := store.AllEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestCountToolsByServer_GroupsCorrectly(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AddToolEntries(ctx, []Entry{
		{ToolID: "a::t1", ServerName: "a", ToolName: "t1", Vector: vec(1, 0, 0)},
		{ToolID: "a::t2", ServerName: "a", ToolName: "t2", Vector: vec(0, 1, 0)},
		{ToolID: "b::t1", ServerName: "b", ToolName: "t1", Vector: vec(0, 0, 1)},
	}))

	counts, err := store.CountToolsByServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, counts)
}

func TestSearchTools_FiltersByMinScoreAndOrdersByRelevance(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AddToolEntries(ctx, []Entry{
		{ToolID: "srv::close", ServerName: "srv", ToolName: "close", Vector: vec(1, 0, 0)},
		{ToolID: "srv::far", ServerName: "srv", ToolName: "far", Vector: vec(0, 1, 0)},
	}))

	results, err := store.SearchTools(ctx, vec(1, 0, 0), 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "close", results[0].Entry.ToolName)

	strict, err := store.SearchTools(ctx, vec(1, 0, 0), 5, 0.99)
	require.NoError(t, err)
	for _, r := range strict {
		assert.GreaterOrEqual(t, r.Score, 0.99)
	}
}

func TestSearchTools_ZeroTopKReturnsNothing(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AddToolEntries(ctx, []Entry{
		{ToolID: "srv::t", ServerName: "srv", ToolName: "t", Vector: vec(1, 0, 0)},
	}))

	results, err := store.SearchTools(ctx, vec(1, 0, 0), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInitialize_FailsWithoutResolvedDimension(t *testing.T) {
	t.Parallel()

	store, err := New("", func() (int, bool) { return 0, false })
	require.NoError(t, err)

	_, err = store.CountTools(context.Background())
	require.Error(t, err)
}

func TestInitialize_RecoversOnceDimensionBecomesResolved(t *testing.T) {
	t.Parallel()

	resolved := false
	store, err := New("", func() (int, bool) {
		if resolved {
			return 3, true
		}
		return 0, false
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.CountTools(ctx)
	require.Error(t, err, "dimension is not yet resolved")

	resolved = true
	count, err := store.CountTools(ctx)
	require.NoError(t, err, "a later call must retry initialisation rather than replay the cached failure")
	assert.Zero(t, count)

	require.NoError(t, store.UpsertTool(ctx, Entry{ToolID: "srv::t", ServerName: "srv", ToolName: "t", Vector: vec(1, 0, 0)}))
	count, err = store.CountTools(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInitialize_ConcurrentFirstCallersShareOneInitialisation(t *testing.T) {
	t.Parallel()

	store, err := New("", fixedDims(3))
	require.NoError(t, err)
	ctx := context.Background()

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := store.CountTools(ctx)
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
}
