package indexer

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolrouter/toolrouter/pkg/config"
	"github.com/toolrouter/toolrouter/pkg/embedding"
	"github.com/toolrouter/toolrouter/pkg/mcpclient"
	"github.com/toolrouter/toolrouter/pkg/vectorstore"
)

// fakeTransport is a scripted TransportClient: its first N Connect calls
// fail, then it succeeds and serves a fixed tool list.
type fakeTransport struct {
	mu           sync.Mutex
	failuresLeft int
	connectCalls int
	tools        []mcpclient.ToolInfo
	listToolsErr error
}

func (f *fakeTransport) Connect(ctx context.Context, _ mcpclient.ConnectOptions) error {
	f.mu.Lock()
	f.connectCalls++
	fail := f.failuresLeft > 0
	if fail {
		f.failuresLeft--
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if fail {
		return assertErr("connect refused")
	}
	return nil
}

func (f *fakeTransport) ListTools(context.Context) ([]mcpclient.ToolInfo, error) {
	if f.listToolsErr != nil {
		return nil, f.listToolsErr
	}
	return f.tools, nil
}

func (f *fakeTransport) Disconnect() {}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

type simpleErr string

func (s simpleErr) Error() string { return string(s) }

func assertErr(msg string) error { return simpleErr(msg) }

// fakeStore records calls for assertion instead of using a real chromem-go
// backend, keeping these tests focused on the indexer's orchestration logic.
type fakeStore struct {
	mu           sync.Mutex
	upserts      []vectorstore.Entry
	deletedChunks []struct{ server, tool string }
	batches      [][]vectorstore.Entry
}

func (s *fakeStore) UpsertTool(_ context.Context, entry vectorstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, entry)
	return nil
}

func (s *fakeStore) DeleteToolChunks(_ context.Context, server, tool string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedChunks = append(s.deletedChunks, struct{ server, tool string }{server, tool})
	return nil
}

func (s *fakeStore) AddToolEntries(_ context.Context, entries []vectorstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, entries)
	return nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	owners  map[string]string
	servers []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{owners: make(map[string]string)}
}

func (r *fakeRegistry) RegisterServer(desc config.ServerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers = append(r.servers, desc.Name)
}

func (r *fakeRegistry) RegisterToolOwner(tool, server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[tool] = server
}

func baseIndexerConfig() config.IndexerConfig {
	return config.IndexerConfig{
		ConnectTimeoutMS:    1000,
		MaxRetries:          3,
		InitialRetryDelayMS: 5,
		MaxRetryDelayMS:     50,
		MaxChunkChars:       500,
		OverlapChars:        50,
	}
}

func TestRunServer_SingleChunkIndex(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{tools: []mcpclient.ToolInfo{
		{Name: "read_file", Description: "Read a file from disk", InputSchema: map[string]any{"type": "object"}},
	}}
	st := &fakeStore{}
	reg := newFakeRegistry()

	result := RunServer(context.Background(), baseIndexerConfig(), config.ServerConfig{Name: "fs"}, Deps{
		Store:         st,
		Embeddings:    embedding.NewFakeClient(768),
		Registry:      reg,
		ClientFactory: func(config.ServerConfig) TransportClient { return transport },
	})

	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, st.upserts, 1)
	assert.Equal(t, "fs::read_file", st.upserts[0].ToolID)
	assert.Equal(t, "fs", reg.owners["read_file"])
}

func TestRunServer_MultiChunkIndex(t *testing.T) {
	t.Parallel()

	bigDescription := strings.Repeat("x", 3000)
	transport := &fakeTransport{tools: []mcpclient.ToolInfo{
		{Name: "big_tool", Description: bigDescription, InputSchema: map[string]any{"type": "object"}},
	}}
	st := &fakeStore{}
	reg := newFakeRegistry()

	cfg := baseIndexerConfig()
	cfg.MaxChunkChars = 500
	cfg.OverlapChars = 50

	result := RunServer(context.Background(), cfg, config.ServerConfig{Name: "fs"}, Deps{
		Store:         st,
		Embeddings:    embedding.NewFakeClient(768),
		Registry:      reg,
		ClientFactory: func(config.ServerConfig) TransportClient { return transport },
	})

	assert.Equal(t, 1, result.Indexed)
	require.Len(t, st.deletedChunks, 1)
	assert.Equal(t, "fs", st.deletedChunks[0].server)
	assert.Equal(t, "big_tool", st.deletedChunks[0].tool)

	require.Len(t, st.batches, 1)
	batch := st.batches[0]
	require.NotEmpty(t, batch)
	for i, e := range batch {
		assert.Equal(t, "fs::big_tool::chunk"+itoa(i), e.ToolID)
		assert.Equal(t, bigDescription, e.Description)
		assert.Equal(t, batch[0].ParametersJSON, e.ParametersJSON)
	}
}

func TestRunServer_RetryToSuccess(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{
		failuresLeft: 2,
		tools:        []mcpclient.ToolInfo{{Name: "t", Description: "d"}},
	}
	st := &fakeStore{}
	reg := newFakeRegistry()

	cfg := baseIndexerConfig()
	cfg.MaxRetries = 3
	cfg.InitialRetryDelayMS = 10
	cfg.MaxRetryDelayMS = 100

	result := RunServer(context.Background(), cfg, config.ServerConfig{Name: "fs"}, Deps{
		Store:         st,
		Embeddings:    embedding.NewFakeClient(8),
		Registry:      reg,
		ClientFactory: func(config.ServerConfig) TransportClient { return transport },
	})

	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 3, transport.callCount())
}

func TestRunServer_ExhaustedRetries(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{failuresLeft: 1000}
	reg := newFakeRegistry()

	cfg := baseIndexerConfig()
	cfg.MaxRetries = 2
	cfg.InitialRetryDelayMS = 1
	cfg.MaxRetryDelayMS = 5

	result := RunServer(context.Background(), cfg, config.ServerConfig{Name: "fs"}, Deps{
		Store:         &fakeStore{},
		Embeddings:    embedding.NewFakeClient(8),
		Registry:      reg,
		ClientFactory: func(config.ServerConfig) TransportClient { return transport },
	})

	assert.Equal(t, 0, result.Indexed)
	assert.Equal(t, 1, result.Failed)
}

func TestRunServer_PreAbortedSignalFinishesFastWithNoUpserts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := &fakeStore{}
	reg := newFakeRegistry()
	transport := &fakeTransport{}

	cfg := baseIndexerConfig()
	cfg.ConnectTimeoutMS = 60000
	cfg.InitialRetryDelayMS = 30000

	start := time.Now()
	result := RunServer(ctx, cfg, config.ServerConfig{Name: "fs"}, Deps{
		Store:         st,
		Embeddings:    embedding.NewFakeClient(8),
		Registry:      reg,
		ClientFactory: func(config.ServerConfig) TransportClient { return transport },
	})
	elapsed := time.Since(start)

	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, st.upserts)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestRun_SettlesAllServersDespiteOneFailure(t *testing.T) {
	t.Parallel()

	goodTransport := &fakeTransport{tools: []mcpclient.ToolInfo{{Name: "ok_tool", Description: "fine"}}}
	badTransport := &fakeTransport{failuresLeft: 1000}

	cfg := &config.Config{
		Servers: []config.ServerConfig{{Name: "good"}, {Name: "bad"}},
		Indexer: baseIndexerConfig(),
	}
	cfg.Indexer.MaxRetries = 1
	cfg.Indexer.InitialRetryDelayMS = 1
	cfg.Indexer.MaxRetryDelayMS = 2

	st := &fakeStore{}
	reg := newFakeRegistry()

	result := Run(context.Background(), cfg, Deps{
		Store:      st,
		Embeddings: embedding.NewFakeClient(8),
		Registry:   reg,
		ClientFactory: func(desc config.ServerConfig) TransportClient {
			if desc.Name == "good" {
				return goodTransport
			}
			return badTransport
		},
	})

	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Servers, 2)
}

func TestRun_DisabledServersAreSkipped(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Servers: []config.ServerConfig{{Name: "off", Disabled: true}},
		Indexer: baseIndexerConfig(),
	}
	reg := newFakeRegistry()

	result := Run(context.Background(), cfg, Deps{
		Store:      &fakeStore{},
		Embeddings: embedding.NewFakeClient(8),
		Registry:   reg,
	})

	assert.Empty(t, result.Servers)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}
