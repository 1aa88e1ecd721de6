// Package indexer implements the Indexer: the top-level operation that
// connects to every configured capability server, discovers its tools,
// chunks and embeds their descriptions, and publishes the result into the
// Vector Store and Capability Registry.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/toolrouter/toolrouter/pkg/chunk"
	"github.com/toolrouter/toolrouter/pkg/config"
	"github.com/toolrouter/toolrouter/pkg/embedding"
	"github.com/toolrouter/toolrouter/pkg/errkind"
	"github.com/toolrouter/toolrouter/pkg/logger"
	"github.com/toolrouter/toolrouter/pkg/mcpclient"
	"github.com/toolrouter/toolrouter/pkg/vectorstore"
)

// TransportClient is the subset of mcpclient.Client the indexer drives.
// Defined as an interface so tests can substitute a fake transport.
type TransportClient interface {
	Connect(ctx context.Context, opts mcpclient.ConnectOptions) error
	ListTools(ctx context.Context) ([]mcpclient.ToolInfo, error)
	Disconnect()
}

// Store is the subset of the Vector Store the indexer writes through.
type Store interface {
	UpsertTool(ctx context.Context, entry vectorstore.Entry) error
	DeleteToolChunks(ctx context.Context, server, tool string) error
	AddToolEntries(ctx context.Context, entries []vectorstore.Entry) error
}

// Registry is the subset of the Capability Registry the indexer populates.
type Registry interface {
	RegisterServer(desc config.ServerConfig)
	RegisterToolOwner(tool, server string)
}

// ClientFactory builds a fresh TransportClient for one server. The indexer
// opens a new client per connect attempt, never reusing one across retries.
type ClientFactory func(desc config.ServerConfig) TransportClient

// DefaultClientFactory builds real mcpclient.Client instances.
func DefaultClientFactory(desc config.ServerConfig) TransportClient {
	return mcpclient.New(desc)
}

// ServerResult is the per-server outcome of one indexing run.
type ServerResult struct {
	Name    string
	Indexed int
	Failed  int
	Error   string
}

// Result is the aggregate outcome of Run across all servers.
type Result struct {
	Indexed int
	Failed  int
	Servers []ServerResult
}

// Deps bundles the collaborators Run and RunServer need, letting tests supply
// fakes for the store, embedding client, registry, and transport factory.
type Deps struct {
	Store         Store
	Embeddings    embedding.Client
	Registry      Registry
	ClientFactory ClientFactory
}

// Run executes one indexing pass over every non-disabled server in cfg,
// concurrently, joining with settle-all semantics: a single server's
// failure never cancels its peers. ctx's cancellation aborts every task.
func Run(ctx context.Context, cfg *config.Config, deps Deps) Result {
	factory := deps.ClientFactory
	if factory == nil {
		factory = DefaultClientFactory
	}

	servers := make([]config.ServerConfig, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if !s.Disabled {
			servers = append(servers, s)
		}
	}

	results := make([]ServerResult, len(servers))

	var eg errgroup.Group
	for i, server := range servers {
		i, server := i, server
		deps.Registry.RegisterServer(server)
		eg.Go(func() error {
			results[i] = runServerTask(ctx, cfg.Indexer, server, deps, factory)
			return nil
		})
	}
	_ = eg.Wait()

	agg := Result{Servers: results}
	for _, r := range results {
		agg.Indexed += r.Indexed
		agg.Failed += r.Failed
	}
	return agg
}

// RunServer re-indexes a single server, for a partial (single-server)
// re-index. The caller merges the returned ServerResult into whatever
// status record it maintains across runs.
func RunServer(ctx context.Context, indexerCfg config.IndexerConfig, server config.ServerConfig, deps Deps) ServerResult {
	factory := deps.ClientFactory
	if factory == nil {
		factory = DefaultClientFactory
	}
	deps.Registry.RegisterServer(server)
	return runServerTask(ctx, indexerCfg, server, deps, factory)
}

func runServerTask(
	ctx context.Context,
	indexerCfg config.IndexerConfig,
	server config.ServerConfig,
	deps Deps,
	factory ClientFactory,
) ServerResult {
	result := ServerResult{Name: server.Name}

	connectTimeout := time.Duration(indexerCfg.ConnectTimeoutMS) * time.Millisecond
	if server.TimeoutMS > 0 {
		serverTimeout := time.Duration(server.TimeoutMS) * time.Millisecond
		if serverTimeout < connectTimeout {
			connectTimeout = serverTimeout
		}
	}

	var transportClient TransportClient
	var connectErr error

	maxRetries := indexerCfg.MaxRetries
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Failed = 1
			result.Error = "indexing cancelled"
			return result
		}

		if attempt > 0 {
			delay := backoffDelay(indexerCfg, attempt)
			if err := sleepCancellable(ctx, delay); err != nil {
				result.Failed = 1
				result.Error = "indexing cancelled"
				return result
			}
		}

		transportClient = factory(server)
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		connectErr = transportClient.Connect(connectCtx, mcpclient.ConnectOptions{Timeout: connectTimeout})
		cancel()

		if connectErr == nil {
			break
		}

		transportClient.Disconnect()

		if ctx.Err() != nil {
			result.Failed = 1
			result.Error = "indexing cancelled"
			return result
		}

		if attempt == maxRetries {
			logger.Warnf("failed to index server %s after %d attempt(s): %s", server.Name, attempt+1, categorizedHint(connectErr))
			result.Failed = 1
			result.Error = connectErr.Error()
			return result
		}
		logger.Infow("server not ready, retrying", "server", server.Name, "attempt", attempt+1, "error", connectErr.Error())
	}

	defer transportClient.Disconnect()

	tools, err := transportClient.ListTools(ctx)
	if err != nil {
		result.Failed = 1
		result.Error = err.Error()
		return result
	}

	for _, tool := range tools {
		if err := ctx.Err(); err != nil {
			result.Failed = 1
			result.Error = "indexing cancelled"
			return result
		}

		if err := indexTool(ctx, indexerCfg, server.Name, tool, deps); err != nil {
			if errkind.Is(err, errkind.Cancelled) {
				result.Failed = 1
				result.Error = "indexing cancelled"
				return result
			}
			logger.Warnf("failed to index tool %s on server %s: %v", tool.Name, server.Name, err)
			result.Failed++
			continue
		}

		deps.Registry.RegisterToolOwner(tool.Name, server.Name)
		result.Indexed++
	}

	return result
}

func indexTool(
	ctx context.Context,
	indexerCfg config.IndexerConfig,
	serverName string,
	tool mcpclient.ToolInfo,
	deps Deps,
) error {
	if err := ctx.Err(); err != nil {
		return errkind.Wrap(errkind.Cancelled, "indexing cancelled", err)
	}

	schemaJSON, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return errkind.Wrap(errkind.InvalidInput, "encoding input schema for tool "+tool.Name, err)
	}

	chunks := chunk.Split(tool.Description, tool.Name, chunk.Options{
		MaxChunkChars: indexerCfg.MaxChunkChars,
		OverlapChars:  indexerCfg.OverlapChars,
	})

	if len(chunks) == 1 {
		vec, err := embedChunk(ctx, deps.Embeddings, chunks[0].Text)
		if err != nil {
			return err
		}
		return deps.Store.UpsertTool(ctx, vectorstore.Entry{
			ToolID:         serverName + "::" + tool.Name,
			ServerName:     serverName,
			ToolName:       tool.Name,
			Description:    tool.Description,
			ParametersJSON: string(schemaJSON),
			Vector:         vec,
		})
	}

	if err := deps.Store.DeleteToolChunks(ctx, serverName, tool.Name); err != nil {
		return err
	}

	batch := make([]vectorstore.Entry, 0, len(chunks))
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return errkind.Wrap(errkind.Cancelled, "indexing cancelled", err)
		}
		vec, err := embedChunk(ctx, deps.Embeddings, c.Text)
		if err != nil {
			return err
		}
		batch = append(batch, vectorstore.Entry{
			ToolID:         fmt.Sprintf("%s::%s::chunk%d", serverName, tool.Name, c.Index),
			ServerName:     serverName,
			ToolName:       tool.Name,
			Description:    tool.Description,
			ParametersJSON: string(schemaJSON),
			Vector:         vec,
		})
	}
	return deps.Store.AddToolEntries(ctx, batch)
}

func embedChunk(ctx context.Context, client embedding.Client, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.Cancelled, "indexing cancelled", err)
	}
	return client.Embed(ctx, text)
}

func backoffDelay(cfg config.IndexerConfig, attempt int) time.Duration {
	delayMS := cfg.InitialRetryDelayMS * (1 << (attempt - 1))
	if delayMS > cfg.MaxRetryDelayMS {
		delayMS = cfg.MaxRetryDelayMS
	}
	return time.Duration(delayMS) * time.Millisecond
}

func sleepCancellable(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func categorizedHint(err error) string {
	if errkind.Is(err, errkind.EmbeddingUnavailable) {
		return fmt.Sprintf("%v (check the embedding service configuration)", err)
	}
	return err.Error()
}
