// Package vectorstore implements the Vector Store: a chromem-go-backed
// table of capability entries keyed by a compound tool_id, queryable by
// nearest-neighbour vector search.
package vectorstore

import (
	"context"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/toolrouter/toolrouter/pkg/errkind"
)

const collectionName = "capabilities"

const sentinelID = "__sentinel__"

// Entry is one stored row: either the sole chunk of a capability's
// description or one of several, sharing description/parameters_json
// with its siblings.
type Entry struct {
	ToolID         string
	ServerName     string
	ToolName       string
	Description    string
	ParametersJSON string
	Vector         []float32
}

// Result pairs an Entry with its similarity score in (0,1].
type Result struct {
	Entry Entry
	Score float64
}

// Store is the Vector Store contract.
type Store struct {
	db            *chromem.DB
	embeddingFunc chromem.EmbeddingFunc
	dims          func() (int, bool)

	initMu      sync.Mutex
	initialized bool
}

// New builds a Store backed by a chromem-go database. persistPath, when
// non-empty, makes the store durable across restarts; otherwise it is
// in-memory only. dims reports the currently resolved embedding dimension,
// used to size the bootstrap sentinel row.
func New(persistPath string, dims func() (int, bool)) (*Store, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, errkind.Wrap(errkind.Configuration, "opening vector store at "+persistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &Store{
		db: db,
		// No external embedding function: vectors are always supplied directly
		// by the indexer/search operator, which already hold a resolved
		// embedding client.
		embeddingFunc: noopEmbeddingFunc,
		dims:          dims,
	}, nil
}

func noopEmbeddingFunc(_ context.Context, _ string) ([]float32, error) {
	return nil, errkind.New(errkind.InvalidInput, "vector store documents must supply an explicit embedding")
}

// ensureInitialized guarantees the collection exists, bootstrapping it with
// a sentinel row sized to the resolved embedding dimension on first use.
// Concurrent callers serialise on initMu rather than share one attempt, so
// a failure — most commonly the embedding dimension not yet being resolved
// — is never cached: the next call simply retries initialize.
func (s *Store) ensureInitialized(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.initialize(ctx); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

func (s *Store) initialize(ctx context.Context) error {
	existing := s.db.GetCollection(collectionName, s.embeddingFunc)
	if existing != nil {
		return nil
	}

	dims, ok := s.dims()
	if !ok {
		return errkind.New(errkind.Configuration, "vector store cannot initialise before the embedding dimension is resolved")
	}

	collection, err := s.db.CreateCollection(collectionName, nil, s.embeddingFunc)
	if err != nil {
		return errkind.Wrap(errkind.Configuration, "creating capability collection", err)
	}

	sentinel := chromem.Document{
		ID:        sentinelID,
		Content:   "sentinel",
		Embedding: make([]float32, dims),
	}
	if err := collection.AddDocument(ctx, sentinel); err != nil {
		return errkind.Wrap(errkind.Configuration, "writing bootstrap sentinel row", err)
	}
	if err := collection.Delete(ctx, nil, nil, sentinelID); err != nil {
		return errkind.Wrap(errkind.Configuration, "removing bootstrap sentinel row", err)
	}
	return nil
}

func (s *Store) collection(ctx context.Context) (*chromem.Collection, error) {
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	c := s.db.GetCollection(collectionName, s.embeddingFunc)
	if c == nil {
		return nil, errkind.New(errkind.Configuration, "capability collection missing after initialisation")
	}
	return c, nil
}

func toDocument(e Entry) chromem.Document {
	return chromem.Document{
		ID:      e.ToolID,
		Content: e.Description,
		Metadata: map[string]string{
			"tool_id":         e.ToolID,
			"server_name":     e.ServerName,
			"tool_name":       e.ToolName,
			"description":     e.Description,
			"parameters_json": e.ParametersJSON,
		},
		Embedding: e.Vector,
	}
}

func fromMetadata(metadata map[string]string) Entry {
	return Entry{
		ToolID:         metadata["tool_id"],
		ServerName:     metadata["server_name"],
		ToolName:       metadata["tool_name"],
		Description:    metadata["description"],
		ParametersJSON: metadata["parameters_json"],
	}
}

// UpsertTool deletes any existing row sharing entry.ToolID, then adds it.
// chromem-go deletes by exact document ID rather than a textual predicate,
// so the single-quote-escaping invariant this contract otherwise requires
// has no matching substring-injection hazard here: the ID is never spliced
// into a query string.
func (s *Store) UpsertTool(ctx context.Context, entry Entry) error {
	collection, err := s.collection(ctx)
	if err != nil {
		return err
	}

	if err := collection.Delete(ctx, nil, nil, entry.ToolID); err != nil {
		return errkind.Wrap(errkind.Protocol, "deleting existing row before upsert", err)
	}

	if err := collection.AddDocument(ctx, toDocument(entry)); err != nil {
		return errkind.Wrap(errkind.Protocol, "adding capability entry", err)
	}
	return nil
}

// DeleteToolChunks deletes every row for (server, tool), covering both the
// single-chunk and multi-chunk tool_id forms. Matching rows are looked up by
// metadata filter first and then deleted by explicit ID, the same two-step
// shape as the teacher's DeleteByServer.
func (s *Store) DeleteToolChunks(ctx context.Context, server, tool string) error {
	collection, err := s.collection(ctx)
	if err != nil {
		return err
	}

	rows, err := collection.Query(ctx, "", collection.Count(), map[string]string{"server_name": server, "tool_name": tool}, nil)
	if err != nil {
		return errkind.Wrap(errkind.Protocol, "listing tool chunks for deletion", err)
	}
	for _, row := range rows {
		if err := collection.Delete(ctx, nil, nil, row.ID); err != nil {
			return errkind.Wrap(errkind.Protocol, "deleting tool chunk "+row.ID, err)
		}
	}
	return nil
}

// AddToolEntries batch-appends entries without deleting existing rows.
// A no-op on empty input.
func (s *Store) AddToolEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	collection, err := s.collection(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := collection.AddDocument(ctx, toDocument(entry)); err != nil {
			return errkind.Wrap(errkind.Protocol, "adding capability entry", err)
		}
	}
	return nil
}

// DeleteServer deletes every row owned by server, looking rows up by
// metadata filter and deleting each by explicit ID in turn.
func (s *Store) DeleteServer(ctx context.Context, server string) error {
	collection, err := s.collection(ctx)
	if err != nil {
		return err
	}

	rows, err := collection.Query(ctx, "", collection.Count(), map[string]string{"server_name": server}, nil)
	if err != nil {
		return errkind.Wrap(errkind.Protocol, "listing server rows for deletion", err)
	}
	for _, row := range rows {
		if err := collection.Delete(ctx, nil, nil, row.ID); err != nil {
			return errkind.Wrap(errkind.Protocol, "deleting server row "+row.ID, err)
		}
	}
	return nil
}

// CountTools returns the total row count.
func (s *Store) CountTools(ctx context.Context) (int, error) {
	collection, err := s.collection(ctx)
	if err != nil {
		return 0, err
	}
	return collection.Count(), nil
}

// AllEntries returns every stored row, including duplicate rows for a
// multi-chunk tool's chunks. Callers that need one row per capability must
// dedupe by (ServerName, ToolName) themselves.
func (s *Store) AllEntries(ctx context.Context) ([]Entry, error) {
	collection, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	results, err := collection.Query(ctx, "", collection.Count(), nil, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Protocol, "listing all rows", err)
	}
	out := make([]Entry, 0, len(results))
	for _, r := range results {
		out = append(out, fromMetadata(r.Metadata))
	}
	return out, nil
}

// CountToolsByServer returns row counts grouped by server_name.
func (s *Store) CountToolsByServer(ctx context.Context) (map[string]int, error) {
	collection, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	results, err := collection.Query(ctx, "", collection.Count(), nil, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Protocol, "listing rows for count", err)
	}
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Metadata["server_name"]]++
	}
	return counts, nil
}

// SearchTools runs a nearest-neighbour query against queryVector, mapping
// each result's distance d to a score s = 1/(1+d) and keeping only rows
// with s >= minScore. Results are not deduplicated by (server, tool); that
// is the Search Operator's responsibility.
func (s *Store) SearchTools(ctx context.Context, queryVector []float32, topK int, minScore float64) ([]Result, error) {
	collection, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	n := topK
	if count := collection.Count(); count < n {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := collection.QueryEmbedding(ctx, queryVector, n, nil, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Protocol, "querying vector store", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		// chromem-go reports cosine similarity in [-1,1]; derive the
		// distance this contract's scoring is defined over from it.
		distance := 1 - float64(r.Similarity)
		score := 1 / (1 + distance)
		if score < minScore {
			continue
		}
		out = append(out, Result{Entry: fromMetadata(r.Metadata), Score: score})
	}
	return out, nil
}

