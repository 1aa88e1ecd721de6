// Package config implements the configuration resolution pipeline: merging
// layered, host-provided sources into one validated, typed Config.
package config

// TransportType identifies which of the three transports a server uses.
type TransportType string

const (
	TransportChildProc     TransportType = "childproc"
	TransportSSE           TransportType = "sse"
	TransportStreamingHTTP TransportType = "streaming-http"
)

// Valid reports whether t is one of the three recognised transports.
func (t TransportType) Valid() bool {
	switch t {
	case TransportChildProc, TransportSSE, TransportStreamingHTTP:
		return true
	default:
		return false
	}
}

// ServerConfig is a resolved, validated capability-server descriptor.
type ServerConfig struct {
	Name      string
	Transport TransportType
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
	// TimeoutMS, when non-zero, caps the indexer's connect timeout for this
	// server: the indexer uses the smaller of it and its default.
	TimeoutMS int
	Disabled  bool
}

// EmbeddingConfig describes the OpenAI-compatible embedding endpoint.
type EmbeddingConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Headers  map[string]string
}

// VectorDBConfig describes the embedded vector store's on-disk location.
type VectorDBConfig struct {
	Path string
}

// SearchConfig controls the Search Operator's defaults.
type SearchConfig struct {
	TopK                     int
	MinScore                 float64
	IncludeParametersDefault bool
}

// IndexerConfig controls indexing concurrency, retry, and chunking bounds.
type IndexerConfig struct {
	ConnectTimeoutMS     int
	MaxRetries           int
	InitialRetryDelayMS  int
	MaxRetryDelayMS      int
	MaxChunkChars        int
	OverlapChars         int
	GenerateCliArtifacts bool
}

// Config is the fully resolved, validated configuration tree.
type Config struct {
	Servers   []ServerConfig
	Embedding EmbeddingConfig
	VectorDB  VectorDBConfig
	Search    SearchConfig
	Indexer   IndexerConfig
}

// Defaults, per the external interfaces contract.
const (
	DefaultConnectTimeoutMS    = 60000
	DefaultMaxRetries          = 3
	DefaultInitialRetryDelayMS = 2000
	DefaultMaxRetryDelayMS     = 30000
	DefaultMaxChunkChars       = 500
	DefaultOverlapChars        = 100
	DefaultSearchTopK          = 5
	DefaultSearchMinScore      = 0.3

	defaultEmbeddingBaseURL = "http://localhost:11434/v1"
	defaultEmbeddingModel   = "nomic-embed-text"

	appName = "toolrouter"
)
