package config

// rawConfig mirrors the configuration surface described in the external
// interfaces contract: the shape a host hands us, decoded straight off
// YAML. All fields are optional; a missing tree resolves to an empty one,
// not an error.
type rawConfig struct {
	McpServers     map[string]rawServerEntry `yaml:"mcpServers"`
	McpServersFile string                    `yaml:"mcpServersFile"`
	Servers        []rawLegacyServer         `yaml:"servers"`
	Embedding      *rawEmbedding             `yaml:"embedding"`
	// MemorySearch is a host's own semantic-memory configuration, shaped
	// identically to embedding. Used in its place, with the same url
	// migration and defaults, when embedding is absent.
	MemorySearch   *rawEmbedding             `yaml:"memorySearch"`
	VectorDB       *rawVectorDB              `yaml:"vectorDb"`
	Search         *rawSearch                `yaml:"search"`
	Indexer        *rawIndexer               `yaml:"indexer"`
}

type rawServerEntry struct {
	Command   string            `yaml:"command" json:"command"`
	Args      []string          `yaml:"args" json:"args"`
	Env       map[string]string `yaml:"env" json:"env"`
	URL       string            `yaml:"url" json:"url"`
	ServerURL string            `yaml:"serverUrl" json:"serverUrl"`
	Headers   map[string]string `yaml:"headers" json:"headers"`
	Type      string            `yaml:"type" json:"type"`
	Timeout   int               `yaml:"timeout" json:"timeout"`
	Disabled  bool              `yaml:"disabled" json:"disabled"`
}

type rawLegacyServer struct {
	rawServerEntry `yaml:",inline"`
	Name           string `yaml:"name"`
	Transport      string `yaml:"transport"`
}

// serversFileRoot accepts either a bare {name -> entry} map or a
// {mcpServers: {...}} wrapper, per the external interfaces contract.
type serversFileRoot struct {
	McpServers map[string]rawServerEntry `json:"mcpServers"`
}

type rawEmbedding struct {
	Provider string            `yaml:"provider"`
	Model    string            `yaml:"model"`
	BaseURL  string            `yaml:"baseUrl"`
	URL      string            `yaml:"url"`
	APIKey   string            `yaml:"apiKey"`
	Headers  map[string]string `yaml:"headers"`
}

type rawVectorDB struct {
	Path string `yaml:"path"`
}

type rawSearch struct {
	TopK                     *int     `yaml:"topK"`
	MinScore                 *float64 `yaml:"minScore"`
	IncludeParametersDefault *bool    `yaml:"includeParametersDefault"`
}

type rawIndexer struct {
	ConnectTimeout       *int  `yaml:"connectTimeout"`
	MaxRetries           *int  `yaml:"maxRetries"`
	InitialRetryDelay    *int  `yaml:"initialRetryDelay"`
	MaxRetryDelay        *int  `yaml:"maxRetryDelay"`
	MaxChunkChars        *int  `yaml:"maxChunkChars"`
	OverlapChars         *int  `yaml:"overlapChars"`
	GenerateCliArtifacts *bool `yaml:"generateCliArtifacts"`
}
