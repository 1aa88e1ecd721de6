package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/toolrouter/toolrouter/pkg/errkind"
)

var envTokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Resolver resolves a Config from a host-provided configuration file plus
// the process environment. It is a struct, rather than a package function,
// so tests can inject a fake environment without touching real env vars.
type Resolver struct {
	Getenv  func(string) string
	HomeDir func() (string, error)
}

// NewResolver builds a Resolver wired to the real process environment.
func NewResolver() *Resolver {
	return &Resolver{Getenv: os.Getenv, HomeDir: os.UserHomeDir}
}

// Resolve loads and merges the configuration tree rooted at the resolved
// config path (CONFIG_PATH > STATE_DIR/config.yaml > ~/.toolrouter/config.yaml).
// A missing file resolves to an empty tree, not an error; any malformed
// input fails the entire resolution, with no partial config emitted.
func (r *Resolver) Resolve(_ context.Context) (*Config, error) {
	home, err := r.HomeDir()
	if err != nil {
		home = ""
	}

	path, err := r.configPath(home)
	if err != nil {
		return nil, err
	}

	raw, err := loadRawConfig(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, "failed to load configuration", err)
	}

	servers, err := r.resolveServers(raw, home)
	if err != nil {
		return nil, err
	}

	embedding, err := r.resolveEmbedding(raw)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Servers:   servers,
		Embedding: embedding,
		VectorDB:  r.resolveVectorDB(raw, home),
		Search:    resolveSearch(raw),
		Indexer:   resolveIndexer(raw),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPath implements CONFIG_PATH > STATE_DIR > ~/.toolrouter/ precedence.
func (r *Resolver) configPath(home string) (string, error) {
	if p := r.Getenv("CONFIG_PATH"); p != "" {
		return p, nil
	}
	if dir := r.Getenv("STATE_DIR"); dir != "" {
		return filepath.Join(dir, "config.yaml"), nil
	}
	if home == "" {
		return "", errkind.New(errkind.Configuration, "unable to determine home directory for default config path")
	}
	return filepath.Join(home, "."+appName, "config.yaml"), nil
}

// loadRawConfig reads and decodes the config file at path. A missing file
// is not an error: it resolves to an empty tree.
func loadRawConfig(path string) (rawConfig, error) {
	var raw rawConfig

	data, err := os.ReadFile(path) // #nosec G304 -- path is operator-controlled, not request input
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return raw, nil
		}
		return raw, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return raw, nil
}

// resolveServers implements the precedence rule: file-based base ∪ inline
// map (inline wins on name collision) ∪, only if both are empty, the legacy
// positional array. Disabled entries are dropped here.
func (r *Resolver) resolveServers(raw rawConfig, home string) ([]ServerConfig, error) {
	fileServers := map[string]ServerConfig{}
	if raw.McpServersFile != "" {
		path := expandHome(raw.McpServersFile, home)
		parsed, err := loadServersFile(path)
		if err != nil {
			return nil, errkind.Wrap(errkind.Configuration, "failed to load mcpServersFile", err)
		}
		for name, entry := range parsed {
			sc, err := r.buildServerConfig(name, entry, home)
			if err != nil {
				return nil, err
			}
			fileServers[name] = sc
		}
	}

	inlineServers := map[string]ServerConfig{}
	for name, entry := range raw.McpServers {
		sc, err := r.buildServerConfig(name, entry, home)
		if err != nil {
			return nil, err
		}
		inlineServers[name] = sc
	}

	merged := map[string]ServerConfig{}
	for name, sc := range fileServers {
		merged[name] = sc
	}
	for name, sc := range inlineServers {
		merged[name] = sc // inline wins on collision
	}

	var result []ServerConfig
	if len(merged) == 0 && len(raw.Servers) > 0 {
		for _, legacy := range raw.Servers {
			sc, err := r.buildLegacyServerConfig(legacy, home)
			if err != nil {
				return nil, err
			}
			if !sc.Disabled {
				result = append(result, sc)
			}
		}
	} else {
		for _, sc := range merged {
			if !sc.Disabled {
				result = append(result, sc)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *Resolver) buildServerConfig(name string, entry rawServerEntry, home string) (ServerConfig, error) {
	transport, err := inferTransport(entry.Command, entry.URL, entry.ServerURL, entry.Type)
	if err != nil {
		return ServerConfig{}, errkind.Wrap(errkind.Configuration, fmt.Sprintf("server %q", name), err)
	}

	url := entry.URL
	if url == "" {
		url = entry.ServerURL
	}

	return ServerConfig{
		Name:      name,
		Transport: transport,
		Command:   expandHome(entry.Command, home),
		Args:      entry.Args,
		Env:       r.expandMapTokens(entry.Env),
		URL:       url,
		Headers:   r.expandMapTokens(entry.Headers),
		TimeoutMS: entry.Timeout,
		Disabled:  entry.Disabled,
	}, nil
}

func (r *Resolver) buildLegacyServerConfig(legacy rawLegacyServer, home string) (ServerConfig, error) {
	transport := TransportType(legacy.Transport)
	if !transport.Valid() {
		inferred, err := inferTransport(legacy.Command, legacy.URL, legacy.ServerURL, legacy.Type)
		if err != nil {
			return ServerConfig{}, errkind.Wrap(errkind.Configuration, fmt.Sprintf("server %q", legacy.Name), err)
		}
		transport = inferred
	}

	url := legacy.URL
	if url == "" {
		url = legacy.ServerURL
	}

	return ServerConfig{
		Name:      legacy.Name,
		Transport: transport,
		Command:   expandHome(legacy.Command, home),
		Args:      legacy.Args,
		Env:       r.expandMapTokens(legacy.Env),
		URL:       url,
		Headers:   r.expandMapTokens(legacy.Headers),
		TimeoutMS: legacy.Timeout,
		Disabled:  legacy.Disabled,
	}, nil
}

// inferTransport implements: command present ⇒ childproc; url/serverUrl
// present ⇒ streaming-http; an explicit type overrides. Missing both is a
// configuration error.
func inferTransport(command, url, serverURL, explicitType string) (TransportType, error) {
	if explicitType != "" {
		t := TransportType(explicitType)
		if !t.Valid() {
			return "", fmt.Errorf("invalid transport type %q", explicitType)
		}
		return t, nil
	}
	if command != "" {
		return TransportChildProc, nil
	}
	if url != "" || serverURL != "" {
		return TransportStreamingHTTP, nil
	}
	return "", errors.New("server has neither command nor url/serverUrl, and no explicit type")
}

// loadServersFile loads the external server-list file, tolerating comments
// and trailing commas (hujson), and accepting either a bare map or a
// {mcpServers:{...}} wrapper.
func loadServersFile(path string) (map[string]rawServerEntry, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	value, err := hujson.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	value.Standardize()
	standard := value.Pack()

	var wrapper serversFileRoot
	if err := json.Unmarshal(standard, &wrapper); err == nil && wrapper.McpServers != nil {
		return wrapper.McpServers, nil
	}

	var bare map[string]rawServerEntry
	if err := json.Unmarshal(standard, &bare); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return bare, nil
}

// expandMapTokens applies ${NAME} expansion to every value in m.
func (r *Resolver) expandMapTokens(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = r.expandEnvTokens(v)
	}
	return out
}

// expandEnvTokens replaces every ${NAME} token with the process environment
// lookup, or the empty string when unset.
func (r *Resolver) expandEnvTokens(s string) string {
	return envTokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := envTokenPattern.FindStringSubmatch(token)[1]
		return r.Getenv(name)
	})
}

// expandHome expands a leading "~/" to the user's home directory.
func expandHome(path, home string) string {
	if home == "" || !strings.HasPrefix(path, "~/") {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}

// resolveEmbedding implements the three-branch precedence: an explicit
// embedding block; otherwise a host-exposed compatible memorySearch block,
// resolved exactly like an explicit embedding block; otherwise the local
// default.
func (r *Resolver) resolveEmbedding(raw rawConfig) (EmbeddingConfig, error) {
	e := raw.Embedding
	if e == nil {
		e = raw.MemorySearch
	}
	if e == nil {
		return EmbeddingConfig{
			Provider: "openai-compatible",
			Model:    defaultEmbeddingModel,
			BaseURL:  defaultEmbeddingBaseURL,
		}, nil
	}

	baseURL := e.BaseURL
	if baseURL == "" && e.URL != "" {
		// Legacy url (without /v1) is migrated by appending /v1.
		baseURL = strings.TrimRight(e.URL, "/") + "/v1"
	}
	if baseURL == "" {
		baseURL = defaultEmbeddingBaseURL
	}

	model := e.Model
	if model == "" {
		model = defaultEmbeddingModel
	}

	return EmbeddingConfig{
		Provider: e.Provider,
		Model:    model,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   r.expandEnvTokens(e.APIKey),
		Headers:  r.expandMapTokens(e.Headers),
	}, nil
}

func (r *Resolver) resolveVectorDB(raw rawConfig, home string) VectorDBConfig {
	path := ""
	if raw.VectorDB != nil {
		path = raw.VectorDB.Path
	}
	if path == "" {
		path = filepath.Join(home, "."+appName, "vectors")
	}
	return VectorDBConfig{Path: expandHome(path, home)}
}

func resolveSearch(raw rawConfig) SearchConfig {
	topK := DefaultSearchTopK
	minScore := DefaultSearchMinScore
	includeDefault := false

	if raw.Search != nil {
		if raw.Search.TopK != nil {
			topK = *raw.Search.TopK
		}
		if raw.Search.MinScore != nil {
			minScore = *raw.Search.MinScore
		}
		if raw.Search.IncludeParametersDefault != nil {
			includeDefault = *raw.Search.IncludeParametersDefault
		}
	}

	return SearchConfig{
		TopK:                     clampInt(topK, 1, 20),
		MinScore:                 clampFloat(minScore, 0, 1),
		IncludeParametersDefault: includeDefault,
	}
}

func resolveIndexer(raw rawConfig) IndexerConfig {
	cfg := IndexerConfig{
		ConnectTimeoutMS:     DefaultConnectTimeoutMS,
		MaxRetries:           DefaultMaxRetries,
		InitialRetryDelayMS:  DefaultInitialRetryDelayMS,
		MaxRetryDelayMS:      DefaultMaxRetryDelayMS,
		MaxChunkChars:        DefaultMaxChunkChars,
		OverlapChars:         DefaultOverlapChars,
		GenerateCliArtifacts: false,
	}

	if raw.Indexer == nil {
		return cfg
	}

	i := raw.Indexer
	if i.ConnectTimeout != nil {
		cfg.ConnectTimeoutMS = nonNegative(*i.ConnectTimeout)
	}
	if i.MaxRetries != nil {
		cfg.MaxRetries = nonNegative(*i.MaxRetries)
	}
	if i.InitialRetryDelay != nil {
		cfg.InitialRetryDelayMS = nonNegative(*i.InitialRetryDelay)
	}
	if i.MaxRetryDelay != nil {
		cfg.MaxRetryDelayMS = nonNegative(*i.MaxRetryDelay)
	}
	if i.MaxChunkChars != nil {
		cfg.MaxChunkChars = nonNegative(*i.MaxChunkChars)
	}
	if i.OverlapChars != nil {
		cfg.OverlapChars = nonNegative(*i.OverlapChars)
	}
	if i.GenerateCliArtifacts != nil {
		cfg.GenerateCliArtifacts = *i.GenerateCliArtifacts
	}
	return cfg
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate re-checks invariants that must hold after merge. Most numeric
// fields self-heal via clamping during resolution; Validate catches the
// cases that can't be silently defaulted.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, s := range c.Servers {
		if s.Name == "" {
			return errkind.New(errkind.Configuration, "server entry missing name")
		}
		if seen[s.Name] {
			return errkind.New(errkind.Configuration, fmt.Sprintf("duplicate server name %q after merge", s.Name))
		}
		seen[s.Name] = true
		if !s.Transport.Valid() {
			return errkind.New(errkind.Configuration, fmt.Sprintf("server %q has invalid transport %q", s.Name, s.Transport))
		}
	}
	return nil
}
