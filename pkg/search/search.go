// Package search implements the Search Operator: the mcp_search capability,
// turning a natural-language query into ranked, rendered capability cards.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/toolrouter/toolrouter/pkg/chunk"
	"github.com/toolrouter/toolrouter/pkg/embedding"
	"github.com/toolrouter/toolrouter/pkg/logger"
	"github.com/toolrouter/toolrouter/pkg/vectorstore"
)

const (
	minLimit           = 1
	maxLimit           = 20
	fetchMultiplier    = 3
	maxFetchLimit      = 60
	schemaPreviewChars = 2000
)

// Store is the subset of the Vector Store the search operator reads from.
type Store interface {
	SearchTools(ctx context.Context, queryVector []float32, topK int, minScore float64) ([]vectorstore.Result, error)
	AllEntries(ctx context.Context) ([]vectorstore.Entry, error)
}

// Request is the mcp_search parameter set.
type Request struct {
	Query         string
	Limit         int
	IncludeSchema *bool
}

// TokenMetrics reports how many wire tokens one mcp_search call avoided
// sending, against the baseline of describing every indexed capability.
type TokenMetrics struct {
	BaselineTokens    int
	ReturnedTokens    int
	TokensSaved       int
	SavingsPercentage float64
}

// Response is the mcp_search return value.
type Response struct {
	Text          string
	Count         int
	IncludeSchema bool
	TokenMetrics  TokenMetrics
}

// Operator answers mcp_search calls.
type Operator struct {
	Store                    Store
	Embeddings               embedding.Client
	MinScore                 float64
	IncludeParametersDefault bool
	// DefaultLimit is used when the caller omits limit. Falls back to 5 if unset.
	DefaultLimit int
}

// Search runs one mcp_search call end to end.
func (o *Operator) Search(ctx context.Context, req Request) Response {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return errorResponse("query is required")
	}

	vec, err := o.Embeddings.Embed(ctx, query)
	if err != nil {
		return errorResponse(fmt.Sprintf("search is temporarily unavailable (%v) — try again, or re-index if this persists", err))
	}

	rawLimit := req.Limit
	if rawLimit == 0 {
		rawLimit = o.DefaultLimit
	}
	if rawLimit == 0 {
		rawLimit = 5
	}
	limit := clamp(rawLimit, minLimit, maxLimit)
	fetchLimit := fetchMultiplier * limit
	if fetchLimit > maxFetchLimit {
		fetchLimit = maxFetchLimit
	}

	results, err := o.Store.SearchTools(ctx, vec, fetchLimit, o.MinScore)
	if err != nil {
		return errorResponse(fmt.Sprintf("search failed: %v", err))
	}

	deduped := dedupeByCapability(results)
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	includeSchema := o.IncludeParametersDefault
	if req.IncludeSchema != nil {
		includeSchema = *req.IncludeSchema
	}

	if len(deduped) == 0 {
		return Response{
			Text:  "No matching capabilities found — try rephrasing your query.",
			Count: 0,
		}
	}

	metrics := o.computeTokenMetrics(ctx, deduped)

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d matching capabilit%s:\n\n", len(deduped), pluralSuffix(len(deduped)))
	for i, r := range deduped {
		b.WriteString(renderCard(i+1, r, includeSchema))
		b.WriteString("\n")
	}
	if metrics.BaselineTokens > 0 {
		fmt.Fprintf(&b, "\nToken savings: %d of %d tokens returned (%.1f%% saved vs. sending every indexed capability)\n",
			metrics.ReturnedTokens, metrics.BaselineTokens, metrics.SavingsPercentage)
	}

	return Response{
		Text:          strings.TrimRight(b.String(), "\n"),
		Count:         len(deduped),
		IncludeSchema: includeSchema,
		TokenMetrics:  metrics,
	}
}

// computeTokenMetrics compares the token cost of the returned capabilities
// against the baseline of describing every indexed capability, the way
// the teacher's token counter computes savings for a matched tool subset.
// A store listing failure degrades to a zero-value TokenMetrics rather than
// failing the search.
func (o *Operator) computeTokenMetrics(ctx context.Context, returned []vectorstore.Result) TokenMetrics {
	all, err := o.Store.AllEntries(ctx)
	if err != nil {
		logger.Debugf("search: failed to compute token metrics baseline: %v", err)
		return TokenMetrics{}
	}

	baseline := sumTokens(dedupeEntries(all))
	if baseline == 0 {
		return TokenMetrics{}
	}

	var returnedTokens int
	for _, r := range returned {
		returnedTokens += chunk.EstimateTokens(r.Entry.ToolName, r.Entry.Description, r.Entry.ParametersJSON)
	}

	saved := baseline - returnedTokens
	return TokenMetrics{
		BaselineTokens:    baseline,
		ReturnedTokens:    returnedTokens,
		TokensSaved:       saved,
		SavingsPercentage: float64(saved) / float64(baseline) * 100,
	}
}

// dedupeEntries collapses rows sharing (ServerName, ToolName) to one, so a
// multi-chunk tool's repeated description/parameters are only counted once.
func dedupeEntries(entries []vectorstore.Entry) []vectorstore.Entry {
	seen := make(map[string]bool, len(entries))
	out := make([]vectorstore.Entry, 0, len(entries))
	for _, e := range entries {
		key := e.ServerName + "::" + e.ToolName
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func sumTokens(entries []vectorstore.Entry) int {
	total := 0
	for _, e := range entries {
		total += chunk.EstimateTokens(e.ToolName, e.Description, e.ParametersJSON)
	}
	return total
}

func errorResponse(text string) Response {
	return Response{Text: text, Count: 0}
}

func pluralSuffix(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// dedupeByCapability collapses results sharing (server_name, tool_name),
// keeping the highest-scored row per key.
func dedupeByCapability(results []vectorstore.Result) []vectorstore.Result {
	best := make(map[string]vectorstore.Result, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		key := r.Entry.ServerName + "::" + r.Entry.ToolName
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = r
			continue
		}
		if r.Score > existing.Score {
			best[key] = r
		}
	}
	out := make([]vectorstore.Result, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

func renderCard(index int, r vectorstore.Result, includeSchema bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s (server: %s) — %d%% match\n", index, r.Entry.ToolName, r.Entry.ServerName, int(r.Score*100))
	if r.Entry.Description != "" {
		fmt.Fprintf(&b, "   %s\n", r.Entry.Description)
	}
	if sig := renderSignature(r.Entry.ParametersJSON); sig != "" {
		b.WriteString("   Parameters:\n")
		for _, line := range strings.Split(sig, "\n") {
			fmt.Fprintf(&b, "     %s\n", line)
		}
	}
	fmt.Fprintf(&b, "   To invoke: mcp_call(tool_name=%q, params_json=\"{...}\")\n", r.Entry.ToolName)
	if includeSchema {
		schema := r.Entry.ParametersJSON
		if len(schema) > schemaPreviewChars {
			schema = schema[:schemaPreviewChars] + "…"
		}
		fmt.Fprintf(&b, "   Schema: %s\n", schema)
	}
	return b.String()
}

// renderSignature parses a JSON schema object into lines of "name: type" or
// "name?: type" for properties not listed as required.
func renderSignature(parametersJSON string) string {
	if parametersJSON == "" {
		return ""
	}

	var schema struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal([]byte(parametersJSON), &schema); err != nil {
		return ""
	}
	if len(schema.Properties) == 0 {
		return ""
	}

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		prop := schema.Properties[name]
		typ := prop.Type
		if typ == "" {
			typ = "any"
		}
		marker := "?"
		if required[name] {
			marker = ""
		}
		lines = append(lines, fmt.Sprintf("%s%s: %s", name, marker, typ))
	}
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
