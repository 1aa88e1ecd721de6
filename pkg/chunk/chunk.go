// Package chunk splits a capability description into bounded, overlapping
// segments along semantic boundaries, so long descriptions can be embedded
// and stored as multiple vector-store rows while still reading naturally.
package chunk

import "strings"

// separators is the boundary hierarchy tried in order; the first one that
// occurs in the text wins.
var separators = []string{"\n\n", "\n", ". "}

// tokenByteDivisor approximates bytes-per-token for a JSON-ish payload, the
// same divisor the teacher's JSON-byte token counter uses.
const tokenByteDivisor = 4

// EstimateTokens approximates the token cost of describing one capability
// on the wire: its name, description, and parameters schema, divided by
// tokenByteDivisor. It is a heuristic, not a real tokenizer.
func EstimateTokens(toolName, description, parametersJSON string) int {
	return (len(toolName) + len(description) + len(parametersJSON)) / tokenByteDivisor
}

// Chunk is one bounded slice of a capability's embedding text.
type Chunk struct {
	Index int
	Total int
	Text  string
}

// Options controls the chunking bounds.
type Options struct {
	MaxChunkChars int
	OverlapChars  int
}

// Split segments text into chunks bounded by opts.MaxChunkChars, carrying a
// continuation prefix and a tail overlap on every chunk after the first.
//
// Fast path: MaxChunkChars == 0, or text already fits, returns a single
// chunk verbatim.
func Split(text, toolName string, opts Options) []Chunk {
	if opts.MaxChunkChars == 0 || len(text) <= opts.MaxChunkChars {
		return []Chunk{{Index: 0, Total: 1, Text: text}}
	}

	segments := splitOnBoundary(text)

	prefix := continuationPrefix(toolName)
	var buffers []string
	var current strings.Builder

	// startNext begins a new buffer, carrying the continuation prefix and a
	// tail-overlap of the just-flushed buffer whenever a prior buffer exists.
	startNext := func(prevBuffer string, hasPrev bool) {
		if hasPrev {
			current.WriteString(continuationWithOverlap(prefix, prevBuffer, opts.OverlapChars))
		}
	}

	flush := func() string {
		s := current.String()
		if s != "" {
			buffers = append(buffers, s)
		}
		current.Reset()
		return s
	}

	for _, seg := range segments {
		if len(seg) > opts.MaxChunkChars {
			prev := flush()
			hasPrev := len(buffers) > 0
			// flush() returns "" when current was already emptied by a
			// prior oversized segment's own final flush; fall back to the
			// last real buffer so the overlap still carries across the
			// segment boundary.
			if prev == "" && hasPrev {
				prev = buffers[len(buffers)-1]
			}
			for len(seg) > 0 {
				n := opts.MaxChunkChars
				if n > len(seg) {
					n = len(seg)
				}
				startNext(prev, hasPrev)
				current.WriteString(seg[:n])
				seg = seg[n:]
				prev = flush()
				hasPrev = true
			}
			continue
		}

		if current.Len() > 0 && current.Len()+len(seg) > opts.MaxChunkChars {
			prev := flush()
			startNext(prev, true)
		}
		current.WriteString(seg)
	}
	flush()

	return toChunks(buffers)
}

// splitOnBoundary splits text at the first separator that occurs in it,
// re-attaching the separator to the end of each preceding part. If none of
// the separators occur, the whole text is returned as one segment.
func splitOnBoundary(text string) []string {
	for _, sep := range separators {
		if strings.Contains(text, sep) {
			parts := strings.Split(text, sep)
			segments := make([]string, 0, len(parts))
			for i, p := range parts {
				if i < len(parts)-1 {
					segments = append(segments, p+sep)
				} else if p != "" {
					segments = append(segments, p)
				}
			}
			return segments
		}
	}
	return []string{text}
}

func continuationWithOverlap(prefix, prevBuffer string, overlapChars int) string {
	if overlapChars <= 0 {
		return prefix
	}
	tail := prevBuffer
	if len(tail) > overlapChars {
		tail = tail[len(tail)-overlapChars:]
	}
	return prefix + tail
}

func continuationPrefix(toolName string) string {
	return toolName + ": ... "
}

func toChunks(buffers []string) []Chunk {
	chunks := make([]Chunk, len(buffers))
	for i, b := range buffers {
		chunks[i] = Chunk{Index: i, Total: len(buffers), Text: b}
	}
	return chunks
}
