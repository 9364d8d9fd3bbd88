package chunker

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sandevgo/memctx/internal/config"
	"github.com/sandevgo/memctx/internal/core"
)

// Chunker splits raw text into bounded, structure-aware segments. The
// same instance (or an identically configured one) must be used at
// storage time and query time: retrieval compares chunk embeddings
// pairwise, so both sides need identical boundaries.
//
// Chunks are contiguous byte ranges of the input. Concatenating them
// in index order reproduces the original text exactly. The Overlap
// setting widens the break-point search window at the end of each
// budget; it never duplicates text between chunks.
type Chunker struct {
	cfg config.ChunkerConfig
}

func New(cfg *config.ChunkerConfig) *Chunker {
	return &Chunker{cfg: *cfg}
}

type region struct {
	start int
	end   int
}

var (
	// Fenced code blocks. An unterminated fence protects through the
	// end of the input.
	fenceRe = regexp.MustCompile("(?ms)^```[^\n]*$")

	// Structured call markers emitted by agent transcripts.
	toolCallRe   = regexp.MustCompile(`(?s)<tool_call>.*?</tool_call>`)
	toolResultRe = regexp.MustCompile(`(?s)<tool_result>.*?</tool_result>`)
	funcCallRe   = regexp.MustCompile(`(?s)<function_call>.*?</function_call>`)
)

// Break-point patterns in priority order: paragraph > sentence >
// clause > whitespace. The last match inside the search window wins.
var boundaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\n\n`),
	regexp.MustCompile(`[.!?]["')\]]?(?:\s)`),
	regexp.MustCompile(`[,;:](?:\s)`),
	regexp.MustCompile(`\s`),
}

// Chunk splits text into segment strings.
func (c *Chunker) Chunk(text string) ([]string, error) {
	chunks, err := c.ChunkWithPositions(text)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out, nil
}

// ChunkWithPositions splits text into position-preserving chunks.
// Exceeding the configured chunk ceiling is a terminal
// *core.ChunkLimitError, never silent truncation.
func (c *Chunker) ChunkWithPositions(text string) ([]core.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	regions := c.protectedRegions(text)
	var chunks []core.Chunk

	pos := 0
	for pos < len(text) {
		end := c.segmentEnd(text, pos, regions)
		chunks = append(chunks, core.Chunk{
			Text:  text[pos:end],
			Start: pos,
			End:   end,
		})
		pos = end
	}

	chunks = c.mergeSmall(text, chunks)

	if len(chunks) > c.cfg.MaxChunks {
		return nil, &core.ChunkLimitError{Chunks: len(chunks), Max: c.cfg.MaxChunks}
	}

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
	}
	return chunks, nil
}

// segmentEnd picks the end offset for the chunk starting at pos.
func (c *Chunker) segmentEnd(text string, pos int, regions []region) int {
	limit := pos + c.cfg.MaxChars
	if limit >= len(text) {
		return len(text)
	}

	// A protected region straddling the cut decides the boundary:
	// include it whole when it starts within the first half of the
	// budget, otherwise stop right before it.
	for _, r := range regions {
		if r.start < limit && r.end > limit {
			if r.start <= pos {
				// Already inside an oversized region; emit it whole.
				return r.end
			}
			if r.start-pos <= c.cfg.MaxChars/2 {
				return r.end
			}
			return r.start
		}
	}

	windowStart := limit - c.cfg.Overlap
	if windowStart <= pos {
		windowStart = pos + 1
	}
	window := text[windowStart:limit]

	for _, pat := range boundaryPatterns {
		matches := pat.FindAllStringIndex(window, -1)
		for i := len(matches) - 1; i >= 0; i-- {
			cut := windowStart + matches[i][1]
			if cut <= pos || c.insideRegion(cut, regions) {
				continue
			}
			return cut
		}
	}

	// No usable boundary: hard cut on a rune boundary.
	cut := limit
	for cut > pos && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == pos {
		cut = limit
	}
	return cut
}

func (c *Chunker) insideRegion(off int, regions []region) bool {
	for _, r := range regions {
		if off > r.start && off < r.end {
			return true
		}
	}
	return false
}

// protectedRegions locates spans that must never be split: fenced code
// blocks, tables, and structured call markers. Overlapping spans are
// merged.
func (c *Chunker) protectedRegions(text string) []region {
	var regions []region

	fences := fenceRe.FindAllStringIndex(text, -1)
	for i := 0; i+1 < len(fences); i += 2 {
		regions = append(regions, region{start: fences[i][0], end: fences[i+1][1]})
	}
	if len(fences)%2 == 1 {
		regions = append(regions, region{start: fences[len(fences)-1][0], end: len(text)})
	}

	for _, re := range []*regexp.Regexp{toolCallRe, toolResultRe, funcCallRe} {
		for _, m := range re.FindAllStringIndex(text, -1) {
			regions = append(regions, region{start: m[0], end: m[1]})
		}
	}

	regions = append(regions, tableRegions(text)...)

	if len(regions) == 0 {
		return nil
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i].start < regions[j].start })

	merged := regions[:1]
	for _, r := range regions[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// tableRegions finds runs of two or more consecutive pipe-prefixed
// lines (markdown tables).
func tableRegions(text string) []region {
	var regions []region
	offset := 0
	runStart := -1
	runLines := 0

	flush := func(end int) {
		if runLines >= 2 {
			regions = append(regions, region{start: runStart, end: end})
		}
		runStart = -1
		runLines = 0
	}

	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		abs := len(text)
		if lineEnd >= 0 {
			abs = offset + lineEnd + 1
		}
		line := strings.TrimRight(text[offset:abs], "\n")
		if strings.HasPrefix(strings.TrimSpace(line), "|") {
			if runStart < 0 {
				runStart = offset
			}
			runLines++
		} else {
			flush(offset)
		}
		if lineEnd < 0 {
			break
		}
		offset = abs
	}
	flush(len(text))
	return regions
}

// mergeSmall folds any chunk shorter than MinChars into its neighbor,
// preserving contiguity.
func (c *Chunker) mergeSmall(text string, chunks []core.Chunk) []core.Chunk {
	if len(chunks) <= 1 {
		return chunks
	}
	var out []core.Chunk
	for _, ch := range chunks {
		if len(out) > 0 && len(strings.TrimSpace(ch.Text)) < c.cfg.MinChars {
			prev := &out[len(out)-1]
			prev.End = ch.End
			prev.Text = text[prev.Start:prev.End]
			continue
		}
		out = append(out, ch)
	}
	// A short leading chunk merges forward.
	if len(out) > 1 && len(strings.TrimSpace(out[0].Text)) < c.cfg.MinChars {
		out[1].Start = out[0].Start
		out[1].Text = text[out[1].Start:out[1].End]
		out = out[1:]
	}
	return out
}
