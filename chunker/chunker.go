// Package chunker splits a document's plain-text content into the flat,
// ordinal-ordered chunks the store and embedding pipeline operate on.
package chunker

import (
	"math"
	"regexp"
	"strings"

	"github.com/kenny-assistant/kenny/store"
)

// Config controls chunking behaviour.
type Config struct {
	SoftCapTokens int // target upper bound a chunk is glued up to.
	HardCapTokens int // absolute ceiling no chunk may exceed.
}

// Chunker converts a document's content into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with cfg. Zero-value fields fall back to the
// defaults named in spec.md §3 (soft cap 512, hard cap 1024).
func New(cfg Config) *Chunker {
	if cfg.SoftCapTokens == 0 {
		cfg.SoftCapTokens = 512
	}
	if cfg.HardCapTokens == 0 {
		cfg.HardCapTokens = 1024
	}
	if cfg.HardCapTokens < cfg.SoftCapTokens {
		cfg.HardCapTokens = cfg.SoftCapTokens
	}
	return &Chunker{cfg: cfg}
}

// span is a slice of content together with its byte offsets, used
// internally while building up chunk windows.
type span struct {
	text       string
	start, end int
}

// Chunk splits content deterministically: paragraphs (blank-line
// separated) are the atomic unit, glued together up to SoftCapTokens; a
// paragraph itself exceeding HardCapTokens is recursively split at
// sentence, then word, boundaries so the hard cap is never exceeded.
// Ordinals are assigned in document order starting at 0.
func (c *Chunker) Chunk(docID string, content string) []store.Chunk {
	paragraphs := splitParagraphSpans(content)

	var fragments []span
	for _, p := range paragraphs {
		fragments = append(fragments, splitOversized(p, c.cfg.HardCapTokens)...)
	}

	var chunks []store.Chunk
	var window []string
	var windowStart, windowEnd, windowTokens int
	ordinal := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		text := strings.Join(window, "\n\n")
		chunks = append(chunks, store.Chunk{
			DocID:       docID,
			Ordinal:     ordinal,
			Text:        text,
			CharStart:   windowStart,
			CharEnd:     windowEnd,
			ContentHash: store.Hash(text),
		})
		ordinal++
		window = nil
		windowTokens = 0
	}

	for _, f := range fragments {
		t := estimateTokens(f.text)
		if windowTokens > 0 && windowTokens+t > c.cfg.SoftCapTokens {
			flush()
		}
		if len(window) == 0 {
			windowStart = f.start
		}
		window = append(window, f.text)
		windowEnd = f.end
		windowTokens += t
		if windowTokens >= c.cfg.HardCapTokens {
			flush()
		}
	}
	flush()

	return chunks
}

// estimateTokens approximates a token count using a word-based heuristic:
// tokens ~ words * 1.3.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

var blankLineRe = regexp.MustCompile(`\n[ \t]*\n[ \t\n]*`)

// splitParagraphSpans breaks content on blank-line boundaries, returning
// each non-empty paragraph's trimmed text and its exact byte offsets in
// content.
func splitParagraphSpans(content string) []span {
	seps := blankLineRe.FindAllStringIndex(content, -1)

	var raw []span
	prev := 0
	for _, sep := range seps {
		raw = append(raw, span{text: content[prev:sep[0]], start: prev, end: sep[0]})
		prev = sep[1]
	}
	raw = append(raw, span{text: content[prev:], start: prev, end: len(content)})

	var out []span
	for _, r := range raw {
		trimmed, lead, trail := trimSpan(r.text)
		if trimmed == "" {
			continue
		}
		out = append(out, span{text: trimmed, start: r.start + lead, end: r.end - trail})
	}
	return out
}

var sentenceBoundaryRe = regexp.MustCompile(`[.?!]+[\s]+`)

// splitSentenceSpans breaks text on sentence-ending punctuation, offsetting
// every span by base so it reads as a position within the original
// document rather than within text.
func splitSentenceSpans(text string, base int) []span {
	bounds := sentenceBoundaryRe.FindAllStringIndex(text, -1)

	var out []span
	prev := 0
	for _, b := range bounds {
		addSpanIfNonEmpty(&out, text[prev:b[1]], base+prev, base+b[1])
		prev = b[1]
	}
	if prev < len(text) {
		addSpanIfNonEmpty(&out, text[prev:], base+prev, base+len(text))
	}
	return out
}

func addSpanIfNonEmpty(out *[]span, raw string, start, end int) {
	trimmed, lead, trail := trimSpan(raw)
	if trimmed == "" {
		return
	}
	*out = append(*out, span{text: trimmed, start: start + lead, end: end - trail})
}

var wordRe = regexp.MustCompile(`\S+`)

// splitByWords is the last-resort splitter for a single sentence that
// still exceeds hardCap, grouping consecutive words up to the cap.
func splitByWords(p span, hardCap int) []span {
	words := wordRe.FindAllStringIndex(p.text, -1)
	if len(words) <= 1 {
		return []span{p}
	}
	maxWords := int(float64(hardCap) / 1.3)
	if maxWords < 1 {
		maxWords = 1
	}

	var out []span
	for i := 0; i < len(words); i += maxWords {
		end := i + maxWords
		if end > len(words) {
			end = len(words)
		}
		startOff, endOff := words[i][0], words[end-1][1]
		out = append(out, span{
			text:  p.text[startOff:endOff],
			start: p.start + startOff,
			end:   p.start + endOff,
		})
	}
	return out
}

// splitOversized recursively splits p at paragraph -> sentence -> word
// granularity until every returned span is at or under hardCap tokens.
func splitOversized(p span, hardCap int) []span {
	if estimateTokens(p.text) <= hardCap {
		return []span{p}
	}
	sentences := splitSentenceSpans(p.text, p.start)
	if len(sentences) <= 1 {
		return splitByWords(p, hardCap)
	}
	var out []span
	for _, s := range sentences {
		out = append(out, splitOversized(s, hardCap)...)
	}
	return out
}

// trimSpan trims leading/trailing whitespace from s and reports how many
// bytes were trimmed from each end, so callers can adjust offsets.
func trimSpan(s string) (trimmed string, lead, trail int) {
	left := strings.TrimLeft(s, " \t\r\n")
	lead = len(s) - len(left)
	both := strings.TrimRight(left, " \t\r\n")
	trail = len(left) - len(both)
	return both, lead, trail
}
