// Package chunker splits ingested text into bounded, overlapping
// segments for indexing.
package chunker

import (
	"strings"
	"unicode"
)

// HardMax is the absolute upper bound, in runes, on any emitted chunk.
// The verification pass enforces it regardless of configuration.
const HardMax = 1000

const (
	minMaxChars = 500
	maxMaxChars = 1000

	// verifyStride keeps forced re-splits slightly below HardMax so
	// adjacent windows retain a little shared context.
	verifyStride = HardMax - 50
)

// Config controls chunk sizing.
type Config struct {
	// MaxChars is the target chunk size in runes, clamped to [500, 1000].
	MaxChars int
	// Overlap is the number of trailing runes of a chunk stitched onto
	// the front of the next one. Must be smaller than MaxChars.
	Overlap int
}

// DefaultConfig provides sane defaults for chunking.
func DefaultConfig() Config {
	return Config{
		MaxChars: 500,
		Overlap:  100,
	}
}

func (c Config) normalized() Config {
	if c.MaxChars < minMaxChars {
		c.MaxChars = minMaxChars
	}
	if c.MaxChars > maxMaxChars {
		c.MaxChars = maxMaxChars
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.MaxChars {
		c.Overlap = c.MaxChars / 5
	}
	return c
}

// Split chunks text on sentence boundaries, stitches overlap between
// adjacent chunks, and verifies every chunk against HardMax. Empty or
// whitespace-only input yields no chunks.
func Split(text string, cfg Config) []string {
	cfg = cfg.normalized()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := splitSentences(text)
	chunks := accumulate(sentences, cfg)
	chunks = stitchOverlap(chunks, cfg)
	return verify(chunks)
}

// splitSentences splits after sentence-terminal punctuation or
// newlines, dropping inter-sentence whitespace.
func splitSentences(text string) []string {
	var sentences []string
	var current []rune

	for _, r := range text {
		if len(current) == 0 && unicode.IsSpace(r) && r != '\n' {
			continue
		}
		current = append(current, r)
		if isSentenceTerminal(r) {
			sentences = append(sentences, string(current))
			current = current[:0]
		}
	}
	if len(current) > 0 {
		sentences = append(sentences, string(current))
	}
	return sentences
}

func isSentenceTerminal(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?', '\n':
		return true
	}
	return false
}

// accumulate greedily packs sentences into chunks of at most MaxChars.
// A single sentence longer than MaxChars is hard-split into fixed
// windows with stride MaxChars-Overlap.
func accumulate(sentences []string, cfg Config) []string {
	var chunks []string
	var current []rune

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, string(current))
			current = nil
		}
	}

	stride := cfg.MaxChars - cfg.Overlap
	if stride <= 0 {
		stride = cfg.MaxChars
	}

	for _, s := range sentences {
		runes := []rune(s)
		if len(runes) > cfg.MaxChars {
			flush()
			for i := 0; i < len(runes); i += stride {
				end := i + cfg.MaxChars
				if end > len(runes) {
					end = len(runes)
				}
				window := string(runes[i:end])
				if strings.TrimSpace(window) != "" {
					chunks = append(chunks, window)
				}
			}
			continue
		}
		if len(current)+len(runes) > cfg.MaxChars {
			flush()
		}
		current = append(current, runes...)
	}
	flush()

	return chunks
}

// stitchOverlap prefixes each chunk after the first with up to Overlap
// trailing runes of its predecessor, unless that would push the chunk
// past MaxChars; then the chunk is emitted unprefixed, truncated to
// MaxChars.
func stitchOverlap(chunks []string, cfg Config) []string {
	if len(chunks) <= 1 || cfg.Overlap == 0 {
		return chunks
	}

	out := make([]string, 0, len(chunks))
	out = append(out, chunks[0])

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		cur := []rune(chunks[i])

		tail := prev
		if len(prev) > cfg.Overlap {
			tail = prev[len(prev)-cfg.Overlap:]
		}

		if len(tail)+len(cur) > cfg.MaxChars {
			if len(cur) > cfg.MaxChars {
				cur = cur[:cfg.MaxChars]
			}
			out = append(out, string(cur))
			continue
		}
		out = append(out, string(tail)+string(cur))
	}

	return out
}

// verify is the non-optional invariant guard: any chunk still longer
// than HardMax is forcibly re-split into fixed windows.
func verify(chunks []string) []string {
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		runes := []rune(c)
		if len(runes) <= HardMax {
			out = append(out, c)
			continue
		}
		for i := 0; i < len(runes); i += verifyStride {
			end := i + HardMax
			if end > len(runes) {
				end = len(runes)
			}
			window := string(runes[i:end])
			if strings.TrimSpace(window) != "" {
				out = append(out, window)
			}
		}
	}
	return out
}
