package rag

import (
	"regexp"
	"strings"
)

// Piece is one window of chunked text. Start and End are offsets into the
// normalized source text, so stitching pieces back together (minus overlap)
// reproduces it exactly.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Chunker splits raw text into overlapping, boundary-aware windows sized for
// vector indexing.
type Chunker struct {
	// TargetSize is the preferred chunk length in characters.
	TargetSize int
	// Overlap is how many characters consecutive chunks share.
	Overlap int
	// MinSize is the smallest chunk worth emitting, except for the tail.
	MinSize int
	// RespectBoundaries makes the splitter hunt for natural break points
	// instead of cutting mid-word.
	RespectBoundaries bool
}

// NewChunker returns a chunker with the default window geometry.
func NewChunker() *Chunker {
	return &Chunker{
		TargetSize:        2000,
		Overlap:           200,
		MinSize:           400,
		RespectBoundaries: true,
	}
}

var (
	multiNewline = regexp.MustCompile(`\n{3,}`)
	multiSpace   = regexp.MustCompile(` {2,}`)
)

// boundary search window: how far back from the tentative cut we look for a
// natural break.
const boundaryWindow = 200

// minimum distance into the window a boundary must sit so chunks stay a
// reasonable size.
const boundaryFloor = 50

// Split chunks text into overlapping windows. Identical input and parameters
// always produce identical output, and the start offset strictly advances so
// the loop cannot stall.
func (c *Chunker) Split(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	text = NormalizeWhitespace(text)

	if len(text) <= c.TargetSize {
		return []Piece{{Text: text, Start: 0, End: len(text)}}
	}

	var pieces []Piece
	start := 0
	lastStart := -1

	for start < len(text) {
		end := start + c.TargetSize
		if end > len(text) {
			end = len(text)
		}

		if end < len(text) && c.RespectBoundaries {
			end = c.findSplitPoint(text, start, end)
		}

		chunk := strings.TrimSpace(text[start:end])
		if len(chunk) >= c.MinSize || start+c.TargetSize >= len(text) {
			pieces = append(pieces, Piece{Text: chunk, Start: start, End: end})
		}

		if end >= len(text) {
			break
		}

		next := end - c.Overlap
		if next <= lastStart || next <= start {
			next = end
		}
		lastStart = start
		start = next
	}

	return pieces
}

// NormalizeWhitespace collapses runs of blank lines to a single paragraph
// break and runs of spaces to one space, trimming the ends.
func NormalizeWhitespace(text string) string {
	text = multiNewline.ReplaceAllString(text, "\n\n")
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// findSplitPoint looks for a natural cut near end, preferring in order: a
// paragraph break, sentence-ending punctuation, clause punctuation, then any
// word boundary. Falls back to the hard cut when nothing qualifies.
func (c *Chunker) findSplitPoint(text string, start, end int) int {
	searchStart := end - boundaryWindow
	if searchStart < start {
		searchStart = start
	}
	window := text[searchStart:end]

	if pos := strings.LastIndex(window, "\n\n"); pos > boundaryFloor {
		return searchStart + pos + 2
	}

	best := -1
	for _, pattern := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if pos := strings.LastIndex(window, pattern); pos > best {
			best = pos
		}
	}
	if best > boundaryFloor {
		return searchStart + best + 2
	}

	for _, pattern := range []string{", ", "; ", ":\n", " - "} {
		if pos := strings.LastIndex(window, pattern); pos > boundaryFloor {
			return searchStart + pos + len(pattern)
		}
	}

	if pos := strings.LastIndex(window, " "); pos > boundaryFloor {
		return searchStart + pos + 1
	}

	return end
}
