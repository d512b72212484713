// Package chunker splits extracted manual text into overlapping segments
// tagged with advisory page and section hints.
package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the default number of characters per chunk.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the default number of characters shared by consecutive chunks.
	DefaultChunkOverlap = 200

	// chunks without an explicit page marker get index/pagesPerChunkGuess + 1
	pagesPerChunkGuess = 5
	sectionScanLines   = 3
	minSectionLen      = 6
	maxSectionLen      = 50
)

var (
	pageMarker     = regexp.MustCompile(`(?i)\bpage\s+(\d{1,5})\b`)
	bareNumberLine = regexp.MustCompile(`^\d{1,5}$`)
	numberedHead   = regexp.MustCompile(`^\d{1,3}(\.\d{1,3})*\.?\s+[A-Z][^.]{2,76}$`)
)

// Piece is one chunk of a document.
type Piece struct {
	Index      int
	Content    string
	PageNumber *int
	Section    *string
}

// Chunk walks text in windows of chunkSize runes, preferring to cut after the
// last sentence terminator or newline in the second half of each window.
// Consecutive windows share overlap runes.
func Chunk(text string, chunkSize, overlap int) ([]Piece, error) {
	if overlap < 0 {
		return nil, fmt.Errorf("chunk overlap must not be negative, got %d", overlap)
	}
	if chunkSize <= overlap {
		return nil, fmt.Errorf("chunk size %d must exceed overlap %d", chunkSize, overlap)
	}
	if text == "" {
		return []Piece{}, nil
	}

	r := []rune(text)
	n := len(r)
	pieces := make([]Piece, 0, n/(chunkSize-overlap)+1)

	start := 0
	for start < n {
		end := start + chunkSize
		if end >= n {
			end = n
		} else if brk := lastBreak(r, start, end); brk > start+chunkSize/2 && brk+1-overlap > start {
			// a snap that would not move the next window forward is skipped
			end = brk + 1
		}

		content := strings.TrimSpace(string(r[start:end]))
		if content != "" {
			idx := len(pieces)
			pieces = append(pieces, Piece{
				Index:      idx,
				Content:    content,
				PageNumber: pageHint(content, idx),
				Section:    sectionHint(content),
			})
		}

		if end == n {
			break
		}
		start = end - overlap
	}

	return pieces, nil
}

// lastBreak returns the position of the last '.' or '\n' in r[start:end], or -1.
func lastBreak(r []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if r[i] == '.' || r[i] == '\n' {
			return i
		}
	}
	return -1
}

func pageHint(content string, index int) *int {
	if m := pageMarker.FindStringSubmatch(content); m != nil {
		if p, err := strconv.Atoi(m[1]); err == nil && p > 0 {
			return &p
		}
	}
	if last := lastLine(content); bareNumberLine.MatchString(last) {
		if p, err := strconv.Atoi(last); err == nil && p > 0 {
			return &p
		}
	}
	p := index/pagesPerChunkGuess + 1
	return &p
}

// lastLine returns the final non-empty line, trimmed.
func lastLine(content string) string {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func sectionHint(content string) *string {
	scanned := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isCapsHeading(line) || numberedHead.MatchString(line) {
			return &line
		}
		scanned++
		if scanned == sectionScanLines {
			break
		}
	}
	return nil
}

func isCapsHeading(line string) bool {
	n := len([]rune(line))
	if n < minSectionLen || n > maxSectionLen {
		return false
	}
	letters := 0
	for _, c := range line {
		if unicode.IsLower(c) {
			return false
		}
		if unicode.IsLetter(c) {
			letters++
		}
	}
	return letters >= 3
}
