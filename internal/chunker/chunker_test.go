package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyText(t *testing.T) {
	pieces, err := Chunk("", DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	assert.Empty(t, pieces)
}

func TestChunkRejectsInvalidWindow(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"negative overlap", 100, -1},
		{"zero size", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunk("some text", tt.size, tt.overlap)
			assert.Error(t, err)
		})
	}
}

func TestChunkShortTextIsSingleChunk(t *testing.T) {
	pieces, err := Chunk("  Engine fire checklist.  ", 1000, 200)
	require.NoError(t, err)
	require.Len(t, pieces, 1)
	assert.Equal(t, "Engine fire checklist.", pieces[0].Content)
	assert.Equal(t, 0, pieces[0].Index)
}

func TestChunkSnapsToSentenceBoundary(t *testing.T) {
	text := strings.Repeat("a", 60) + ". " + strings.Repeat("b", 60)

	pieces, err := Chunk(text, 100, 10)
	require.NoError(t, err)
	require.Len(t, pieces, 2)

	assert.Equal(t, strings.Repeat("a", 60)+".", pieces[0].Content)
	assert.True(t, strings.HasSuffix(pieces[1].Content, strings.Repeat("b", 60)))
	assert.True(t, strings.HasPrefix(pieces[1].Content, strings.Repeat("a", 9)+"."))
}

func TestChunkIgnoresBreakBeforeMidpoint(t *testing.T) {
	text := "aaaa." + strings.Repeat("c", 200)

	pieces, err := Chunk(text, 100, 0)
	require.NoError(t, err)
	require.NotEmpty(t, pieces)
	assert.Len(t, []rune(pieces[0].Content), 100)
}

func TestChunkContentsComeFromSource(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("Check the fuel crossfeed valve position. ")
		if i%7 == 0 {
			b.WriteString("\n")
		}
	}
	text := b.String()

	pieces, err := Chunk(text, 300, 50)
	require.NoError(t, err)
	require.NotEmpty(t, pieces)

	for i, p := range pieces {
		assert.Equal(t, i, p.Index, "indices must be contiguous")
		assert.NotEmpty(t, p.Content)
		assert.LessOrEqual(t, len([]rune(p.Content)), 300)
		assert.Contains(t, text, p.Content)
	}
}

func TestChunkCoversWholeText(t *testing.T) {
	text := strings.Repeat("x", 2500)

	pieces, err := Chunk(text, 1000, 200)
	require.NoError(t, err)
	// windows start at 0, 800, 1600; the last reaches the end
	require.Len(t, pieces, 3)
	assert.True(t, strings.HasSuffix(text, pieces[2].Content))

	var rebuilt strings.Builder
	rebuilt.WriteString(pieces[0].Content)
	for _, p := range pieces[1:] {
		rebuilt.WriteString(p.Content[200:])
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestChunkLargeOverlapKeepsTail(t *testing.T) {
	// the only terminator sits just past the midpoint, where snapping would
	// leave the next window starting before the current one
	text := strings.Repeat("a", 55) + "." + strings.Repeat("b", 200) + "TAILMARKER"

	pieces, err := Chunk(text, 100, 80)
	require.NoError(t, err)
	require.NotEmpty(t, pieces)
	assert.True(t, strings.HasSuffix(pieces[len(pieces)-1].Content, "TAILMARKER"))
	for i, p := range pieces {
		assert.Equal(t, i, p.Index)
		assert.Contains(t, text, p.Content)
	}
}

func TestChunkIsDeterministic(t *testing.T) {
	text := strings.Repeat("The APU bleed valve closes automatically.\n", 120)

	a, err := Chunk(text, 400, 80)
	require.NoError(t, err)
	b, err := Chunk(text, 400, 80)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunkMultibyteRunes(t *testing.T) {
	text := strings.Repeat("é", 250)

	pieces, err := Chunk(text, 100, 20)
	require.NoError(t, err)
	for _, p := range pieces {
		assert.Contains(t, text, p.Content)
		assert.LessOrEqual(t, len([]rune(p.Content)), 100)
	}
}

func TestPageHint(t *testing.T) {
	tests := []struct {
		name    string
		content string
		index   int
		want    int
	}{
		{"explicit marker", "ENGINE FIRE\nSee Page 12 for details", 0, 12},
		{"marker is case insensitive", "continued on PAGE 7", 3, 7},
		{"trailing bare integer", "Land at nearest airport.\n 42 \n", 0, 42},
		{"numbered steps are not pages", "1\nSet the fire switch.\n2\nDischarge agent 1", 0, 1},
		{"bare integer must be last line", "Checklist\n3\nThrust levers idle", 10, 3},
		{"fallback first pages", "no numbers here", 4, 1},
		{"fallback later pages", "no numbers here", 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pageHint(tt.content, tt.index)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestSectionHint(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"caps heading", "ENGINE FIRE ON GROUND\nThrust levers idle.", "ENGINE FIRE ON GROUND"},
		{"numbered heading", "3.2.1 Electrical Emergency Configuration\nRAT extends.", "3.2.1 Electrical Emergency Configuration"},
		{"caps after a blank line", "\n\nDUAL BLEED FAULT\ntext", "DUAL BLEED FAULT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sectionHint(tt.content)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestSectionHintAbsent(t *testing.T) {
	assert.Nil(t, sectionHint("The aircraft shall be configured for landing."))
	assert.Nil(t, sectionHint("APU\nshort caps line is too short"))
	assert.Nil(t, sectionHint(strings.Repeat("A", 60)))
	assert.Nil(t, sectionHint("first line\nsecond line\nthird line\nLATE CAPS HEADING"))
}
