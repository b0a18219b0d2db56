package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMarkdownTitlePath(t *testing.T) {
	md := strings.Join([]string{
		"# Guide",
		"intro paragraph",
		"## Install",
		"install steps",
		"### Linux",
		"apt install",
		"## Usage",
		"run the binary",
	}, "\n")

	chunks := Split(md, true, DefaultConfig())
	require.Len(t, chunks, 4)

	assert.Equal(t, []string{"Guide"}, chunks[0].TitlePath)
	assert.Equal(t, []string{"Guide", "Install"}, chunks[1].TitlePath)
	assert.Equal(t, []string{"Guide", "Install", "Linux"}, chunks[2].TitlePath)
	// sibling heading pops the deeper level
	assert.Equal(t, []string{"Guide", "Usage"}, chunks[3].TitlePath)
	assert.Equal(t, "run the binary", chunks[3].Text)
}

func TestSplitDeterministic(t *testing.T) {
	content := strings.Repeat("some paragraph with enough words to matter\n\n", 200)
	a := Split(content, false, DefaultConfig())
	b := Split(content, false, DefaultConfig())
	require.Equal(t, a, b)
	require.NotEmpty(t, a)
}

func TestSplitRespectsMaxChars(t *testing.T) {
	cfg := Config{TargetChars: 100, MaxChars: 200, OverlapChars: 20}
	content := strings.Repeat("abcdefghij", 100) // no paragraph breaks at all
	chunks := Split(content, false, cfg)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), cfg.MaxChars)
	}
}

func TestSplitSmallSectionSingleChunk(t *testing.T) {
	chunks := Split("just a short note", false, DefaultConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].OffsetStart)
	assert.Equal(t, len("just a short note"), chunks[0].OffsetEnd)
}

func TestSplitEmptyContent(t *testing.T) {
	assert.Empty(t, Split("", false, DefaultConfig()))
	assert.Empty(t, Split("\n\n  \n", true, DefaultConfig()))
}

func TestParagraphPackingOverlap(t *testing.T) {
	cfg := Config{TargetChars: 120, MaxChars: 240, OverlapChars: 30}
	var paras []string
	for i := 0; i < 12; i++ {
		paras = append(paras, strings.Repeat("word ", 10))
	}
	content := strings.Join(paras, "\n\n")

	chunks := Split(content, false, cfg)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		// offsets advance but successive chunks overlap by the configured window
		assert.Greater(t, chunks[i].OffsetStart, chunks[i-1].OffsetStart)
	}
}
