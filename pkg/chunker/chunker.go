package chunker

import (
	"regexp"
	"strings"
)

// Config 切分参数
type Config struct {
	TargetChars  int `toml:"target_chars"`
	MaxChars     int `toml:"max_chars"`
	OverlapChars int `toml:"overlap_chars"`
}

func DefaultConfig() Config {
	return Config{
		TargetChars:  1200,
		MaxChars:     2400,
		OverlapChars: 200,
	}
}

// Chunk 切分结果，offset 相对整篇文档
type Chunk struct {
	TitlePath   []string
	OffsetStart int
	OffsetEnd   int
	Text        string
}

var (
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*$`)
	trailWSRe    = regexp.MustCompile(`[ \t]+\n`)
	multiBlankRe = regexp.MustCompile(`\n{3,}`)
)

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailWSRe.ReplaceAllString(text, "\n")
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

type section struct {
	titlePath []string
	text      string
}

// markdownSections splits md by heading lines, maintaining a title
// stack so each section carries its heading ancestry.
func markdownSections(md string) []section {
	var (
		sections     []section
		titlePath    []string
		buf          []string
		currentLevel = -1
	)

	flush := func() {
		if len(buf) == 0 {
			return
		}
		content := normalizeWhitespace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if content == "" {
			return
		}
		path := make([]string, len(titlePath))
		copy(path, titlePath)
		sections = append(sections, section{titlePath: path, text: content})
	}

	for _, line := range strings.Split(md, "\n") {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			buf = append(buf, line)
			continue
		}
		flush()
		level := len(m[1])
		title := strings.TrimSpace(m[2])
		if currentLevel == -1 {
			titlePath = []string{title}
		} else {
			keep := level - 1
			if keep < 0 {
				keep = 0
			}
			if keep > len(titlePath) {
				keep = len(titlePath)
			}
			titlePath = append(titlePath[:keep], title)
		}
		currentLevel = level
	}
	flush()
	return sections
}

func plainSections(text string) []section {
	cleaned := normalizeWhitespace(text)
	if cleaned == "" {
		return nil
	}
	return []section{{text: cleaned}}
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type span struct {
	start int
	end   int
	text  string
}

// slidingSpans cuts text into overlapping windows, preferring a
// paragraph boundary when one falls past 60% of the target size.
func slidingSpans(text string, cfg Config) []span {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	n := len(text)
	if n <= cfg.MaxChars {
		return []span{{0, n, text}}
	}

	var spans []span
	start := 0
	for start < n {
		end := min(start+cfg.TargetChars, n)
		hardEnd := min(start+cfg.MaxChars, n)

		if candidate := strings.LastIndex(text[start:hardEnd], "\n\n"); candidate != -1 && candidate > int(float64(cfg.TargetChars)*0.6) {
			end = start + candidate
		} else {
			end = hardEnd
		}

		if chunkText := strings.TrimSpace(text[start:end]); chunkText != "" {
			spans = append(spans, span{start, end, chunkText})
		}

		if end >= n {
			break
		}
		start = max(0, end-cfg.OverlapChars)
	}
	return spans
}

// sectionSpans packs paragraphs up to the target size with overlap.
// If packing still yields an oversized chunk it falls back to sliding
// windows over the whole section.
func sectionSpans(sectionText string, cfg Config) []span {
	paragraphs := splitParagraphs(sectionText)
	if len(paragraphs) == 0 {
		return nil
	}

	if len(sectionText) <= cfg.MaxChars {
		return []span{{0, len(sectionText), sectionText}}
	}

	var (
		produced []span
		buf      []string
		bufLen   int
		offset   int
	)
	for _, p := range paragraphs {
		pLen := len(p) + 2
		if len(buf) > 0 && bufLen+pLen > cfg.TargetChars {
			chunkText := strings.TrimSpace(strings.Join(buf, "\n\n"))
			if chunkText != "" {
				produced = append(produced, span{offset, offset + len(chunkText), chunkText})
			}
			offset = max(0, offset+len(chunkText)-cfg.OverlapChars)
			buf = buf[:0]
			bufLen = 0
		}
		buf = append(buf, p)
		bufLen += pLen
	}
	if tail := strings.TrimSpace(strings.Join(buf, "\n\n")); tail != "" {
		produced = append(produced, span{offset, offset + len(tail), tail})
	}

	for _, c := range produced {
		if len(c.text) > cfg.MaxChars {
			return slidingSpans(sectionText, cfg)
		}
	}
	return produced
}

// Split chunks content. Markdown content keeps heading title paths,
// anything else is treated as one flat section.
func Split(content string, isMarkdown bool, cfg Config) []Chunk {
	var sections []section
	if isMarkdown {
		sections = markdownSections(content)
	} else {
		sections = plainSections(content)
	}

	var (
		chunks     []Chunk
		offsetBase int
	)
	for _, sec := range sections {
		for _, sp := range sectionSpans(sec.text, cfg) {
			chunks = append(chunks, Chunk{
				TitlePath:   sec.titlePath,
				OffsetStart: offsetBase + sp.start,
				OffsetEnd:   offsetBase + sp.end,
				Text:        sp.text,
			})
		}
		offsetBase += len(sec.text) + 2
	}
	return chunks
}
