package segmenter

import (
	"strings"

	"github.com/auditgraph/auditgraph-backend/internal/domain"
)

// Segment is one semantically coherent chunk of a document, with a line
// range for traceability back to the source.
type Segment struct {
	Text         string
	SemanticType string
	Context      string
	SourceRef    domain.SourceReference
}

const (
	SemanticTableGroup = "table_group"
	SemanticTextBlock  = "text_block"
)

// groupingColumnCandidates is the ranked list matched (case-insensitive,
// substring) against header cells to find the column whose value change
// starts a new semantic unit.
var groupingColumnCandidates = []string{
	"process",
	"operation",
	"function",
	"procedure",
	"system",
	"component",
	"item",
}

// Segment splits raw content by document shape. Tabular shapes are parsed
// row-wise and grouped; narrative shapes fall back to paragraph blocks.
// The computation is stateless: recomputed per call.
func Split(content string, docType domain.DocumentType) []Segment {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if docType.Tabular() {
		if segs := splitTable(content); len(segs) > 0 {
			return segs
		}
		// Declared tabular but no delimiter found anywhere.
	}
	return splitParagraphs(content)
}

// splitParagraphs groups contiguous non-empty lines into text blocks.
func splitParagraphs(content string) []Segment {
	lines := strings.Split(content, "\n")
	var segs []Segment
	var block []string
	blockStart := 0

	flush := func(endLine int) {
		if len(block) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(block, "\n"))
		if text != "" {
			segs = append(segs, Segment{
				Text:         text,
				SemanticType: SemanticTextBlock,
				SourceRef: domain.SourceReference{
					Section:   "body",
					LineStart: blockStart + 1,
					LineEnd:   endLine,
				},
			})
		}
		block = nil
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i)
			continue
		}
		if len(block) == 0 {
			blockStart = i
		}
		block = append(block, line)
	}
	flush(len(lines))
	return segs
}

// splitTable parses delimiter-separated rows, detects a grouping column in
// the header, and emits one segment per run of rows sharing the grouping
// value. A blank row or a grouping value change starts a new segment. When
// no grouping column matches, each contiguous non-empty block of rows
// becomes one segment.
func splitTable(content string) []Segment {
	lines := strings.Split(content, "\n")

	delim := detectDelimiter(lines)
	if delim == 0 {
		return nil
	}

	headerIdx := -1
	var header []string
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		header = splitRow(line, delim)
		headerIdx = i
		break
	}
	if headerIdx < 0 {
		return nil
	}

	groupCol := detectGroupingColumn(header)

	type rowGroup struct {
		key       string
		rows      []string
		startLine int
		endLine   int
	}
	var groups []rowGroup
	var cur *rowGroup

	closeGroup := func() {
		if cur != nil && len(cur.rows) > 0 {
			groups = append(groups, *cur)
		}
		cur = nil
	}

	for i := headerIdx + 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			closeGroup()
			continue
		}
		cells := splitRow(line, delim)

		key := ""
		if groupCol >= 0 && groupCol < len(cells) {
			key = domain.NormalizeKey(cells[groupCol])
		}

		// Grouping disabled: keep appending within the contiguous block.
		startNew := cur == nil
		if !startNew && groupCol >= 0 && key != "" && key != cur.key {
			startNew = true
		}
		if startNew {
			closeGroup()
			cur = &rowGroup{key: key, startLine: i + 1}
		}
		cur.rows = append(cur.rows, renderRow(header, cells))
		cur.endLine = i + 1
	}
	closeGroup()

	segs := make([]Segment, 0, len(groups))
	for _, g := range groups {
		contextLabel := ""
		if groupCol >= 0 && g.key != "" {
			contextLabel = strings.TrimSpace(header[groupCol]) + ": " + g.key
		}
		segs = append(segs, Segment{
			Text:         strings.Join(g.rows, "\n"),
			SemanticType: SemanticTableGroup,
			Context:      contextLabel,
			SourceRef: domain.SourceReference{
				Section:   "table",
				LineStart: g.startLine,
				LineEnd:   g.endLine,
			},
		})
	}
	return segs
}

// renderRow flattens one row into "header: value" pairs so the extraction
// provider sees column meaning, not bare cells.
func renderRow(header []string, cells []string) string {
	parts := make([]string, 0, len(cells))
	for i, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if i < len(header) && strings.TrimSpace(header[i]) != "" {
			parts = append(parts, strings.TrimSpace(header[i])+": "+c)
		} else {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "; ")
}

// detectGroupingColumn matches header cells against the ranked candidate
// list. Returns -1 when nothing matches, which disables grouping.
func detectGroupingColumn(header []string) int {
	for _, cand := range groupingColumnCandidates {
		for i, h := range header {
			if strings.Contains(strings.ToLower(strings.TrimSpace(h)), cand) {
				return i
			}
		}
	}
	return -1
}

// detectDelimiter picks the separator that appears on a majority of
// non-empty lines. Zero means the content is not tabular.
func detectDelimiter(lines []string) rune {
	candidates := []rune{'\t', ',', ';', '|'}
	nonEmpty := 0
	counts := map[rune]int{}
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		nonEmpty++
		for _, d := range candidates {
			if strings.ContainsRune(line, d) {
				counts[d]++
			}
		}
	}
	if nonEmpty == 0 {
		return 0
	}
	for _, d := range candidates {
		if counts[d]*2 > nonEmpty {
			return d
		}
	}
	return 0
}

// splitRow splits one physical row on the delimiter, honoring quoted
// fields that contain the delimiter. Doubled quotes inside a quoted field
// unescape to a single quote.
func splitRow(line string, delim rune) []string {
	var cells []string
	var cur strings.Builder
	inQuotes := false
	runes := []rune(line)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				cur.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			cells = append(cells, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	cells = append(cells, cur.String())
	return cells
}
