package markdown

import (
	"strings"
)

// BlockKind tags the variants of Block.
type BlockKind int

const (
	KindHeading BlockKind = iota
	KindParagraph
	KindTable
	KindBlank
)

// Block is one structural element of the generated article. Exactly one of
// the payload fields is meaningful for a given Kind.
type Block struct {
	Kind  BlockKind
	Level int        // KindHeading: 1..4
	Text  string     // KindHeading / KindParagraph
	Rows  [][]string // KindTable, separator row already dropped
}

// Parse splits Markdown text into a flat block sequence in a single forward
// pass. Each non-table source line yields exactly one block, so the assembler
// can reproduce the original line layout.
func Parse(text string) []Block {
	lines := strings.Split(text, "\n")
	var blocks []Block

	for i := 0; i < len(lines); {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		if isTableLine(trimmed) {
			var rows [][]string
			for i < len(lines) && isTableLine(strings.TrimSpace(lines[i])) {
				if cells, ok := parseTableRow(strings.TrimSpace(lines[i])); ok {
					rows = append(rows, cells)
				}
				i++
			}
			if len(rows) > 0 {
				blocks = append(blocks, Block{Kind: KindTable, Rows: rows})
			}
			continue
		}

		switch {
		case trimmed == "":
			blocks = append(blocks, Block{Kind: KindBlank})
		case isHeadingLine(trimmed):
			level, body := splitHeading(trimmed)
			blocks = append(blocks, Block{Kind: KindHeading, Level: level, Text: body})
		default:
			blocks = append(blocks, Block{Kind: KindParagraph, Text: line})
		}
		i++
	}

	return blocks
}

// ExtractTables returns every table's rows in document order.
func ExtractTables(blocks []Block) [][][]string {
	var tables [][][]string
	for _, b := range blocks {
		if b.Kind == KindTable {
			tables = append(tables, b.Rows)
		}
	}
	return tables
}

// isTableLine reports whether a trimmed line belongs to a Markdown table.
func isTableLine(trimmed string) bool {
	return len(trimmed) >= 2 && strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|")
}

// parseTableRow splits a table line into cells. Separator rows (cells made of
// dashes and colons only) are recognized but not emitted.
func parseTableRow(trimmed string) ([]string, bool) {
	inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "|"), "|")
	parts := strings.Split(inner, "|")
	cells := make([]string, 0, len(parts))
	separator := true
	for _, p := range parts {
		cell := strings.TrimSpace(p)
		if cell == "" || strings.Trim(cell, "-:") != "" {
			separator = false
		}
		cells = append(cells, cell)
	}
	if separator && len(cells) > 0 {
		return nil, false
	}
	return cells, true
}

func isHeadingLine(trimmed string) bool {
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	hashes := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
	return hashes >= 1 && hashes <= 4
}

func splitHeading(trimmed string) (int, string) {
	body := strings.TrimLeft(trimmed, "#")
	level := len(trimmed) - len(body)
	return level, strings.TrimSpace(body)
}
