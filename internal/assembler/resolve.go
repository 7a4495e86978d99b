package assembler

import (
	"sort"
	"strings"
)

// DocView is a read-only structural snapshot of the live document, produced
// by the document store. Paragraph and table positions are only valid until
// the next mutation.
type DocView struct {
	Paragraphs []ParagraphView
	Tables     []TableView
}

type ParagraphView struct {
	Start int64
	End   int64
	Text  string // trailing newline stripped
	Style string // NamedStyleType
}

// TableView records where a table sits and where each cell's text range
// begins, in row-major order.
type TableView struct {
	Start      int64
	End        int64
	CellStarts [][]int64
}

// FindPlaceholder locates the paragraph holding the n-th table placeholder.
func FindPlaceholder(doc *DocView, n int) (ParagraphView, bool) {
	marker := Placeholder(n)
	for _, p := range doc.Paragraphs {
		if strings.Contains(p.Text, marker) {
			return p, true
		}
	}
	return ParagraphView{}, false
}

// ReplacePlaceholderOps deletes the placeholder paragraph and inserts an
// empty table of the given shape at its position. Cell contents cannot be
// written in the same batch: the insertion shifts every index, so the caller
// must re-read the document and then apply CellFillOps.
func ReplacePlaceholderOps(p ParagraphView, rows [][]string) []Op {
	// size the table to the widest row; ragged rows pad with empty cells
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	return []Op{
		DeleteRange{Start: p.Start, End: p.End},
		InsertTable{Index: p.Start, Rows: len(rows), Cols: cols},
	}
}

// TableAt returns the table whose range starts at or after index, closest
// first. Used to find the table just materialized at a placeholder position.
func TableAt(doc *DocView, index int64) (TableView, bool) {
	best := TableView{Start: -1}
	for _, t := range doc.Tables {
		if t.Start >= index && (best.Start == -1 || t.Start < best.Start) {
			best = t
		}
	}
	return best, best.Start != -1
}

// CellFillOps writes cell texts into a freshly inserted table. Fills are
// emitted in reverse row and column order so that each insertion never
// shifts a cell index that a later op still depends on.
func CellFillOps(table TableView, rows [][]string) []Op {
	var ops []Op
	for r := len(rows) - 1; r >= 0; r-- {
		if r >= len(table.CellStarts) {
			continue
		}
		starts := table.CellStarts[r]
		for c := len(rows[r]) - 1; c >= 0; c-- {
			if c >= len(starts) || rows[r][c] == "" {
				continue
			}
			// cell text range starts one index past the cell start
			ops = append(ops, InsertText{Index: starts[c] + 1, Text: rows[r][c]})
		}
	}
	return ops
}

// ImagePlacement is one inline image targeted at a resolved document index.
// Placements sharing an index are applied in slice order; a later insert at
// the same index lands above an earlier one.
type ImagePlacement struct {
	Index    int64
	URI      string
	WidthPt  float64
	HeightPt float64
}

// ImageOps orders image insertions by descending index so earlier ops never
// invalidate the indexes of later ones. The sort is stable to preserve the
// caller's stacking order within one section.
func ImageOps(placements []ImagePlacement) []Op {
	sorted := make([]ImagePlacement, len(placements))
	copy(sorted, placements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Index > sorted[j].Index
	})
	ops := make([]Op, 0, len(sorted))
	for _, p := range sorted {
		ops = append(ops, InsertInlineImage{
			Index:    p.Index,
			URI:      p.URI,
			WidthPt:  p.WidthPt,
			HeightPt: p.HeightPt,
		})
	}
	return ops
}

// HeadingEnd finds the paragraph styled as an H2 whose text matches the
// given heading and returns its end index, the insertion point for content
// directly below the heading.
func HeadingEnd(doc *DocView, heading string) (int64, bool) {
	want := strings.TrimSpace(heading)
	for _, p := range doc.Paragraphs {
		if p.Style == "HEADING_2" && strings.TrimSpace(p.Text) == want {
			return p.End, true
		}
	}
	return 0, false
}
