package assembler

import (
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/articleforge/backend/internal/markdown"
)

func TestAssembleHeadingStyleRange(t *testing.T) {
	blocks := markdown.Parse("## 見出しテキスト\n本文。")
	plan, err := New(false).Assemble(blocks)
	require.NoError(t, err)

	require.Len(t, plan.Ops, 3)
	ins, ok := plan.Ops[0].(InsertText)
	require.True(t, ok)
	assert.Equal(t, int64(1), ins.Index)
	assert.Equal(t, "見出しテキスト\n", ins.Text)

	style, ok := plan.Ops[1].(SetParagraphStyle)
	require.True(t, ok)
	assert.Equal(t, "HEADING_2", style.Style)
	// style range covers exactly the heading text, not the newline
	assert.Equal(t, int64(1), style.Start)
	assert.Equal(t, int64(1+len(utf16.Encode([]rune("見出しテキスト")))), style.End)
}

func TestAssembleCursorMonotonic(t *testing.T) {
	text := "## 見出し\n段落一。\n\n| a | b |\n| - | - |\n| 1 | 2 |\n最後の段落。"
	plan, err := New(false).Assemble(markdown.Parse(text))
	require.NoError(t, err)

	var cursor int64 = 1
	var inserted int64
	for _, op := range plan.Ops {
		switch o := op.(type) {
		case InsertText:
			assert.GreaterOrEqual(t, o.Index, cursor)
			cursor = o.Index
			inserted += int64(len(utf16.Encode([]rune(o.Text))))
		case SetParagraphStyle:
			assert.GreaterOrEqual(t, o.Start, int64(1))
		}
	}
	// final cursor equals first writable index plus total inserted length
	assert.Equal(t, int64(1)+inserted, plan.Cursor)
	assert.Equal(t, 1, plan.TableCount)
}

func TestAssembleDeferredTables(t *testing.T) {
	text := "| a | b |\n| - | - |\n| 1 | 2 |\n\n| c |\n| - |\n| 3 |"
	plan, err := New(true).Assemble(markdown.Parse(text))
	require.NoError(t, err)

	assert.Equal(t, 2, plan.TableCount)
	var placeholders []string
	for _, op := range plan.Ops {
		if ins, ok := op.(InsertText); ok {
			placeholders = append(placeholders, ins.Text)
		}
	}
	assert.Contains(t, placeholders, Placeholder(1)+"\n")
	assert.Contains(t, placeholders, Placeholder(2)+"\n")
}

func TestAssembleInlineTableRendering(t *testing.T) {
	plan, err := New(false).Assemble([]markdown.Block{
		{Kind: markdown.KindTable, Rows: [][]string{{"項目", "値"}, {"A", "1"}}},
	})
	require.NoError(t, err)

	require.Len(t, plan.Ops, 1)
	ins := plan.Ops[0].(InsertText)
	assert.Equal(t, "| 項目 | 値 |\n| --- | --- |\n| A | 1 |\n", ins.Text)
	// round-trip: the rendered text parses back to the same rows
	parsed := markdown.Parse(ins.Text)
	require.Len(t, parsed, 2) // table + trailing blank from final newline
	assert.Equal(t, [][]string{{"項目", "値"}, {"A", "1"}}, parsed[0].Rows)
}

func TestCellFillOpsReverseOrder(t *testing.T) {
	table := TableView{
		Start: 10,
		CellStarts: [][]int64{
			{12, 15},
			{20, 23},
		},
	}
	rows := [][]string{{"a", "b"}, {"c", "d"}}

	ops := CellFillOps(table, rows)
	require.Len(t, ops, 4)

	var prev int64 = 1 << 60
	for _, op := range ops {
		ins := op.(InsertText)
		assert.Less(t, ins.Index, prev)
		prev = ins.Index
	}
	// last op fills the first cell, one index past the cell start
	first := ops[3].(InsertText)
	assert.Equal(t, int64(13), first.Index)
	assert.Equal(t, "a", first.Text)
}

func TestReplacePlaceholderOps(t *testing.T) {
	p := ParagraphView{Start: 40, End: 62, Text: Placeholder(2)}
	ops := ReplacePlaceholderOps(p, [][]string{{"a", "b", "c"}, {"1", "2", "3"}})

	require.Len(t, ops, 2)
	del := ops[0].(DeleteRange)
	assert.Equal(t, int64(40), del.Start)
	assert.Equal(t, int64(62), del.End)
	ins := ops[1].(InsertTable)
	assert.Equal(t, int64(40), ins.Index)
	assert.Equal(t, 2, ins.Rows)
	assert.Equal(t, 3, ins.Cols)
}

func TestReplacePlaceholderOpsRaggedRowsUseWidestRow(t *testing.T) {
	p := ParagraphView{Start: 40, End: 62, Text: Placeholder(0)}
	ops := ReplacePlaceholderOps(p, [][]string{{"a"}, {"1", "2", "3"}, {"x", "y"}})

	require.Len(t, ops, 2)
	ins := ops[1].(InsertTable)
	assert.Equal(t, 3, ins.Rows)
	assert.Equal(t, 3, ins.Cols)
}

func TestImageOpsDescendingStable(t *testing.T) {
	ops := ImageOps([]ImagePlacement{
		{Index: 100, URI: "lib-1"},
		{Index: 300, URI: "gen-3"},
		{Index: 300, URI: "lib-3"},
		{Index: 200, URI: "lib-2"},
	})

	require.Len(t, ops, 4)
	uris := make([]string, len(ops))
	for i, op := range ops {
		uris[i] = op.(InsertInlineImage).URI
	}
	// descending by index, slice order preserved for the shared index
	assert.Equal(t, []string{"gen-3", "lib-3", "lib-2", "lib-1"}, uris)
}

func TestFindPlaceholderAndHeadingEnd(t *testing.T) {
	doc := &DocView{
		Paragraphs: []ParagraphView{
			{Start: 1, End: 10, Text: "まとめ", Style: "HEADING_2"},
			{Start: 10, End: 33, Text: Placeholder(1), Style: "NORMAL_TEXT"},
		},
	}

	p, ok := FindPlaceholder(doc, 1)
	require.True(t, ok)
	assert.Equal(t, int64(10), p.Start)

	_, ok = FindPlaceholder(doc, 2)
	assert.False(t, ok)

	end, ok := HeadingEnd(doc, "まとめ")
	require.True(t, ok)
	assert.Equal(t, int64(10), end)

	_, ok = HeadingEnd(doc, "存在しない見出し")
	assert.False(t, ok)
}
