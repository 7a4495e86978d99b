package assembler

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"k8s.io/klog/v2"

	"github.com/articleforge/backend/internal/markdown"
)

// Op is one primitive mutation against the document's index-addressed
// content model. The concrete type carries the payload.
type Op interface {
	isOp()
}

type InsertText struct {
	Index int64
	Text  string
}

type SetParagraphStyle struct {
	Start int64
	End   int64
	Style string // NamedStyleType, e.g. HEADING_2
}

type InsertTable struct {
	Index int64
	Rows  int
	Cols  int
}

type InsertInlineImage struct {
	Index    int64
	URI      string
	WidthPt  float64
	HeightPt float64
}

type DeleteRange struct {
	Start int64
	End   int64
}

func (InsertText) isOp()        {}
func (SetParagraphStyle) isOp() {}
func (InsertTable) isOp()       {}
func (InsertInlineImage) isOp() {}
func (DeleteRange) isOp()       {}

// Plan is the ordered op log for the initial document fill. Ops are only
// valid against the document state at time of application; replaying a
// subset or reordering them breaks the index arithmetic.
type Plan struct {
	Ops        []Op
	Cursor     int64
	TableCount int
}

// Document body text starts at index 1.
const firstWritableIndex = 1

// Assembler converts parsed blocks into insertion ops. With DeferTables set,
// table blocks become placeholder paragraphs resolved later against the live
// document; otherwise tables are re-serialized as Markdown text, which is
// always index-correct.
type Assembler struct {
	DeferTables bool
}

func New(deferTables bool) *Assembler {
	return &Assembler{DeferTables: deferTables}
}

// Assemble walks the block sequence once, maintaining a single monotonically
// advancing cursor. Text insertions advance the cursor by the UTF-16 length
// of the inserted text (the document store's index unit); style ops advance
// nothing.
func (a *Assembler) Assemble(blocks []markdown.Block) (*Plan, error) {
	plan := &Plan{Cursor: firstWritableIndex}

	for _, b := range blocks {
		switch b.Kind {
		case markdown.KindHeading:
			a.appendHeading(plan, b)
		case markdown.KindTable:
			plan.TableCount++
			if a.DeferTables {
				a.appendText(plan, Placeholder(plan.TableCount)+"\n")
			} else {
				a.appendText(plan, renderTable(b.Rows))
			}
		case markdown.KindParagraph:
			a.appendText(plan, b.Text+"\n")
		case markdown.KindBlank:
			a.appendText(plan, "\n")
		}
	}

	klog.V(6).Infof("[Assembler.Assemble] plan built: ops=%d, cursor=%d, tables=%d",
		len(plan.Ops), plan.Cursor, plan.TableCount)
	return plan, nil
}

// appendHeading inserts the heading text and styles exactly the text range,
// excluding the trailing newline.
func (a *Assembler) appendHeading(plan *Plan, b markdown.Block) {
	textLen := utf16Len(b.Text)
	plan.Ops = append(plan.Ops,
		InsertText{Index: plan.Cursor, Text: b.Text + "\n"},
		SetParagraphStyle{
			Start: plan.Cursor,
			End:   plan.Cursor + textLen,
			Style: fmt.Sprintf("HEADING_%d", b.Level),
		},
	)
	plan.Cursor += textLen + 1
}

func (a *Assembler) appendText(plan *Plan, text string) {
	plan.Ops = append(plan.Ops, InsertText{Index: plan.Cursor, Text: text})
	plan.Cursor += utf16Len(text)
}

// Placeholder is the marker paragraph written where the n-th table (1-based)
// will later be materialized.
func Placeholder(n int) string {
	return fmt.Sprintf("[[TABLE_PLACEHOLDER_%d]]", n)
}

// renderTable serializes table rows back to Markdown, restoring the
// separator row after the header.
func renderTable(rows [][]string) string {
	var sb strings.Builder
	for i, row := range rows {
		sb.WriteString("| ")
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteString(" |\n")
		if i == 0 {
			sb.WriteString("|")
			sb.WriteString(strings.Repeat(" --- |", len(row)))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func utf16Len(s string) int64 {
	return int64(len(utf16.Encode([]rune(s))))
}
