package store

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/docs/v1"
	"google.golang.org/api/drive/v3"
	"k8s.io/klog/v2"

	"github.com/articleforge/backend/internal/assembler"
)

const docMimeType = "application/vnd.google-apps.document"

// DocsStore is the document store adapter. It owns the mapping between
// assembler ops and the wire-level batch requests, plus the multi-round
// placeholder resolution protocol that needs live document reads.
type DocsStore struct {
	docs  *docs.Service
	drive *drive.Service
}

func NewDocsStore(ctx context.Context, credentials string) (*DocsStore, error) {
	opts := ClientOptions(credentials)
	docsSvc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create docs client: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return &DocsStore{docs: docsSvc, drive: driveSvc}, nil
}

// CreateDocument creates an empty document inside the target folder and
// returns its ID and edit URL.
func (s *DocsStore) CreateDocument(ctx context.Context, title, folderID string) (string, string, error) {
	meta := &drive.File{
		Name:     title,
		MimeType: docMimeType,
	}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}

	f, err := s.drive.Files.Create(meta).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("create document %q: %w", title, err)
	}

	url := fmt.Sprintf("https://docs.google.com/document/d/%s/edit", f.Id)
	klog.V(6).Infof("[DocsStore.CreateDocument] created: title=%q, id=%s", title, f.Id)
	return f.Id, url, nil
}

// Apply sends assembler ops as one batch update, preserving order.
func (s *DocsStore) Apply(ctx context.Context, documentID string, ops []assembler.Op) error {
	if len(ops) == 0 {
		return nil
	}

	requests := make([]*docs.Request, 0, len(ops))
	for _, op := range ops {
		requests = append(requests, toRequest(op))
	}

	_, err := s.docs.Documents.BatchUpdate(documentID, &docs.BatchUpdateDocumentRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("batch update (%d ops): %w", len(ops), err)
	}
	klog.V(6).Infof("[DocsStore.Apply] applied: docID=%s, ops=%d", documentID, len(ops))
	return nil
}

func toRequest(op assembler.Op) *docs.Request {
	switch o := op.(type) {
	case assembler.InsertText:
		return &docs.Request{InsertText: &docs.InsertTextRequest{
			Location: &docs.Location{Index: o.Index},
			Text:     o.Text,
		}}
	case assembler.SetParagraphStyle:
		return &docs.Request{UpdateParagraphStyle: &docs.UpdateParagraphStyleRequest{
			Range:          &docs.Range{StartIndex: o.Start, EndIndex: o.End},
			ParagraphStyle: &docs.ParagraphStyle{NamedStyleType: o.Style},
			Fields:         "namedStyleType",
		}}
	case assembler.InsertTable:
		return &docs.Request{InsertTable: &docs.InsertTableRequest{
			Location: &docs.Location{Index: o.Index},
			Rows:     int64(o.Rows),
			Columns:  int64(o.Cols),
		}}
	case assembler.InsertInlineImage:
		return &docs.Request{InsertInlineImage: &docs.InsertInlineImageRequest{
			Location: &docs.Location{Index: o.Index},
			Uri:      o.URI,
			ObjectSize: &docs.Size{
				Width:  &docs.Dimension{Magnitude: o.WidthPt, Unit: "PT"},
				Height: &docs.Dimension{Magnitude: o.HeightPt, Unit: "PT"},
			},
		}}
	case assembler.DeleteRange:
		return &docs.Request{DeleteContentRange: &docs.DeleteContentRangeRequest{
			Range: &docs.Range{StartIndex: o.Start, EndIndex: o.End},
		}}
	default:
		return &docs.Request{}
	}
}

// GetView snapshots the document structure: paragraph texts with style and
// range, tables with per-cell start indexes.
func (s *DocsStore) GetView(ctx context.Context, documentID string) (*assembler.DocView, error) {
	doc, err := s.docs.Documents.Get(documentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	view := &assembler.DocView{}
	if doc.Body == nil {
		return view, nil
	}

	for _, se := range doc.Body.Content {
		switch {
		case se.Paragraph != nil:
			var sb strings.Builder
			for _, el := range se.Paragraph.Elements {
				if el.TextRun != nil {
					sb.WriteString(el.TextRun.Content)
				}
			}
			style := ""
			if se.Paragraph.ParagraphStyle != nil {
				style = se.Paragraph.ParagraphStyle.NamedStyleType
			}
			view.Paragraphs = append(view.Paragraphs, assembler.ParagraphView{
				Start: se.StartIndex,
				End:   se.EndIndex,
				Text:  strings.TrimRight(sb.String(), "\n"),
				Style: style,
			})
		case se.Table != nil:
			tv := assembler.TableView{Start: se.StartIndex, End: se.EndIndex}
			for _, row := range se.Table.TableRows {
				var starts []int64
				for _, cell := range row.TableCells {
					starts = append(starts, cell.StartIndex)
				}
				tv.CellStarts = append(tv.CellStarts, starts)
			}
			view.Tables = append(view.Tables, tv)
		}
	}
	return view, nil
}

// ResolveTables materializes deferred tables against the live document,
// last placeholder first so earlier document regions keep their indexes.
// Each table needs two rounds: replace the placeholder with an empty table,
// re-read the document, then fill cells in reverse order.
func (s *DocsStore) ResolveTables(ctx context.Context, documentID string, tables [][][]string) error {
	for n := len(tables); n >= 1; n-- {
		rows := tables[n-1]

		view, err := s.GetView(ctx, documentID)
		if err != nil {
			return err
		}
		p, ok := assembler.FindPlaceholder(view, n)
		if !ok {
			klog.Warningf("[DocsStore.ResolveTables] placeholder %d not found: docID=%s", n, documentID)
			continue
		}

		if err := s.Apply(ctx, documentID, assembler.ReplacePlaceholderOps(p, rows)); err != nil {
			return fmt.Errorf("insert table %d: %w", n, err)
		}

		view, err = s.GetView(ctx, documentID)
		if err != nil {
			return err
		}
		table, ok := assembler.TableAt(view, p.Start)
		if !ok {
			klog.Warningf("[DocsStore.ResolveTables] inserted table %d not found: docID=%s", n, documentID)
			continue
		}
		if err := s.Apply(ctx, documentID, assembler.CellFillOps(table, rows)); err != nil {
			return fmt.Errorf("fill table %d: %w", n, err)
		}
	}
	return nil
}
