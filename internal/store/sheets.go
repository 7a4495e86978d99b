package store

import (
	"context"
	"fmt"

	"google.golang.org/api/sheets/v4"
	"k8s.io/klog/v2"
)

// SheetsStore is the tabular store adapter: range reads for outline
// extraction, range writes for status tracking.
type SheetsStore struct {
	svc *sheets.Service
}

func NewSheetsStore(ctx context.Context, credentials string) (*SheetsStore, error) {
	svc, err := sheets.NewService(ctx, ClientOptions(credentials)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &SheetsStore{svc: svc}, nil
}

// ReadRange fetches a rectangular range as strings. Cells come back as
// loosely typed values; everything is flattened through fmt.Sprint.
func (s *SheetsStore) ReadRange(ctx context.Context, spreadsheetID, readRange string) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read range %q: %w", readRange, err)
	}

	grid := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, 0, len(row))
		for _, v := range row {
			cells = append(cells, fmt.Sprint(v))
		}
		grid = append(grid, cells)
	}
	klog.V(6).Infof("[SheetsStore.ReadRange] range=%s, rows=%d", readRange, len(grid))
	return grid, nil
}

// WriteRange updates a range with user-entered semantics so formulas and
// dates behave as if typed.
func (s *SheetsStore) WriteRange(ctx context.Context, spreadsheetID, writeRange string, values [][]any) error {
	_, err := s.svc.Spreadsheets.Values.Update(spreadsheetID, writeRange, &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write range %q: %w", writeRange, err)
	}
	klog.V(6).Infof("[SheetsStore.WriteRange] range=%s updated", writeRange)
	return nil
}

// ListSheets returns all sheet tab titles in spreadsheet order.
func (s *SheetsStore) ListSheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	resp, err := s.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}

	titles := make([]string, 0, len(resp.Sheets))
	for _, sh := range resp.Sheets {
		if sh.Properties != nil {
			titles = append(titles, sh.Properties.Title)
		}
	}
	return titles, nil
}

// SpreadsheetTitle returns the spreadsheet's own title, used to derive the
// monthly output folder name.
func (s *SheetsStore) SpreadsheetTitle(ctx context.Context, spreadsheetID string) (string, error) {
	resp, err := s.svc.Spreadsheets.Get(spreadsheetID).Fields("properties.title").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get spreadsheet title: %w", err)
	}
	if resp.Properties == nil {
		return "", nil
	}
	return resp.Properties.Title, nil
}
