package outline

import (
	"errors"
	"strings"

	"k8s.io/klog/v2"

	"github.com/articleforge/backend/internal/model"
)

// ErrAlreadyProcessed marks a sheet whose status row carries the done
// sentinel. Callers treat it as a skip, not a failure, but must log it
// distinctly from structurally incomplete sheets.
var ErrAlreadyProcessed = errors.New("sheet already processed")

const (
	titleRowIndex    = 1 // row 2: title and processing status
	keywordRowIndex  = 2 // row 3: main keyword
	headingsRowStart = 6 // row 7 onward: heading level tokens
	minTitleRunes    = 10
)

// keywordLabels are header cells that precede the actual keyword value.
var keywordLabels = []string{"メインKW", "キーワード"}

var levelTokens = map[string]model.HeadingLevel{
	"H1": model.LevelH1,
	"H2": model.LevelH2,
	"H3": model.LevelH3,
	"H4": model.LevelH4,
}

// Extractor turns a raw sheet grid into an Outline.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract scans a sheet grid for keyword, title and heading structure.
// A nil outline with nil error means the sheet has nothing usable; the done
// sentinel is reported through ErrAlreadyProcessed unless force is set.
// Extraction is deterministic and read-only, so a forced rerun over the same
// grid yields an identical outline.
func (e *Extractor) Extract(grid [][]string, force bool) (*model.Outline, error) {
	if len(grid) <= headingsRowStart {
		klog.V(6).Infof("[Extractor.Extract] grid too short: rows=%d", len(grid))
		return nil, nil
	}

	if !force && rowContains(grid[titleRowIndex], model.StatusDone) {
		return nil, ErrAlreadyProcessed
	}

	keyword := extractKeyword(grid[keywordRowIndex])
	title := extractTitle(grid[titleRowIndex])

	var headings []model.HeadingNode
	for _, row := range grid[headingsRowStart:] {
		for col, cell := range row {
			level, ok := levelTokens[strings.TrimSpace(cell)]
			if !ok {
				continue
			}
			text := nextNonEmpty(row, col+1)
			if text == "" {
				continue
			}
			if level == model.LevelH1 {
				// An explicit H1 row wins over the title-row heuristic.
				title = text
			} else {
				headings = append(headings, model.HeadingNode{Level: level, Text: text})
			}
			break
		}
	}

	if title == "" || len(headings) == 0 {
		klog.V(6).Infof("[Extractor.Extract] incomplete outline: title=%q, headings=%d", title, len(headings))
		return nil, nil
	}

	klog.V(6).Infof("[Extractor.Extract] outline extracted: keyword=%q, title=%q, headings=%d",
		keyword, title, len(headings))
	return &model.Outline{
		Keyword:  keyword,
		Title:    title,
		Headings: headings,
	}, nil
}

// extractKeyword returns the first cell in the keyword row that is not a
// label. The keyword column drifts between sheets, so position is not trusted.
func extractKeyword(row []string) string {
	for _, cell := range row {
		v := strings.TrimSpace(cell)
		if v == "" || isKeywordLabel(v) {
			continue
		}
		return v
	}
	return ""
}

func isKeywordLabel(v string) bool {
	for _, label := range keywordLabels {
		if strings.HasPrefix(v, label) {
			return true
		}
	}
	return false
}

// extractTitle scans the title row: an explicit H1 token's right neighbor
// wins, otherwise the first sufficiently long cell that is not the column
// header itself.
func extractTitle(row []string) string {
	for col, cell := range row {
		if strings.TrimSpace(cell) == "H1" {
			if t := nextNonEmpty(row, col+1); t != "" {
				return t
			}
		}
	}
	for _, cell := range row {
		v := strings.TrimSpace(cell)
		if len([]rune(v)) > minTitleRunes && !strings.Contains(v, "タイトル") {
			return v
		}
	}
	return ""
}

func nextNonEmpty(row []string, from int) string {
	for i := from; i < len(row); i++ {
		if v := strings.TrimSpace(row[i]); v != "" {
			return v
		}
	}
	return ""
}

func rowContains(row []string, want string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) == want {
			return true
		}
	}
	return false
}
