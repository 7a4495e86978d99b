package model

// HeadingLevel is the outline depth of a heading, 1 through 4.
type HeadingLevel int

const (
	LevelH1 HeadingLevel = 1
	LevelH2 HeadingLevel = 2
	LevelH3 HeadingLevel = 3
	LevelH4 HeadingLevel = 4
)

// HeadingNode is one heading extracted from a sheet outline.
type HeadingNode struct {
	Level HeadingLevel `json:"level"`
	Text  string       `json:"text"`
}

// Outline is the per-sheet input to the generation pipeline.
// Headings holds H2..H4 nodes in row order; the H1 title is kept separately.
type Outline struct {
	SheetName string        `json:"sheet_name"`
	Keyword   string        `json:"keyword"`
	Title     string        `json:"title"`
	Headings  []HeadingNode `json:"headings"`
}

// H2Count returns the number of top-level sections in the outline.
func (o *Outline) H2Count() int {
	n := 0
	for _, h := range o.Headings {
		if h.Level == LevelH2 {
			n++
		}
	}
	return n
}

// H2Texts returns the H2 heading texts in outline order.
func (o *Outline) H2Texts() []string {
	var texts []string
	for _, h := range o.Headings {
		if h.Level == LevelH2 {
			texts = append(texts, h.Text)
		}
	}
	return texts
}

// Finding is one audit finding with a located fix suggestion.
type Finding struct {
	Location string `json:"location"`
	Issue    string `json:"issue"`
	Fix      string `json:"fix"`
}

// TermFinding reports terminology drift against the preferred term.
type TermFinding struct {
	Preferred string   `json:"preferred"`
	Found     string   `json:"found"`
	Locations []string `json:"locations"`
}

// ThinFinding flags an H2 section whose content is too thin.
type ThinFinding struct {
	H2    string `json:"h2"`
	Issue string `json:"issue"`
	Fix   string `json:"fix"`
}

// AuditResult is the structured output of the audit stage.
type AuditResult struct {
	OffTrack      []Finding     `json:"offtrack"`
	Repetition    []Finding     `json:"repetition"`
	Contradiction []Finding     `json:"contradiction"`
	Term          []TermFinding `json:"term"`
	Thin          []ThinFinding `json:"thin"`
}

// HasFindings reports whether the audit flagged anything at all.
func (a *AuditResult) HasFindings() bool {
	return len(a.OffTrack) > 0 || len(a.Repetition) > 0 ||
		len(a.Contradiction) > 0 || len(a.Term) > 0 || len(a.Thin) > 0
}

// Sheet lifecycle status written back to the tracking spreadsheet.
// StatusProcessing carries the document URL so a crash mid-assembly still
// leaves a usable link recorded.
const (
	StatusProcessing = "画像処理中..."
	StatusDone       = "処理済み"
)

// OutcomeStatus classifies how a single sheet run ended.
type OutcomeStatus string

const (
	OutcomeProcessed OutcomeStatus = "processed"
	OutcomeSkipped   OutcomeStatus = "skipped"
	OutcomeError     OutcomeStatus = "error"
)

// SheetOutcome is the per-sheet result record of an orchestration run.
type SheetOutcome struct {
	Sheet  string        `json:"sheet"`
	Status OutcomeStatus `json:"status"`
	Title  string        `json:"title,omitempty"`
	URL    string        `json:"url,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// BatchResult aggregates the outcomes of one multi-sheet run.
type BatchResult struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Errors    int            `json:"errors"`
	Outcomes  []SheetOutcome `json:"outcomes"`
}

// Add tallies one outcome into the batch counters.
func (b *BatchResult) Add(o SheetOutcome) {
	b.Outcomes = append(b.Outcomes, o)
	switch o.Status {
	case OutcomeProcessed:
		b.Processed++
	case OutcomeSkipped:
		b.Skipped++
	default:
		b.Errors++
	}
}

// ImageMode selects the image sourcing strategy for a run.
type ImageMode string

const (
	ImageModeLibrary   ImageMode = "library"
	ImageModeGenerated ImageMode = "generated"
	ImageModeBoth      ImageMode = "both"
)

// ParseImageMode normalizes a request value, defaulting to library.
func ParseImageMode(s string) ImageMode {
	switch ImageMode(s) {
	case ImageModeGenerated:
		return ImageModeGenerated
	case ImageModeBoth:
		return ImageModeBoth
	default:
		return ImageModeLibrary
	}
}
