package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/articleforge/backend/config"
	"github.com/articleforge/backend/internal/assembler"
	"github.com/articleforge/backend/internal/eventbus"
	"github.com/articleforge/backend/internal/images"
	"github.com/articleforge/backend/internal/markdown"
	"github.com/articleforge/backend/internal/model"
	"github.com/articleforge/backend/internal/outline"
	"github.com/articleforge/backend/internal/pipeline"
	"github.com/articleforge/backend/internal/retry"
	"github.com/articleforge/backend/internal/service/orchestrator"
	"github.com/articleforge/backend/internal/service/statemachine"
)

// TabularStore is the slice of the spreadsheet adapter the service needs.
type TabularStore interface {
	ReadRange(ctx context.Context, spreadsheetID, readRange string) ([][]string, error)
	WriteRange(ctx context.Context, spreadsheetID, writeRange string, values [][]any) error
	ListSheets(ctx context.Context, spreadsheetID string) ([]string, error)
	SpreadsheetTitle(ctx context.Context, spreadsheetID string) (string, error)
}

// DocumentStore is the slice of the document adapter the service needs.
type DocumentStore interface {
	CreateDocument(ctx context.Context, title, folderID string) (string, string, error)
	Apply(ctx context.Context, documentID string, ops []assembler.Op) error
	GetView(ctx context.Context, documentID string) (*assembler.DocView, error)
	ResolveTables(ctx context.Context, documentID string, tables [][][]string) error
}

// FolderStore resolves the monthly output folder.
type FolderStore interface {
	EnsureMonthlyFolder(ctx context.Context, parentID, spreadsheetTitle string, now time.Time) (string, error)
}

// Generator runs the text pipeline for one outline.
type Generator interface {
	Generate(ctx context.Context, o *model.Outline) (*pipeline.Result, error)
}

// ImageSourcer resolves section images for one document.
type ImageSourcer interface {
	Source(ctx context.Context, keyword string, h2s []string, mode model.ImageMode) ([]images.SectionImage, error)
}

// RunParams are the per-request knobs of a generation run.
type RunParams struct {
	SpreadsheetID       string
	ImageMode           model.ImageMode
	Force               bool
	MaxArticles         int
	MasterSpreadsheetID string
	KeywordColumn       string
	URLColumn           string
}

// outlineRange covers the structured header plus the heading rows.
const outlineRange = "A1:Z100"

// ArticleService drives one sheet from outline extraction to the finished
// document with status write-back. One worker owns one sheet end-to-end.
type ArticleService struct {
	cfg       *config.Config
	tabular   TabularStore
	docs      DocumentStore
	folders   FolderStore
	generator Generator
	extractor *outline.Extractor

	// newSourcer creates one image sourcer per batch so the library folder
	// cache lives exactly one run.
	newSourcer func() ImageSourcer

	bus          *eventbus.ArticleEventBus
	sm           *statemachine.SheetStateMachine
	statusPolicy retry.Policy
	now          func() time.Time

	// runs tracks the live status of every sheet this instance has touched,
	// so a sheet with a run still in flight is never started a second time.
	runMu sync.Mutex
	runs  map[string]statemachine.SheetStatus

	orch *orchestrator.Orchestrator
}

func NewArticleService(
	cfg *config.Config,
	tabular TabularStore,
	docs DocumentStore,
	folders FolderStore,
	generator Generator,
	newSourcer func() ImageSourcer,
	bus *eventbus.ArticleEventBus,
) *ArticleService {
	return &ArticleService{
		cfg:          cfg,
		tabular:      tabular,
		docs:         docs,
		folders:      folders,
		generator:    generator,
		extractor:    outline.NewExtractor(),
		newSourcer:   newSourcer,
		bus:          bus,
		sm:           statemachine.NewSheetStateMachine(),
		statusPolicy: retry.StatusWrite(),
		now:          time.Now,
		runs:         make(map[string]statemachine.SheetStatus),
	}
}

func (s *ArticleService) SetOrchestrator(orch *orchestrator.Orchestrator) {
	s.orch = orch
}

// ProcessSheet runs one sheet synchronously and reports the outcome.
func (s *ArticleService) ProcessSheet(ctx context.Context, params RunParams, sheet string) model.SheetOutcome {
	return s.processSheet(ctx, params, sheet, s.newSourcer())
}

func (s *ArticleService) processSheet(ctx context.Context, params RunParams, sheet string, sourcer ImageSourcer) (outcome model.SheetOutcome) {
	if !s.beginRun(sheet) {
		klog.V(6).Infof("[ArticleService.processSheet] skipping, run already in progress: sheet=%s", sheet)
		return model.SheetOutcome{Sheet: sheet, Status: model.OutcomeSkipped, Reason: "already in progress"}
	}
	defer s.finishRun(sheet, &outcome)
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("[ArticleService.processSheet] panic recovered: sheet=%s, err=%v", sheet, r)
			outcome = s.failure(ctx, sheet, fmt.Sprintf("panic: %v", r))
		}
	}()

	klog.V(6).Infof("[ArticleService.processSheet] start: sheet=%s, imageMode=%s, force=%v",
		sheet, params.ImageMode, params.Force)

	grid, err := s.tabular.ReadRange(ctx, params.SpreadsheetID, rangeRef(sheet, outlineRange))
	if err != nil {
		return s.failure(ctx, sheet, fmt.Sprintf("read sheet: %v", err))
	}

	o, err := s.extractor.Extract(grid, params.Force)
	if errors.Is(err, outline.ErrAlreadyProcessed) {
		klog.V(6).Infof("[ArticleService.processSheet] skipping, already processed: sheet=%s", sheet)
		return model.SheetOutcome{Sheet: sheet, Status: model.OutcomeSkipped, Reason: "already processed"}
	}
	if err != nil {
		return s.failure(ctx, sheet, fmt.Sprintf("extract outline: %v", err))
	}
	if o == nil {
		klog.V(6).Infof("[ArticleService.processSheet] skipping, no usable outline: sheet=%s", sheet)
		return model.SheetOutcome{Sheet: sheet, Status: model.OutcomeSkipped, Reason: "no usable outline"}
	}
	o.SheetName = sheet

	status := statemachine.SheetStatusUnprocessed
	status = s.advance(status, statemachine.SheetStatusGenerating, sheet)

	result, err := s.generator.Generate(ctx, o)
	if err != nil {
		s.advance(status, statemachine.SheetStatusFailed, sheet)
		return s.failure(ctx, sheet, fmt.Sprintf("pipeline: %v", err))
	}
	for _, w := range result.Warnings {
		klog.Warningf("[ArticleService.processSheet] pipeline warning: sheet=%s, %s", sheet, w)
	}

	status = s.advance(status, statemachine.SheetStatusAssembling, sheet)

	docID, url, err := s.createDocument(ctx, params, o.Title)
	if err != nil {
		s.advance(status, statemachine.SheetStatusFailed, sheet)
		return s.failure(ctx, sheet, fmt.Sprintf("create document: %v", err))
	}

	// Durable checkpoint: record the document link before any content or
	// image work, so a crash still leaves a usable URL in the sheet.
	if err := s.writeStatus(ctx, params.SpreadsheetID, sheet, model.StatusProcessing, url); err != nil {
		klog.Warningf("[ArticleService.processSheet] intermediate status write failed: sheet=%s, err=%v", sheet, err)
	}

	blocks := markdown.Parse(result.Article)
	plan, err := assembler.New(true).Assemble(blocks)
	if err != nil {
		s.advance(status, statemachine.SheetStatusFailed, sheet)
		return s.failure(ctx, sheet, fmt.Sprintf("assemble: %v", err))
	}
	if err := s.docs.Apply(ctx, docID, plan.Ops); err != nil {
		s.advance(status, statemachine.SheetStatusFailed, sheet)
		return s.failure(ctx, sheet, fmt.Sprintf("write document body: %v", err))
	}

	if tables := markdown.ExtractTables(blocks); len(tables) > 0 {
		if err := s.docs.ResolveTables(ctx, docID, tables); err != nil {
			// the document stays partially assembled; the recorded link is
			// still valid, so keep going
			klog.Warningf("[ArticleService.processSheet] table resolution failed: sheet=%s, err=%v", sheet, err)
		}
	}

	status = s.advance(status, statemachine.SheetStatusImaging, sheet)
	s.insertImages(ctx, params, sourcer, docID, o)

	if err := s.writeStatus(ctx, params.SpreadsheetID, sheet, model.StatusDone, url); err != nil {
		klog.Warningf("[ArticleService.processSheet] final status write failed: sheet=%s, err=%v", sheet, err)
	}
	s.advance(status, statemachine.SheetStatusProcessed, sheet)

	if params.MasterSpreadsheetID != "" {
		s.propagateMasterURL(ctx, params, o.Keyword, url)
	}

	s.publish(ctx, eventbus.ArticleEventCompleted, eventbus.ArticleEvent{
		Type:  eventbus.ArticleEventCompleted,
		Sheet: sheet,
		Title: o.Title,
		URL:   url,
	})

	klog.V(6).Infof("[ArticleService.processSheet] done: sheet=%s, url=%s", sheet, url)
	return model.SheetOutcome{Sheet: sheet, Status: model.OutcomeProcessed, Title: o.Title, URL: url}
}

// ProcessAll walks every sheet of the spreadsheet. One sheet's failure
// never stops the batch; MaxArticles bounds successful articles only.
func (s *ArticleService) ProcessAll(ctx context.Context, params RunParams) model.BatchResult {
	var batch model.BatchResult

	sheets, err := s.tabular.ListSheets(ctx, params.SpreadsheetID)
	if err != nil {
		klog.Errorf("[ArticleService.ProcessAll] list sheets failed: %v", err)
		batch.Add(model.SheetOutcome{Sheet: "", Status: model.OutcomeError, Reason: err.Error()})
		return batch
	}

	s.publish(ctx, eventbus.ArticleEventBatchStarted, eventbus.ArticleEvent{
		Type:       eventbus.ArticleEventBatchStarted,
		BatchSize:  len(sheets),
		EstimatedD: estimateDuration(len(sheets)),
	})

	sourcer := s.newSourcer()
	for _, sheet := range sheets {
		if params.MaxArticles > 0 && batch.Processed >= params.MaxArticles {
			klog.V(6).Infof("[ArticleService.ProcessAll] article limit reached: max=%d", params.MaxArticles)
			break
		}
		batch.Add(s.processSheet(ctx, params, sheet, sourcer))
	}

	klog.V(6).Infof("[ArticleService.ProcessAll] done: processed=%d, skipped=%d, errors=%d",
		batch.Processed, batch.Skipped, batch.Errors)
	return batch
}

// UnprocessedSheets runs the extraction pass without side effects and
// returns the sheets that would produce an article.
func (s *ArticleService) UnprocessedSheets(ctx context.Context, spreadsheetID string) ([]string, error) {
	sheets, err := s.tabular.ListSheets(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, sheet := range sheets {
		grid, err := s.tabular.ReadRange(ctx, spreadsheetID, rangeRef(sheet, outlineRange))
		if err != nil {
			klog.Warningf("[ArticleService.UnprocessedSheets] read failed: sheet=%s, err=%v", sheet, err)
			continue
		}
		o, err := s.extractor.Extract(grid, false)
		if err == nil && o != nil {
			pending = append(pending, sheet)
		}
	}
	return pending, nil
}

// EnqueueBatch hands the spreadsheet to the in-process orchestrator and
// returns the number of sheets covered. Without an article limit the sheets
// fan out as individual jobs across the workers. With a limit the whole run
// becomes one batch job driving ProcessAll, because the limit counts
// successful articles only and skipped sheets must not consume it.
func (s *ArticleService) EnqueueBatch(ctx context.Context, params RunParams) (int, error) {
	if s.orch == nil {
		return 0, errors.New("orchestrator not configured")
	}

	sheets, err := s.tabular.ListSheets(ctx, params.SpreadsheetID)
	if err != nil {
		return 0, err
	}

	if params.MaxArticles > 0 {
		job := jobFromParams(orchestrator.NewBatchJob(params.SpreadsheetID), params)
		if err := s.orch.EnqueueJob(job); err != nil {
			return 0, err
		}
		return len(sheets), nil
	}

	jobs := make([]*orchestrator.Job, 0, len(sheets))
	for _, sheet := range sheets {
		jobs = append(jobs, jobFromParams(orchestrator.NewSheetJob(params.SpreadsheetID, sheet), params))
	}
	if err := s.orch.EnqueueBatch(jobs); err != nil {
		return len(jobs), err
	}
	return len(jobs), nil
}

func jobFromParams(job *orchestrator.Job, params RunParams) *orchestrator.Job {
	job.ImageMode = string(params.ImageMode)
	job.Force = params.Force
	job.MaxArticles = params.MaxArticles
	job.MasterSpreadsheetID = params.MasterSpreadsheetID
	job.KeywordColumn = params.KeywordColumn
	job.URLColumn = params.URLColumn
	return job
}

func (s *ArticleService) createDocument(ctx context.Context, params RunParams, title string) (string, string, error) {
	folderID := s.cfg.Google.ParentFolderID
	spreadsheetTitle, err := s.tabular.SpreadsheetTitle(ctx, params.SpreadsheetID)
	if err != nil {
		klog.Warningf("[ArticleService.createDocument] spreadsheet title unavailable: %v", err)
	}
	if s.folders != nil {
		monthly, err := s.folders.EnsureMonthlyFolder(ctx, s.cfg.Google.ParentFolderID, spreadsheetTitle, s.now())
		if err != nil {
			klog.Warningf("[ArticleService.createDocument] monthly folder failed, using parent: %v", err)
		} else {
			folderID = monthly
		}
	}
	return s.docs.CreateDocument(ctx, title, folderID)
}

// insertImages sources section images and applies them bottom-up. Every
// failure here degrades to fewer images, never to a failed document.
func (s *ArticleService) insertImages(ctx context.Context, params RunParams, sourcer ImageSourcer, docID string, o *model.Outline) {
	sectionImages, err := sourcer.Source(ctx, o.Keyword, o.H2Texts(), params.ImageMode)
	if err != nil {
		klog.Warningf("[ArticleService.insertImages] sourcing failed: sheet=%s, err=%v", o.SheetName, err)
		return
	}
	if len(sectionImages) == 0 {
		return
	}

	view, err := s.docs.GetView(ctx, docID)
	if err != nil {
		klog.Warningf("[ArticleService.insertImages] document read failed: sheet=%s, err=%v", o.SheetName, err)
		return
	}

	var placements []assembler.ImagePlacement
	for _, img := range sectionImages {
		end, ok := assembler.HeadingEnd(view, img.Section)
		if !ok {
			klog.Warningf("[ArticleService.insertImages] heading not found in document: sheet=%s, section=%q",
				o.SheetName, img.Section)
			continue
		}
		placements = append(placements, assembler.ImagePlacement{
			Index:    end,
			URI:      img.URI,
			WidthPt:  images.DefaultWidthPt,
			HeightPt: images.DefaultHeightPt,
		})
	}

	if err := s.docs.Apply(ctx, docID, assembler.ImageOps(placements)); err != nil {
		klog.Warningf("[ArticleService.insertImages] image insertion failed: sheet=%s, err=%v", o.SheetName, err)
	}
}

// writeStatus updates the tracking cells with bounded retry.
func (s *ArticleService) writeStatus(ctx context.Context, spreadsheetID, sheet, status, url string) error {
	rng := rangeRef(sheet, "F2:G2")
	return s.statusPolicy.Do(ctx, func() error {
		return s.tabular.WriteRange(ctx, spreadsheetID, rng, [][]any{{status, url}})
	})
}

// propagateMasterURL copies the document URL into the master tracking sheet
// on the row whose keyword cell matches.
func (s *ArticleService) propagateMasterURL(ctx context.Context, params RunParams, keyword, url string) {
	kwCol := params.KeywordColumn
	if kwCol == "" {
		kwCol = s.cfg.Article.KeywordColumn
	}
	urlCol := params.URLColumn
	if urlCol == "" {
		urlCol = s.cfg.Article.URLColumn
	}

	// scan the whole column from row 1; the master sheet has no fixed header
	rows, err := s.tabular.ReadRange(ctx, params.MasterSpreadsheetID, fmt.Sprintf("%s1:%s", kwCol, kwCol))
	if err != nil {
		klog.Warningf("[ArticleService.propagateMasterURL] read failed: %v", err)
		return
	}

	for i, row := range rows {
		if len(row) == 0 || strings.TrimSpace(row[0]) != keyword {
			continue
		}
		cell := fmt.Sprintf("%s%d", urlCol, i+1)
		if err := s.tabular.WriteRange(ctx, params.MasterSpreadsheetID, cell, [][]any{{url}}); err != nil {
			klog.Warningf("[ArticleService.propagateMasterURL] write failed: cell=%s, err=%v", cell, err)
		} else {
			klog.V(6).Infof("[ArticleService.propagateMasterURL] propagated: keyword=%q, cell=%s", keyword, cell)
		}
		return
	}
	klog.V(6).Infof("[ArticleService.propagateMasterURL] keyword not found in master sheet: %q", keyword)
}

func (s *ArticleService) failure(ctx context.Context, sheet, reason string) model.SheetOutcome {
	klog.Errorf("[ArticleService] sheet failed: sheet=%s, reason=%s", sheet, reason)
	s.publish(ctx, eventbus.ArticleEventFailed, eventbus.ArticleEvent{
		Type:   eventbus.ArticleEventFailed,
		Sheet:  sheet,
		Reason: reason,
	})
	return model.SheetOutcome{Sheet: sheet, Status: model.OutcomeError, Reason: reason}
}

// beginRun claims a sheet for one run. A sheet whose previous run has not
// reached a terminal status yet is rejected.
func (s *ArticleService) beginRun(sheet string) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if st, ok := s.runs[sheet]; ok && !statemachine.IsTerminal(st) {
		return false
	}
	s.runs[sheet] = statemachine.SheetStatusGenerating
	return true
}

// finishRun settles the tracked status when the run ended without reaching
// a terminal transition, which happens on skips and early failures.
func (s *ArticleService) finishRun(sheet string, outcome *model.SheetOutcome) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !statemachine.IsWorking(s.runs[sheet]) {
		return
	}
	if outcome.Status == model.OutcomeError {
		s.runs[sheet] = statemachine.SheetStatusFailed
	} else {
		s.runs[sheet] = statemachine.SheetStatusProcessed
	}
}

// advance moves the in-process status, logging invalid moves without
// interrupting the run.
func (s *ArticleService) advance(from, to statemachine.SheetStatus, sheet string) statemachine.SheetStatus {
	if err := s.sm.Transition(from, to, sheet); err != nil {
		return from
	}
	s.runMu.Lock()
	s.runs[sheet] = to
	s.runMu.Unlock()
	return to
}

func (s *ArticleService) publish(ctx context.Context, topic eventbus.ArticleEventType, event eventbus.ArticleEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, event); err != nil {
		klog.Warningf("[ArticleService] event delivery failed: type=%s, err=%v", topic, err)
	}
}

func rangeRef(sheet, cells string) string {
	return fmt.Sprintf("'%s'!%s", sheet, cells)
}

// estimateDuration is a coarse per-article estimate used only for the batch
// start notification.
func estimateDuration(sheets int) string {
	const perArticle = 8 * time.Minute
	total := time.Duration(sheets) * perArticle
	return fmt.Sprintf("約%d分", int(total.Minutes()))
}
