package main

import (
	"context"
	"fmt"

	"github.com/articleforge/backend/internal/model"
	"github.com/articleforge/backend/internal/service"
	"github.com/articleforge/backend/internal/service/orchestrator"
)

// sheetExecutorAdapter adapts ArticleService to the orchestrator's executor
// interface, breaking the import cycle between the two packages.
type sheetExecutorAdapter struct {
	service *service.ArticleService
}

func (a *sheetExecutorAdapter) ExecuteSheet(ctx context.Context, job *orchestrator.Job) error {
	params := service.RunParams{
		SpreadsheetID:       job.SpreadsheetID,
		ImageMode:           model.ParseImageMode(job.ImageMode),
		Force:               job.Force,
		MaxArticles:         job.MaxArticles,
		MasterSpreadsheetID: job.MasterSpreadsheetID,
		KeywordColumn:       job.KeywordColumn,
		URLColumn:           job.URLColumn,
	}

	// A job without a sheet name covers the whole spreadsheet. Rerunning it
	// on retry is safe: sheets already marked processed are skipped.
	if job.Sheet == "" {
		batch := a.service.ProcessAll(ctx, params)
		if batch.Errors > 0 {
			return fmt.Errorf("spreadsheet %s: %d sheets failed", job.SpreadsheetID, batch.Errors)
		}
		return nil
	}

	outcome := a.service.ProcessSheet(ctx, params, job.Sheet)
	if outcome.Status == model.OutcomeError {
		return fmt.Errorf("sheet %s: %s", job.Sheet, outcome.Reason)
	}
	return nil
}
