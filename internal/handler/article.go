package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/articleforge/backend/internal/model"
	"github.com/articleforge/backend/internal/queue"
	"github.com/articleforge/backend/internal/service"
)

// ArticleRunner is the service surface the HTTP layer needs.
type ArticleRunner interface {
	ProcessSheet(ctx context.Context, params service.RunParams, sheet string) model.SheetOutcome
	UnprocessedSheets(ctx context.Context, spreadsheetID string) ([]string, error)
	EnqueueBatch(ctx context.Context, params service.RunParams) (int, error)
}

// TaskEnqueuer schedules sheets onto the external task queue.
type TaskEnqueuer interface {
	EnqueueSheets(ctx context.Context, tasks []queue.SheetTask) (int, error)
}

type ArticleHandler struct {
	service  ArticleRunner
	enqueuer TaskEnqueuer
}

func NewArticleHandler(service ArticleRunner, enqueuer TaskEnqueuer) *ArticleHandler {
	return &ArticleHandler{
		service:  service,
		enqueuer: enqueuer,
	}
}

func runParams(req GenerateArticlesRequest) service.RunParams {
	return service.RunParams{
		SpreadsheetID:       req.SpreadsheetID,
		ImageMode:           model.ParseImageMode(req.ImageGenerationMethod),
		Force:               req.Force,
		MaxArticles:         req.MaxArticles,
		MasterSpreadsheetID: req.MasterSpreadsheetID,
		KeywordColumn:       req.KeywordColumn,
		URLColumn:           req.ArticleURLColumn,
	}
}

// GenerateAll accepts a whole-spreadsheet run and hands it to the in-process
// workers. The response returns immediately; progress lands in the sheet
// status cells and the notification channel.
func (h *ArticleHandler) GenerateAll(c *gin.Context) {
	var req GenerateArticlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	total, err := h.service.EnqueueBatch(c.Request.Context(), runParams(req))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "total": total})
}

// GenerateSingle runs one sheet synchronously. Requires sheet_name.
func (h *ArticleHandler) GenerateSingle(c *gin.Context) {
	var req GenerateArticlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SheetName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sheet_name is required"})
		return
	}

	outcome := h.service.ProcessSheet(c.Request.Context(), runParams(req), req.SheetName)
	if outcome.Status == model.OutcomeError {
		c.JSON(http.StatusInternalServerError, outcomeResponse(outcome))
		return
	}
	c.JSON(http.StatusOK, outcomeResponse(outcome))
}

// EnqueueAll schedules every unprocessed sheet onto the external task queue.
func (h *ArticleHandler) EnqueueAll(c *gin.Context) {
	var req GenerateArticlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.enqueuer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task queue not configured"})
		return
	}

	sheets, err := h.service.UnprocessedSheets(c.Request.Context(), req.SpreadsheetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	tasks := make([]queue.SheetTask, 0, len(sheets))
	for _, sheet := range sheets {
		tasks = append(tasks, queue.SheetTask{
			SpreadsheetID:       req.SpreadsheetID,
			SheetName:           sheet,
			ImageMode:           req.ImageGenerationMethod,
			Force:               req.Force,
			MasterSpreadsheetID: req.MasterSpreadsheetID,
			KeywordColumn:       req.KeywordColumn,
			URLColumn:           req.ArticleURLColumn,
		})
	}

	queued, err := h.enqueuer.EnqueueSheets(c.Request.Context(), tasks)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, EnqueueResponse{Status: "queued", Total: len(tasks), Queued: queued})
}

// ProcessTask is the task queue callback. It runs one sheet synchronously;
// a non-2xx response makes the queue redeliver, so skips still return 200.
func (h *ArticleHandler) ProcessTask(c *gin.Context) {
	var task queue.SheetTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if task.SpreadsheetID == "" || task.SheetName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "spreadsheet_id and sheet_name are required"})
		return
	}

	klog.V(6).Infof("[ArticleHandler.ProcessTask] task received: sheet=%s", task.SheetName)

	params := service.RunParams{
		SpreadsheetID:       task.SpreadsheetID,
		ImageMode:           model.ParseImageMode(task.ImageMode),
		Force:               task.Force,
		MasterSpreadsheetID: task.MasterSpreadsheetID,
		KeywordColumn:       task.KeywordColumn,
		URLColumn:           task.URLColumn,
	}

	outcome := h.service.ProcessSheet(c.Request.Context(), params, task.SheetName)
	if outcome.Status == model.OutcomeError {
		c.JSON(http.StatusInternalServerError, outcomeResponse(outcome))
		return
	}
	c.JSON(http.StatusOK, outcomeResponse(outcome))
}

// UnprocessedCount reports the sheets that would produce an article.
func (h *ArticleHandler) UnprocessedCount(c *gin.Context) {
	var req GenerateArticlesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sheets, err := h.service.UnprocessedSheets(c.Request.Context(), req.SpreadsheetID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, UnprocessedCountResponse{Count: len(sheets), Sheets: sheets})
}

func (h *ArticleHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
