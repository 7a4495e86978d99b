package handler

import "github.com/articleforge/backend/internal/model"

// GenerateArticlesRequest is the shared request body of the generation
// endpoints. SheetName is only honored by the single-article endpoint.
type GenerateArticlesRequest struct {
	SpreadsheetID         string `json:"spreadsheet_id" binding:"required"`
	SheetName             string `json:"sheet_name"`
	MaxArticles           int    `json:"max_articles"`
	ImageGenerationMethod string `json:"image_generation_method"`
	MasterSpreadsheetID   string `json:"master_spreadsheet_id"`
	KeywordColumn         string `json:"keyword_column"`
	ArticleURLColumn      string `json:"article_url_column"`
	Force                 bool   `json:"force"`
}

// SingleArticleResponse reports one synchronous generation.
type SingleArticleResponse struct {
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// EnqueueResponse reports how many sheets were scheduled.
type EnqueueResponse struct {
	Status string `json:"status"`
	Total  int    `json:"total"`
	Queued int    `json:"queued"`
}

// UnprocessedCountResponse lists sheets still awaiting generation.
type UnprocessedCountResponse struct {
	Count  int      `json:"count"`
	Sheets []string `json:"sheets"`
}

func outcomeResponse(o model.SheetOutcome) SingleArticleResponse {
	return SingleArticleResponse{
		Status: string(o.Status),
		Title:  o.Title,
		URL:    o.URL,
		Reason: o.Reason,
	}
}
