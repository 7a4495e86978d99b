package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/articleforge/backend/config"
	"github.com/articleforge/backend/internal/handler"
)

func Setup(cfg *config.Config, articleHandler *handler.ArticleHandler) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", articleHandler.Health)

	r.POST("/generate-articles", articleHandler.GenerateAll)
	r.POST("/generate-single-article", articleHandler.GenerateSingle)
	r.POST("/enqueue-all-articles", articleHandler.EnqueueAll)
	r.POST("/process-article-task", articleHandler.ProcessTask)
	r.POST("/unprocessed-count", articleHandler.UnprocessedCount)

	return r
}
