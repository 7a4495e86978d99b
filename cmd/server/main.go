package main

import (
	"context"
	"flag"
	"log"

	"k8s.io/klog/v2"

	"github.com/articleforge/backend/config"
	"github.com/articleforge/backend/internal/eventbus"
	"github.com/articleforge/backend/internal/handler"
	"github.com/articleforge/backend/internal/images"
	"github.com/articleforge/backend/internal/llm"
	"github.com/articleforge/backend/internal/notify"
	"github.com/articleforge/backend/internal/pipeline"
	"github.com/articleforge/backend/internal/queue"
	"github.com/articleforge/backend/internal/router"
	"github.com/articleforge/backend/internal/service"
	"github.com/articleforge/backend/internal/service/orchestrator"
	"github.com/articleforge/backend/internal/store"
	"github.com/articleforge/backend/internal/subscriber"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	cfg := config.GetConfig()
	ctx := context.Background()

	sheetsStore, err := store.NewSheetsStore(ctx, cfg.Google.Credentials)
	if err != nil {
		log.Fatalf("Failed to initialize sheets client: %v", err)
	}
	docsStore, err := store.NewDocsStore(ctx, cfg.Google.Credentials)
	if err != nil {
		log.Fatalf("Failed to initialize docs client: %v", err)
	}
	driveStore, err := store.NewDriveStore(ctx, cfg.Google.Credentials)
	if err != nil {
		log.Fatalf("Failed to initialize drive client: %v", err)
	}

	// Image generation and folder matching always go through OpenAI; only
	// the text pipeline is switchable.
	openaiProvider := llm.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.ImageModel)

	var textProvider llm.Provider = openaiProvider
	textModels := pipeline.Models{
		Design: cfg.OpenAI.TextModel,
		Draft:  cfg.OpenAI.TextModel,
		Audit:  cfg.OpenAI.AuditModel,
		Refine: cfg.OpenAI.TextModel,
		Append: cfg.OpenAI.TextModel,
	}
	if cfg.Article.Provider == "claude" {
		textProvider = llm.NewClaudeProvider(cfg.Anthropic.APIKey, cfg.Anthropic.MaxTokens)
		textModels = pipeline.Models{
			Design: cfg.Anthropic.Model,
			Draft:  cfg.Anthropic.Model,
			Audit:  cfg.Anthropic.Model,
			Refine: cfg.Anthropic.Model,
			Append: cfg.Anthropic.Model,
		}
	}
	pipe := pipeline.NewPipeline(textProvider, textModels)

	newSourcer := func() service.ImageSourcer {
		return images.NewSourcer(openaiProvider, driveStore,
			cfg.OpenAI.MatchModel, cfg.Google.ImageFolderID, cfg.Google.UploadFolderID)
	}

	bus := eventbus.NewArticleEventBus()
	notifier := notify.NewSlackNotifier(cfg.Slack.WebhookURL)
	subscriber.NewArticleEventSubscriber(notifier).Register(bus)

	articleService := service.NewArticleService(cfg, sheetsStore, docsStore, driveStore, pipe, newSourcer, bus)

	// maxWorkers bounds concurrent pipelines; each one holds an LLM
	// conversation and a Docs batch session, so keep this small.
	executor := &sheetExecutorAdapter{service: articleService}
	if err := orchestrator.InitGlobalOrchestrator(cfg.Article.MaxWorkers, executor); err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	articleService.SetOrchestrator(orchestrator.GetGlobalOrchestrator())
	defer orchestrator.ShutdownGlobalOrchestrator()

	var enqueuer handler.TaskEnqueuer
	if cfg.Tasks.Project != "" {
		tasksQueue, err := queue.NewCloudTasksQueue(ctx, cfg.Google.Credentials,
			cfg.Tasks.Project, cfg.Tasks.Location, cfg.Tasks.Queue, cfg.Server.PublicURL)
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		enqueuer = tasksQueue
	} else {
		klog.V(6).Info("[main] task queue not configured, enqueue endpoint disabled")
	}

	articleHandler := handler.NewArticleHandler(articleService, enqueuer)

	r := router.Setup(cfg, articleHandler)

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
