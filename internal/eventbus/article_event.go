package eventbus

type ArticleEventType string

const (
	ArticleEventCompleted    ArticleEventType = "ArticleCompleted"
	ArticleEventFailed       ArticleEventType = "ArticleFailed"
	ArticleEventBatchStarted ArticleEventType = "BatchStarted"
)

// ArticleEvent describes one lifecycle event of the article pipeline.
type ArticleEvent struct {
	Type       ArticleEventType
	Sheet      string
	Title      string
	URL        string
	Reason     string
	BatchSize  int
	EstimatedD string // human-readable duration estimate for batch starts
}

type ArticleEventHandler = Handler[ArticleEvent]
type ArticleEventBus = Bus[ArticleEventType, ArticleEvent]

func NewArticleEventBus() *ArticleEventBus {
	return NewBus[ArticleEventType, ArticleEvent]()
}
