package subscriber

import (
	"context"

	"k8s.io/klog/v2"

	"github.com/articleforge/backend/internal/eventbus"
	"github.com/articleforge/backend/internal/notify"
)

// ArticleEventSubscriber forwards article lifecycle events to the chat
// notifier. Delivery is best-effort: a failed post is logged, never
// propagated back into the pipeline.
type ArticleEventSubscriber struct {
	notifier notify.Notifier
}

func NewArticleEventSubscriber(notifier notify.Notifier) *ArticleEventSubscriber {
	return &ArticleEventSubscriber{notifier: notifier}
}

func (s *ArticleEventSubscriber) Register(bus *eventbus.ArticleEventBus) {
	if bus == nil {
		return
	}
	bus.Subscribe(eventbus.ArticleEventCompleted, s.handleCompleted)
	bus.Subscribe(eventbus.ArticleEventFailed, s.handleFailed)
	bus.Subscribe(eventbus.ArticleEventBatchStarted, s.handleBatchStarted)
}

func (s *ArticleEventSubscriber) handleCompleted(ctx context.Context, event eventbus.ArticleEvent) error {
	s.post(ctx, event, notify.ArticleCompleted(event.Sheet, event.Title, event.URL))
	return nil
}

func (s *ArticleEventSubscriber) handleFailed(ctx context.Context, event eventbus.ArticleEvent) error {
	s.post(ctx, event, notify.ArticleFailed(event.Sheet, event.Reason))
	return nil
}

func (s *ArticleEventSubscriber) handleBatchStarted(ctx context.Context, event eventbus.ArticleEvent) error {
	s.post(ctx, event, notify.BatchStarted(event.BatchSize, event.EstimatedD))
	return nil
}

func (s *ArticleEventSubscriber) post(ctx context.Context, event eventbus.ArticleEvent, message string) {
	if err := s.notifier.Post(ctx, message); err != nil {
		klog.Warningf("notification delivery failed: type=%s, sheet=%s, err=%v", event.Type, event.Sheet, err)
		return
	}
	klog.V(6).Infof("notification delivered: type=%s, sheet=%s", event.Type, event.Sheet)
}
