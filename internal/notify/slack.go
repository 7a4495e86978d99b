package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"k8s.io/klog/v2"
)

// Notifier posts a message to a chat channel. Best-effort: callers log
// failures and continue.
type Notifier interface {
	Post(ctx context.Context, message string) error
}

// SlackNotifier delivers messages through an incoming webhook with a short
// timeout so a slow channel never stalls the pipeline.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *SlackNotifier) Post(ctx context.Context, message string) error {
	if n.webhookURL == "" {
		klog.V(6).Infof("[SlackNotifier.Post] webhook not configured, skipping")
		return nil
	}

	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	klog.V(6).Infof("[SlackNotifier.Post] delivered: length=%d", len(message))
	return nil
}

// ArticleCompleted formats the completion message for one article.
func ArticleCompleted(sheet, title, url string) string {
	return fmt.Sprintf("記事が完成しました。\nシート: %s\nタイトル: %s\nURL: %s", sheet, title, url)
}

// ArticleFailed formats the failure message for one sheet.
func ArticleFailed(sheet, reason string) string {
	return fmt.Sprintf("記事の生成に失敗しました。\nシート: %s\n理由: %s", sheet, reason)
}

// BatchStarted formats the batch kickoff message with a rough duration
// estimate.
func BatchStarted(total int, estimated string) string {
	return fmt.Sprintf("記事の一括生成を開始しました。\n対象シート数: %d\n推定所要時間: %s", total, estimated)
}
