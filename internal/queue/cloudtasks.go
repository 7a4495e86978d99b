package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/api/cloudtasks/v2"
	"k8s.io/klog/v2"

	"github.com/articleforge/backend/internal/store"
)

// taskStagger spaces scheduled tasks so the workers never see a thundering
// herd of simultaneous pipeline starts.
const taskStagger = 5 * time.Second

// taskPath is the callback endpoint each task posts back to.
const taskPath = "/process-article-task"

// SheetTask is the JSON body delivered to the task callback endpoint.
type SheetTask struct {
	SpreadsheetID       string `json:"spreadsheet_id"`
	SheetName           string `json:"sheet_name"`
	ImageMode           string `json:"image_generation_method,omitempty"`
	Force               bool   `json:"force,omitempty"`
	MasterSpreadsheetID string `json:"master_spreadsheet_id,omitempty"`
	KeywordColumn       string `json:"keyword_column,omitempty"`
	URLColumn           string `json:"article_url_column,omitempty"`
}

// CloudTasksQueue schedules one HTTP callback task per sheet, staggered so
// long-running generations spread out instead of arriving at once.
type CloudTasksQueue struct {
	svc     *cloudtasks.Service
	parent  string
	baseURL string
	now     func() time.Time
}

func NewCloudTasksQueue(ctx context.Context, credentials, project, location, queueName, baseURL string) (*CloudTasksQueue, error) {
	svc, err := cloudtasks.NewService(ctx, store.ClientOptions(credentials)...)
	if err != nil {
		return nil, fmt.Errorf("create cloud tasks client: %w", err)
	}
	return &CloudTasksQueue{
		svc:     svc,
		parent:  fmt.Sprintf("projects/%s/locations/%s/queues/%s", project, location, queueName),
		baseURL: baseURL,
		now:     time.Now,
	}, nil
}

// EnqueueSheets creates one task per sheet and returns how many were
// accepted. A single failed creation is logged and skipped so the rest of
// the batch still enqueues.
func (q *CloudTasksQueue) EnqueueSheets(ctx context.Context, tasks []SheetTask) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	klog.V(6).Infof("[CloudTasksQueue.EnqueueSheets] enqueueing: count=%d, queue=%s", len(tasks), q.parent)

	queued := 0
	base := q.now()
	for i, t := range tasks {
		body, err := json.Marshal(t)
		if err != nil {
			return queued, fmt.Errorf("marshal task for sheet %s: %w", t.SheetName, err)
		}

		task := &cloudtasks.Task{
			ScheduleTime: base.Add(time.Duration(i) * taskStagger).UTC().Format(time.RFC3339),
			HttpRequest: &cloudtasks.HttpRequest{
				HttpMethod: "POST",
				Url:        q.baseURL + taskPath,
				Headers:    map[string]string{"Content-Type": "application/json"},
				Body:       base64.StdEncoding.EncodeToString(body),
			},
		}

		_, err = q.svc.Projects.Locations.Queues.Tasks.Create(q.parent, &cloudtasks.CreateTaskRequest{Task: task}).
			Context(ctx).Do()
		if err != nil {
			klog.Warningf("[CloudTasksQueue.EnqueueSheets] task creation failed: sheet=%s, err=%v", t.SheetName, err)
			continue
		}
		queued++
	}

	klog.V(6).Infof("[CloudTasksQueue.EnqueueSheets] done: queued=%d/%d", queued, len(tasks))
	return queued, nil
}
