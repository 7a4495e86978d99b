package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/articleforge/backend/internal/llm"
	"github.com/articleforge/backend/internal/model"
)

type fakeResponse struct {
	text string
	err  error
}

// fakeProvider replays scripted responses and records every request.
type fakeProvider struct {
	responses []fakeResponse
	requests  []llm.CompletionRequest
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return nil, errors.New("no scripted response")
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Completion{
		Text:  r.text,
		Usage: schema.TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (f *fakeProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return nil, llm.ErrNotSupported
}

var testModels = Models{Design: "m", Draft: "m", Audit: "m", Refine: "m", Append: "m"}

func testOutline() *model.Outline {
	return &model.Outline{
		Keyword: "共働き 家事分担",
		Title:   "共働き世帯の家事分担を見直すコツ",
		Headings: []model.HeadingNode{
			{Level: model.LevelH2, Text: "家事分担がうまくいかない理由"},
			{Level: model.LevelH3, Text: "時間のすれ違い"},
			{Level: model.LevelH2, Text: "まとめ"},
		},
	}
}

func longText(n int) string {
	return strings.Repeat("あ", n)
}

const emptyAudit = `{"offtrack":[],"repetition":[],"contradiction":[],"term":[],"thin":[]}`

// flaggedAudit carries one repetition finding so the refine stage runs.
const flaggedAudit = `{"offtrack":[],"repetition":[{"location":"第2段落","issue":"同じ導入文の繰り返し","fix":"言い換える"}],"contradiction":[],"term":[],"thin":[]}`

func TestGenerateHappyPath(t *testing.T) {
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: longText(5200)},
		{text: flaggedAudit},
		{text: longText(5400)},
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, longText(5400), result.Article)
	assert.Empty(t, result.Warnings)
	assert.Len(t, result.UsageLog, 4)
	for _, key := range []string{"design", "draft", "audit", "refine"} {
		assert.Contains(t, result.UsageLog, key)
	}
	assert.Equal(t, 120, result.TotalTokens())
}

func TestGenerateDraftPromptHeadingFidelity(t *testing.T) {
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: longText(5200)},
		{text: flaggedAudit},
		{text: longText(5400)},
	}}
	o := testOutline()

	_, err := NewPipeline(p, testModels).Generate(context.Background(), o)
	require.NoError(t, err)

	// second request is the draft stage
	require.GreaterOrEqual(t, len(p.requests), 2)
	draftPrompt := p.requests[1].User
	last := -1
	for _, h := range o.Headings {
		idx := strings.Index(draftPrompt, h.Text)
		assert.Greater(t, idx, last, "heading %q missing or out of order", h.Text)
		last = idx
	}
}

func TestGenerateDesignFailureAborts(t *testing.T) {
	p := &fakeProvider{responses: []fakeResponse{
		{err: errors.New("model unavailable")},
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "design stage failed")
	assert.Len(t, p.requests, 1)
}

func TestGenerateDraftFailureAborts(t *testing.T) {
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{err: errors.New("timeout")},
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "draft stage failed")
}

func TestGenerateAuditUnparseableDegradesToDraft(t *testing.T) {
	draft := longText(5200)
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: draft},
		{text: "これはJSONではありません"},
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, draft, result.Article)
	assert.Nil(t, result.Audit)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "audit")
	// refine never ran
	assert.NotContains(t, result.UsageLog, "refine")
	assert.Len(t, p.requests, 3)
}

func TestGenerateRefineFailureDegradesToDraft(t *testing.T) {
	draft := longText(5200)
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: draft},
		{text: flaggedAudit},
		{err: errors.New("refine boom")},
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, draft, result.Article)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "refine failed")
}

func TestGenerateCleanAuditSkipsRefine(t *testing.T) {
	draft := longText(5200)
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: draft},
		{text: emptyAudit},
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, draft, result.Article)
	require.NotNil(t, result.Audit)
	assert.Empty(t, result.Warnings)
	assert.NotContains(t, result.UsageLog, "refine")
	assert.Len(t, p.requests, 3)
}

func TestGenerateRefineEmptyOutputWarns(t *testing.T) {
	draft := longText(5200)
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: draft},
		{text: flaggedAudit},
		{text: "   \n"},
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, draft, result.Article)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "refine returned empty output")
}

func TestGenerateAppendLoopMeetsMinimum(t *testing.T) {
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: longText(3000)},
		{text: emptyAudit},
		{text: longText(3000)}, // refine keeps it short
		{text: longText(4200)}, // append_1
		{text: longText(5100)}, // append_2
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, longText(5100), result.Article)
	assert.Contains(t, result.UsageLog, "append_1")
	assert.Contains(t, result.UsageLog, "append_2")
	assert.NotContains(t, result.UsageLog, "append_3")
	assert.Empty(t, result.Warnings)
}

func TestGenerateAppendExhaustionWarns(t *testing.T) {
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: longText(3000)},
		{text: emptyAudit},
		{text: longText(3000)},
		{text: longText(3100)}, // append_1
		{text: longText(3200)}, // append_2
		{text: longText(3300)}, // append_3
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, longText(3300), result.Article)
	assert.Contains(t, result.UsageLog, "append_3")
	// exhaustion warning plus out-of-band warning
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "exhausted")
	assert.Contains(t, result.Warnings[1], "outside band")
}

func TestGenerateAppendStopsOnFailedAttempt(t *testing.T) {
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: longText(3000)},
		{text: emptyAudit},
		{text: longText(3000)},
		{err: errors.New("append boom")}, // append_1
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, longText(3000), result.Article)
	assert.NotContains(t, result.UsageLog, "append_1")
	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "append attempt 1 failed")
}

func TestGenerateNeverAppendsOverlength(t *testing.T) {
	over := longText(6500)
	p := &fakeProvider{responses: []fakeResponse{
		{text: "設計メモ"},
		{text: over},
		{text: emptyAudit},
		{text: over}, // refine fails to shrink
	}}

	result, err := NewPipeline(p, testModels).Generate(context.Background(), testOutline())
	require.NoError(t, err)

	assert.Equal(t, over, result.Article)
	for key := range result.UsageLog {
		assert.NotContains(t, key, "append")
	}
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "outside band")
}

func TestStageMachineRejectsBackward(t *testing.T) {
	sm := NewStageMachine()
	require.NoError(t, sm.Advance(StageDraft))
	require.NoError(t, sm.Advance(StageAudit))

	err := sm.Advance(StageDraft)
	require.Error(t, err)
	var tErr *InvalidStageTransitionError
	assert.ErrorAs(t, err, &tErr)
	assert.Equal(t, StageAudit, sm.Current())
}
