package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// ClaudeProvider serves text completions from the Anthropic family. It has
// no image backend.
type ClaudeProvider struct {
	apiKey           string
	defaultMaxTokens int

	mu         sync.Mutex
	chatModels map[string]model.ToolCallingChatModel
}

func NewClaudeProvider(apiKey string, defaultMaxTokens int) *ClaudeProvider {
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 8192
	}
	return &ClaudeProvider{
		apiKey:           apiKey,
		defaultMaxTokens: defaultMaxTokens,
		chatModels:       make(map[string]model.ToolCallingChatModel),
	}
}

func (p *ClaudeProvider) chatModel(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cm, ok := p.chatModels[name]; ok {
		return cm, nil
	}

	cm, err := claude.NewChatModel(ctx, &claude.Config{
		APIKey:    p.apiKey,
		Model:     name,
		MaxTokens: p.defaultMaxTokens,
	})
	if err != nil {
		klog.Errorf("[ClaudeProvider] ChatModel creation failed: model=%s, err=%v", name, err)
		return nil, err
	}
	p.chatModels[name] = cm
	return cm, nil
}

func (p *ClaudeProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	klog.V(6).Infof("[ClaudeProvider.Complete] model=%s, systemLen=%d, userLen=%d",
		req.Model, len(req.System), len(req.User))

	cm, err := p.chatModel(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	var opts []model.Option
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}

	msgs := []*schema.Message{
		schema.SystemMessage(req.System),
		schema.UserMessage(req.User),
	}

	resp, err := cm.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	out := &Completion{Text: resp.Content}
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		out.Usage = *resp.ResponseMeta.Usage
	}
	return out, nil
}

// GenerateImage is not available on this family.
func (p *ClaudeProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return nil, ErrNotSupported
}
