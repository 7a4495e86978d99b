package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"k8s.io/klog/v2"
)

// OpenAIProvider serves text completions through eino ChatModels and image
// generation through the Images API. ChatModels are cached per model name;
// creation is cheap but not free and the pipeline switches models between
// stages.
type OpenAIProvider struct {
	apiKey  string
	baseURL string

	imageModel  string
	imageClient openai.Client

	mu         sync.Mutex
	chatModels map[string]model.ToolCallingChatModel
}

// NewOpenAIProvider creates the provider. baseURL is optional; imageModel
// defaults to dall-e-3.
func NewOpenAIProvider(apiKey, baseURL, imageModel string) *OpenAIProvider {
	if imageModel == "" {
		imageModel = string(openai.ImageModelDallE3)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIProvider{
		apiKey:      apiKey,
		baseURL:     baseURL,
		imageModel:  imageModel,
		imageClient: openai.NewClient(opts...),
		chatModels:  make(map[string]model.ToolCallingChatModel),
	}
}

func (p *OpenAIProvider) chatModel(ctx context.Context, name string) (model.ToolCallingChatModel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cm, ok := p.chatModels[name]; ok {
		return cm, nil
	}

	cfg := &einoopenai.ChatModelConfig{
		APIKey: p.apiKey,
		Model:  name,
	}
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}

	cm, err := einoopenai.NewChatModel(ctx, cfg)
	if err != nil {
		klog.Errorf("[OpenAIProvider] ChatModel creation failed: model=%s, err=%v", name, err)
		return nil, err
	}
	p.chatModels[name] = cm
	return cm, nil
}

// Complete runs one chat completion and maps the response back to the
// provider contract.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	klog.V(6).Infof("[OpenAIProvider.Complete] model=%s, systemLen=%d, userLen=%d",
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
	klog.V(6).Infof("[OpenAIProvider.Complete] done: model=%s, responseLen=%d, totalTokens=%d",
		req.Model, len(out.Text), out.Usage.TotalTokens)
	return out, nil
}

// GenerateImage produces PNG bytes for the prompt. Rate-limit and policy
// rejections come back as typed errors so callers can branch.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	klog.V(6).Infof("[OpenAIProvider.GenerateImage] model=%s, promptLen=%d", p.imageModel, len(prompt))

	resp, err := p.imageClient.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(p.imageModel),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, classifyImageError(err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, errors.New("image response contained no data")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	klog.V(6).Infof("[OpenAIProvider.GenerateImage] done: bytes=%d", len(data))
	return data, nil
}

func classifyImageError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return &QuotaError{Message: apierr.Message}
		case strings.Contains(apierr.Error(), "content_policy"):
			return &ContentPolicyError{Message: apierr.Message}
		}
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") || strings.Contains(err.Error(), "429") {
		return &QuotaError{Message: err.Error()}
	}
	return err
}
