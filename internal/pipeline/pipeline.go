package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"

	"github.com/articleforge/backend/internal/llm"
	"github.com/articleforge/backend/internal/model"
	"github.com/articleforge/backend/internal/utils"
)

// appendMaxAttempts bounds the length-repair loop.
const appendMaxAttempts = 3

// Models names the backend model used by each stage. Stages may share a
// model; the split exists because audit/refine benefit from a stronger one.
type Models struct {
	Design string
	Draft  string
	Audit  string
	Refine string
	Append string
}

// Result is the pipeline output for one outline. Warnings record every
// degradation (audit/refine fallback, append exhaustion, out-of-band
// length); a result without the matching warning is a bug, not a feature.
type Result struct {
	Article  string
	Audit    *model.AuditResult
	Warnings []string
	UsageLog map[string]schema.TokenUsage
}

// TotalTokens sums usage across stages, tolerating missing entries.
func (r *Result) TotalTokens() int {
	total := 0
	for _, u := range r.UsageLog {
		total += u.TotalTokens
	}
	return total
}

// Pipeline drives the Design, Draft, Audit, Refine and Append stages for one
// outline. Stages of one outline run strictly sequentially.
type Pipeline struct {
	provider llm.Provider
	models   Models
}

func NewPipeline(provider llm.Provider, models Models) *Pipeline {
	return &Pipeline{provider: provider, models: models}
}

// Generate runs the full stage sequence. Design and Draft failures abort;
// Audit and Refine failures degrade to the draft with a recorded warning.
// An audit without findings leaves nothing to fix, so Refine is skipped.
func (p *Pipeline) Generate(ctx context.Context, o *model.Outline) (*Result, error) {
	klog.V(6).Infof("[Pipeline.Generate] start: keyword=%q, title=%q, headings=%d",
		o.Keyword, o.Title, len(o.Headings))

	sm := NewStageMachine()
	result := &Result{UsageLog: make(map[string]schema.TokenUsage)}

	// Design: grounding context only, never part of the article.
	design, err := p.complete(ctx, result, string(StageDesign), p.models.Design, designSystem, designUser(o))
	if err != nil {
		return nil, fmt.Errorf("design stage failed: %w", err)
	}

	if err := sm.Advance(StageDraft); err != nil {
		return nil, err
	}
	draft, err := p.complete(ctx, result, string(StageDraft), p.models.Draft, draftSystem(o.H2Count()), draftUser(o, design))
	if err != nil {
		return nil, fmt.Errorf("draft stage failed: %w", err)
	}
	draft = utils.ExtractMarkdown(draft)
	klog.V(6).Infof("[Pipeline.Generate] draft done: length=%d", runeLen(draft))

	if err := sm.Advance(StageAudit); err != nil {
		return nil, err
	}
	final := draft
	audit, auditJSON := p.audit(ctx, result, design, draft)
	result.Audit = audit

	switch {
	case audit == nil:
		// audit degraded, nothing to refine against
	case !audit.HasFindings():
		klog.V(6).Infof("[Pipeline.Generate] audit clean, skipping refine")
	default:
		if err := sm.Advance(StageRefine); err != nil {
			return nil, err
		}
		refined, err := p.complete(ctx, result, string(StageRefine), p.models.Refine, refineSystem(), refineUser(draft, auditJSON))
		if err != nil {
			p.warn(result, "refine failed, keeping draft: %v", err)
		} else if refined = utils.ExtractMarkdown(refined); strings.TrimSpace(refined) != "" {
			final = refined
		} else {
			p.warn(result, "refine returned empty output, keeping draft")
		}
	}

	final = p.appendLoop(ctx, sm, result, final, audit)

	if err := sm.Advance(StageFinal); err != nil {
		return nil, err
	}
	if n := runeLen(final); n < LengthMin || n > LengthMax {
		p.warn(result, "final length %d outside band %d-%d", n, LengthMin, LengthMax)
	}

	result.Article = final
	klog.V(6).Infof("[Pipeline.Generate] done: length=%d, warnings=%d, totalTokens=%d",
		runeLen(final), len(result.Warnings), result.TotalTokens())
	return result, nil
}

// audit runs the read-only findings pass. Any failure degrades to a nil
// audit with a warning; the caller then skips refine.
func (p *Pipeline) audit(ctx context.Context, result *Result, design, draft string) (*model.AuditResult, string) {
	raw, err := p.complete(ctx, result, string(StageAudit), p.models.Audit, auditSystem, auditUser(design, draft))
	if err != nil {
		p.warn(result, "audit failed, keeping draft: %v", err)
		return nil, ""
	}

	auditJSON := utils.ExtractJSON(raw)
	var audit model.AuditResult
	if err := json.Unmarshal([]byte(auditJSON), &audit); err != nil {
		p.warn(result, "audit response unparseable, keeping draft: %v", err)
		return nil, ""
	}
	klog.V(6).Infof("[Pipeline.audit] findings: offtrack=%d, repetition=%d, contradiction=%d, term=%d, thin=%d",
		len(audit.OffTrack), len(audit.Repetition), len(audit.Contradiction), len(audit.Term), len(audit.Thin))
	return &audit, auditJSON
}

// appendLoop repairs short output only. Overlength is refine's problem and
// never triggers appending. The loop stops at the attempt ceiling, on the
// first failed attempt, or once the minimum is met.
func (p *Pipeline) appendLoop(ctx context.Context, sm *StageMachine, result *Result, article string, audit *model.AuditResult) string {
	var thin []model.ThinFinding
	if audit != nil {
		thin = audit.Thin
	}

	for attempt := 1; attempt <= appendMaxAttempts; attempt++ {
		n := runeLen(article)
		if n >= LengthMin {
			return article
		}
		if err := sm.Advance(StageAppend); err != nil {
			p.warn(result, "append loop aborted: %v", err)
			return article
		}

		shortfall := LengthMin - n
		klog.V(6).Infof("[Pipeline.appendLoop] attempt=%d, length=%d, shortfall=%d", attempt, n, shortfall)

		key := fmt.Sprintf("append_%d", attempt)
		expanded, err := p.complete(ctx, result, key, p.models.Append, appendSystem(), appendUser(article, shortfall, thin))
		if err != nil {
			p.warn(result, "append attempt %d failed: %v", attempt, err)
			return article
		}
		expanded = utils.ExtractMarkdown(expanded)
		if runeLen(expanded) <= n {
			p.warn(result, "append attempt %d yielded no length gain", attempt)
			return article
		}
		article = expanded
	}

	if runeLen(article) < LengthMin {
		p.warn(result, "append attempts exhausted at length %d", runeLen(article))
	}
	return article
}

func (p *Pipeline) complete(ctx context.Context, result *Result, usageKey, modelName, system, user string) (string, error) {
	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		System: system,
		User:   user,
		Model:  modelName,
	})
	if err != nil {
		return "", err
	}
	result.UsageLog[usageKey] = resp.Usage
	return resp.Text, nil
}

func (p *Pipeline) warn(result *Result, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	klog.Warningf("[Pipeline] %s", msg)
	result.Warnings = append(result.Warnings, msg)
}

func runeLen(s string) int {
	return len([]rune(s))
}
