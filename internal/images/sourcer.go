package images

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/articleforge/backend/internal/llm"
	"github.com/articleforge/backend/internal/model"
	"github.com/articleforge/backend/internal/retry"
	"github.com/articleforge/backend/internal/store"
)

// Default inline image size in points.
const (
	DefaultWidthPt  = 400
	DefaultHeightPt = 300
)

// generationDelay throttles the serialized generation of "both" mode; the
// image backend enforces a tight per-minute quota.
const generationDelay = 30 * time.Second

// LibraryStore is the slice of the file store the sourcer needs.
type LibraryStore interface {
	ListImageFolders(ctx context.Context, rootID string) ([]store.ImageFolder, error)
	UploadPNG(ctx context.Context, folderID, name string, data []byte) (string, error)
	EnsurePublicRead(ctx context.Context, fileID string) error
}

// SectionImage is one image resolved for one H2 section. Per section,
// entries appear generated-first so that when the assembler stacks images at
// the same index the library image ends up on top.
type SectionImage struct {
	Section string
	URI     string
	AssetID string
	Kind    model.ImageMode
}

// Sourcer assigns images to article sections. The folder cache is owned
// explicitly by one instance and populated once per run; used-asset tracking
// is scoped to a single Source call, i.e. one document.
type Sourcer struct {
	provider       llm.Provider
	library        LibraryStore
	matchModel     string
	rootFolderID   string
	uploadFolderID string

	genPolicy    retry.Policy
	uploadPolicy retry.Policy

	// injectable for tests
	summaryPred func(heading string) bool
	randIntn    func(n int) int
	sleep       func(d time.Duration)

	folders []store.ImageFolder
	loaded  bool
}

// Option customizes a Sourcer; the defaults serve production.
type Option func(*Sourcer)

// WithSummaryPredicate replaces the summary-section detector. The default
// flags headings containing まとめ; the policy is a text heuristic and may
// need localization.
func WithSummaryPredicate(pred func(string) bool) Option {
	return func(s *Sourcer) { s.summaryPred = pred }
}

func WithRand(randIntn func(int) int) Option {
	return func(s *Sourcer) { s.randIntn = randIntn }
}

func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Sourcer) { s.sleep = sleep }
}

func WithPolicies(gen, upload retry.Policy) Option {
	return func(s *Sourcer) {
		s.genPolicy = gen
		s.uploadPolicy = upload
	}
}

func NewSourcer(provider llm.Provider, library LibraryStore, matchModel, rootFolderID, uploadFolderID string, opts ...Option) *Sourcer {
	s := &Sourcer{
		provider:       provider,
		library:        library,
		matchModel:     matchModel,
		rootFolderID:   rootFolderID,
		uploadFolderID: uploadFolderID,
		genPolicy:      retry.ImageGen(),
		uploadPolicy:   retry.Upload(),
		summaryPred: func(heading string) bool {
			return strings.Contains(heading, "まとめ")
		},
		randIntn: rand.Intn,
		sleep:    time.Sleep,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EligibleSections drops the final H2 (treated as the closing section) and
// any heading the summary predicate flags.
func (s *Sourcer) EligibleSections(h2s []string) []string {
	if len(h2s) == 0 {
		return nil
	}
	var out []string
	for _, h := range h2s[:len(h2s)-1] {
		if s.summaryPred(h) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Populate loads the library folder tree once. Subsequent calls are no-ops;
// a fresh Sourcer per run is the invalidation policy.
func (s *Sourcer) Populate(ctx context.Context) error {
	if s.loaded || s.rootFolderID == "" {
		return nil
	}
	folders, err := s.library.ListImageFolders(ctx, s.rootFolderID)
	if err != nil {
		return fmt.Errorf("populate image library: %w", err)
	}
	s.folders = folders
	s.loaded = true
	return nil
}

// Source assigns at most one image per strategy per eligible section.
// Used-asset IDs are tracked for the whole document: an asset never serves
// two sections.
func (s *Sourcer) Source(ctx context.Context, keyword string, h2s []string, mode model.ImageMode) ([]SectionImage, error) {
	sections := s.EligibleSections(h2s)
	if len(sections) == 0 {
		return nil, nil
	}

	switch mode {
	case model.ImageModeGenerated:
		return s.sourceGenerated(ctx, keyword, sections, false), nil
	case model.ImageModeBoth:
		return s.sourceBoth(ctx, keyword, sections)
	default:
		return s.sourceLibrary(ctx, sections)
	}
}

// sourceLibrary assigns library assets via model best-match with random
// fallback.
func (s *Sourcer) sourceLibrary(ctx context.Context, sections []string) ([]SectionImage, error) {
	if err := s.Populate(ctx); err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	var out []SectionImage
	for _, section := range sections {
		asset, ok := s.pickLibraryAsset(ctx, section, used, true)
		if !ok {
			klog.V(6).Infof("[Sourcer.sourceLibrary] no unused asset left: section=%q", section)
			continue
		}
		used[asset.ID] = true
		out = append(out, SectionImage{
			Section: section,
			URI:     store.ImageURL(asset.ID),
			AssetID: asset.ID,
			Kind:    model.ImageModeLibrary,
		})
	}
	return out, nil
}

// sourceGenerated generates one image per section. haltOnQuota serializes
// failure handling for "both" mode, where a quota rejection stops the rest
// of the document.
func (s *Sourcer) sourceGenerated(ctx context.Context, keyword string, sections []string, haltOnQuota bool) []SectionImage {
	var out []SectionImage
	for i, section := range sections {
		if haltOnQuota && i > 0 {
			s.sleep(generationDelay)
		}

		img, err := s.generateOne(ctx, keyword, section)
		if err != nil {
			if haltOnQuota && llm.IsQuotaError(err) {
				klog.Warningf("[Sourcer.sourceGenerated] quota exhausted, halting remaining generation: section=%q", section)
				break
			}
			// one failed image never aborts the document
			klog.Warningf("[Sourcer.sourceGenerated] image skipped: section=%q, err=%v", section, err)
			continue
		}
		out = append(out, *img)
	}
	return out
}

// sourceBoth assigns library images by cheap name matching, then runs the
// strictly sequential generation pass. Generated entries precede library
// entries per section so the library image stacks on top in the document.
func (s *Sourcer) sourceBoth(ctx context.Context, keyword string, sections []string) ([]SectionImage, error) {
	if err := s.Populate(ctx); err != nil {
		return nil, err
	}

	used := make(map[string]bool)
	libraryBySection := make(map[string]SectionImage)
	for _, section := range sections {
		asset, ok := s.pickLibraryAsset(ctx, section, used, false)
		if !ok {
			continue
		}
		used[asset.ID] = true
		libraryBySection[section] = SectionImage{
			Section: section,
			URI:     store.ImageURL(asset.ID),
			AssetID: asset.ID,
			Kind:    model.ImageModeLibrary,
		}
	}

	generated := s.sourceGenerated(ctx, keyword, sections, true)
	generatedBySection := make(map[string]SectionImage, len(generated))
	for _, g := range generated {
		generatedBySection[g.Section] = g
	}

	var out []SectionImage
	for _, section := range sections {
		if g, ok := generatedBySection[section]; ok {
			out = append(out, g)
		}
		if l, ok := libraryBySection[section]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Sourcer) generateOne(ctx context.Context, keyword, section string) (*SectionImage, error) {
	prompt := fmt.Sprintf(
		"日本の生活情報サイト向けの挿絵。テーマ: %s。セクション: %s。写実的でテキストを含まないイラスト。",
		keyword, section)

	var data []byte
	err := s.genPolicy.Do(ctx, func() error {
		var genErr error
		data, genErr = s.provider.GenerateImage(ctx, prompt)
		if genErr != nil && !llm.IsQuotaError(genErr) {
			// only quota rejections are worth the long backoff
			return retry.Permanent(genErr)
		}
		return genErr
	})
	if err != nil {
		return nil, err
	}

	name := uuid.NewString() + ".png"
	var fileID string
	err = s.uploadPolicy.Do(ctx, func() error {
		var upErr error
		fileID, upErr = s.library.UploadPNG(ctx, s.uploadFolderID, name, data)
		return upErr
	})
	if err != nil {
		return nil, fmt.Errorf("upload generated image: %w", err)
	}
	if err := s.library.EnsurePublicRead(ctx, fileID); err != nil {
		return nil, err
	}

	return &SectionImage{
		Section: section,
		URI:     store.ImageURL(fileID),
		AssetID: fileID,
		Kind:    model.ImageModeGenerated,
	}, nil
}

// pickLibraryAsset chooses an unused asset for the section. With
// semanticMatch the folder is chosen by a model call; otherwise by folder
// name containment. Both fall back to a uniform random folder, then to any
// unused asset anywhere.
func (s *Sourcer) pickLibraryAsset(ctx context.Context, section string, used map[string]bool, semanticMatch bool) (store.Asset, bool) {
	if len(s.folders) == 0 {
		return store.Asset{}, false
	}

	var folder *store.ImageFolder
	if semanticMatch {
		folder = s.matchFolder(ctx, section)
	} else {
		folder = s.containsFolder(section)
	}
	if folder == nil {
		folder = &s.folders[s.randIntn(len(s.folders))]
	}

	if asset, ok := randomUnused(folder.Images, used, s.randIntn); ok {
		return asset, true
	}

	// matched bucket exhausted: fall back to the whole library
	var all []store.Asset
	for _, f := range s.folders {
		all = append(all, f.Images...)
	}
	return randomUnused(all, used, s.randIntn)
}

// matchFolder asks the model which folder name fits the heading best.
// Any failure or unrecognized answer falls through to the random fallback.
func (s *Sourcer) matchFolder(ctx context.Context, section string) *store.ImageFolder {
	names := make([]string, len(s.folders))
	for i, f := range s.folders {
		names[i] = f.Name
	}

	resp, err := s.provider.Complete(ctx, llm.CompletionRequest{
		System: "あなたは画像フォルダの分類担当です。見出しに最も合うフォルダ名を候補の中から1つだけ、フォルダ名のみで答えてください。どれも合わない場合は「なし」と答えてください。",
		User:   fmt.Sprintf("見出し: %s\nフォルダ候補:\n- %s", section, strings.Join(names, "\n- ")),
		Model:  s.matchModel,
	})
	if err != nil {
		klog.V(6).Infof("[Sourcer.matchFolder] match call failed, using random fallback: %v", err)
		return nil
	}

	answer := strings.TrimSpace(resp.Text)
	for i := range s.folders {
		if s.folders[i].Name == answer || strings.Contains(answer, s.folders[i].Name) {
			return &s.folders[i]
		}
	}
	return nil
}

func (s *Sourcer) containsFolder(section string) *store.ImageFolder {
	for i := range s.folders {
		if s.folders[i].Name != "" && strings.Contains(section, s.folders[i].Name) {
			return &s.folders[i]
		}
	}
	return nil
}

func randomUnused(assets []store.Asset, used map[string]bool, randIntn func(int) int) (store.Asset, bool) {
	var free []store.Asset
	for _, a := range assets {
		if !used[a.ID] {
			free = append(free, a)
		}
	}
	if len(free) == 0 {
		return store.Asset{}, false
	}
	return free[randIntn(len(free))], true
}
