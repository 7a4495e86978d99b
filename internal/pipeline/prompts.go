package pipeline

import (
	"fmt"
	"strings"

	"github.com/articleforge/backend/internal/model"
)

// Article length policy, measured in runes of the raw model output.
const (
	LengthMin    = 5000
	LengthMax    = 6000
	LengthIdeal  = 5500
	IntroReserve = 1000
	BodyBudget   = LengthIdeal - IntroReserve
	SectionBand  = 100
)

// sectionTarget is the per-H2 character target derived from the body budget.
func sectionTarget(h2Count int) int {
	if h2Count <= 0 {
		return BodyBudget
	}
	return BodyBudget / h2Count
}

// formatHeadings renders the outline as a Markdown heading list, indenting
// H3/H4 under their parents so the model sees the tree shape.
func formatHeadings(headings []model.HeadingNode) string {
	var sb strings.Builder
	for _, h := range headings {
		switch h.Level {
		case model.LevelH3:
			sb.WriteString("  ")
		case model.LevelH4:
			sb.WriteString("    ")
		}
		sb.WriteString(strings.Repeat("#", int(h.Level)))
		sb.WriteString(" ")
		sb.WriteString(h.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

const designSystem = `あなたはSEO記事の構成設計の専門家です。与えられたキーワードと見出し構成から、執筆前の設計メモを作成してください。
設計メモには以下を含めてください。
- 読者が抱えている疑問・悩み
- 記事内で使う専門用語とその平易な言い換え
- 各H2セクションで伝えるべき要点（1〜2文）
- 執筆時に陥りやすい失敗とその回避策
設計メモは記事本文には含まれません。箇条書き中心で簡潔に書いてください。`

func designUser(o *model.Outline) string {
	return fmt.Sprintf(`メインキーワード: %s
記事タイトル: %s

見出し構成:
%s
この構成で記事を書くための設計メモを作成してください。`,
		o.Keyword, o.Title, formatHeadings(o.Headings))
}

func draftSystem(h2Count int) string {
	target := sectionTarget(h2Count)
	return fmt.Sprintf(`あなたはSEO記事のライターです。以下のルールを厳守して記事本文をMarkdownで執筆してください。

【見出しルール】
- 指定された見出しを一字一句そのまま、指定された順序で使うこと。見出しの追加・削除・変更は禁止。

【文字数ルール】
- 記事全体は%d〜%d文字（理想は%d文字程度）。
- 導入文はおよそ%d文字。
- 各H2セクションは%d文字前後（±%d文字）を目安にすること。

【表記ルール】
- 「働」という漢字は必ずひらがなで「はたらく」のように表記すること（例: 共働き→共ばたらき）。ただし「履歴書」「自己PR」「面接」「職場」「時給」を含む文脈ではこの限りではない。
- 太字（**）は使用しないこと。

【構成ルール】
- 記事全体でMarkdownの表を2つ以上、箇条書きリストを2つ以上使うこと。
- 本文のみを出力し、前置きや説明は不要。`,
		LengthMin, LengthMax, LengthIdeal, IntroReserve, target, SectionBand)
}

func draftUser(o *model.Outline, design string) string {
	return fmt.Sprintf(`メインキーワード: %s
記事タイトル: %s

見出し構成（この通りに使用すること）:
%s
設計メモ:
%s

上記に基づいて記事本文を執筆してください。`,
		o.Keyword, o.Title, formatHeadings(o.Headings), design)
}

const auditSystem = `あなたはSEO記事の校閲者です。設計メモと記事本文を読み比べ、問題点をJSONで報告してください。本文の書き換えは行わないこと。
出力は以下の形式のJSONのみとします。
{
  "offtrack": [{"location": "場所", "issue": "問題", "fix": "修正案"}],
  "repetition": [{"location": "場所", "issue": "問題", "fix": "修正案"}],
  "contradiction": [{"location": "場所", "issue": "問題", "fix": "修正案"}],
  "term": [{"preferred": "推奨表記", "found": "実際の表記", "locations": ["場所"]}],
  "thin": [{"h2": "H2見出し", "issue": "問題", "fix": "修正案"}]
}
問題がないカテゴリは空配列としてください。`

func auditUser(design, draft string) string {
	return fmt.Sprintf(`設計メモ:
%s

記事本文:
%s

上記を校閲し、指定フォーマットのJSONのみを出力してください。`, design, draft)
}

func refineSystem() string {
	return fmt.Sprintf(`あなたはSEO記事の編集者です。校閲結果で指摘された箇所のみを修正してください。
- 指摘のない箇所は変更しないこと。
- 見出しの追加・削除・順序変更は禁止。
- 修正後も記事全体を%d〜%d文字に収めること。現在の文字数が範囲外の場合は、指摘修正とあわせて分量を調整すること。
- 修正後の記事本文のみをMarkdownで出力すること。`, LengthMin, LengthMax)
}

func refineUser(draft, auditJSON string) string {
	return fmt.Sprintf(`記事本文:
%s

校閲結果(JSON):
%s

指摘箇所のみを修正した記事全文を出力してください。`, draft, auditJSON)
}

func appendSystem() string {
	return fmt.Sprintf(`あなたはSEO記事の編集者です。記事の文字数が不足しています。以下のルールで加筆してください。
- 既存の文章は削除・短縮しないこと。
- 見出しは一字一句そのまま維持すること。
- 内容の薄いセクションを中心に、具体例や補足説明を追記すること。
- 加筆後の記事全文（%d文字以上）をMarkdownで出力すること。`, LengthMin)
}

func appendUser(article string, shortfall int, thin []model.ThinFinding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "現在の記事は目標より約%d文字不足しています。\n", shortfall)
	if len(thin) > 0 {
		sb.WriteString("特に以下のセクションが薄いと指摘されています。\n")
		for _, t := range thin {
			fmt.Fprintf(&sb, "- %s: %s\n", t.H2, t.Issue)
		}
	}
	sb.WriteString("\n記事本文:\n")
	sb.WriteString(article)
	sb.WriteString("\n\n加筆した記事全文を出力してください。")
	return sb.String()
}
