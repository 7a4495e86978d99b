package outline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/articleforge/backend/internal/model"
)

// grid builds a minimal sheet with the given title row, keyword row and
// heading rows starting at row 7.
func grid(titleRow, keywordRow []string, headingRows ...[]string) [][]string {
	g := [][]string{
		{},         // row 1
		titleRow,   // row 2
		keywordRow, // row 3
		{}, {}, {}, // rows 4-6
	}
	return append(g, headingRows...)
}

func TestExtractBasicOutline(t *testing.T) {
	g := grid(
		[]string{"タイトル", "共働き世帯の家事分担を見直すコツ"},
		[]string{"メインKW", "共働き 家事分担"},
		[]string{"", "H2", "家事分担がうまくいかない理由"},
		[]string{"", "H3", "時間のすれ違い"},
		[]string{"", "H2", "見直しのステップ"},
	)

	o, err := NewExtractor().Extract(g, false)
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, "共働き 家事分担", o.Keyword)
	assert.Equal(t, "共働き世帯の家事分担を見直すコツ", o.Title)
	require.Len(t, o.Headings, 3)
	assert.Equal(t, model.LevelH2, o.Headings[0].Level)
	assert.Equal(t, "家事分担がうまくいかない理由", o.Headings[0].Text)
	assert.Equal(t, model.LevelH3, o.Headings[1].Level)
	assert.Equal(t, 2, o.H2Count())
}

func TestExtractDoneSentinel(t *testing.T) {
	g := grid(
		[]string{"タイトル", "共働き世帯の家事分担を見直すコツ", "処理済み"},
		[]string{"メインKW", "共働き 家事分担"},
		[]string{"", "H2", "家事分担がうまくいかない理由"},
	)

	o, err := NewExtractor().Extract(g, false)
	assert.Nil(t, o)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	// force bypasses the sentinel and re-extracts the same outline
	o, err = NewExtractor().Extract(g, true)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "共働き世帯の家事分担を見直すコツ", o.Title)
}

func TestExtractH1RowOverridesTitle(t *testing.T) {
	g := grid(
		[]string{"タイトル", "仮タイトルとして十分に長い文字列です"},
		[]string{"キーワード", "転職 面接"},
		[]string{"", "H1", "面接で評価される自己紹介の作り方"},
		[]string{"", "H2", "自己紹介の基本構成"},
	)

	o, err := NewExtractor().Extract(g, false)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "面接で評価される自己紹介の作り方", o.Title)
	// the H1 row never enters the headings list
	require.Len(t, o.Headings, 1)
	assert.Equal(t, model.LevelH2, o.Headings[0].Level)
}

func TestExtractColumnDrift(t *testing.T) {
	// level token and text separated by empty cells, in shifted columns
	g := grid(
		[]string{"", "", "タイトル", "十分な長さを持つドリフトしたタイトル"},
		[]string{"", "", "メインKW", "主婦 パート"},
		[]string{"", "", "", "H2", "", "扶養内で働くメリット"},
		[]string{"H3", "", "税金の境界線"},
	)

	o, err := NewExtractor().Extract(g, false)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "主婦 パート", o.Keyword)
	require.Len(t, o.Headings, 2)
	assert.Equal(t, "扶養内で働くメリット", o.Headings[0].Text)
	assert.Equal(t, "税金の境界線", o.Headings[1].Text)
}

func TestExtractSkipCases(t *testing.T) {
	// too short
	o, err := NewExtractor().Extract([][]string{{"a"}, {"b"}}, false)
	assert.Nil(t, o)
	assert.NoError(t, err)

	// no headings
	g := grid(
		[]string{"タイトル", "見出しのないシートのタイトルです"},
		[]string{"メインKW", "kw"},
	)
	o, err = NewExtractor().Extract(g, false)
	assert.Nil(t, o)
	assert.NoError(t, err)

	// no title: short title cell and no H1 row
	g = grid(
		[]string{"タイトル", "短い"},
		[]string{"メインKW", "kw"},
		[]string{"", "H2", "見出し"},
	)
	o, err = NewExtractor().Extract(g, false)
	assert.Nil(t, o)
	assert.NoError(t, err)
}

func TestExtractDeterministic(t *testing.T) {
	g := grid(
		[]string{"タイトル", "同一グリッドからの抽出は常に同一です"},
		[]string{"メインKW", "kw"},
		[]string{"", "H2", "一つ目"},
		[]string{"", "H2", "二つ目"},
	)

	first, err := NewExtractor().Extract(g, false)
	require.NoError(t, err)
	second, err := NewExtractor().Extract(g, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
