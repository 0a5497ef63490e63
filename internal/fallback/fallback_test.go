package fallback

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumptree/pkg/contract"
)

func newMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := New(nil)
	require.NoError(t, err)
	return m
}

// UT-FB-01: 单文件文档，首个围栏代码块胜出。
func TestMatchFencedBlock(t *testing.T) {
	m := newMatcher(t)
	doc := "Intro\n```python\nprint('hi')\n```\nmore\n```go\npackage x\n```\n"
	got, rule, ok := m.Match(doc, "app.py")
	require.True(t, ok)
	assert.Equal(t, RuleFenced, rule)
	assert.Equal(t, "print('hi')", got)
}

// UT-FB-02: 无围栏时按 "##" 标题截取到下一个标题。
func TestMatchHeadingBlock(t *testing.T) {
	m := newMatcher(t)
	doc := "# Project\n\n## src/a.txt\nalpha line\nsecond\n\n## src/b.txt\nbeta\n"
	got, rule, ok := m.Match(doc, "src/a.txt")
	require.True(t, ok)
	assert.Equal(t, RuleHeadingBlock, rule)
	assert.Equal(t, "alpha line\nsecond", got)

	got, _, ok = m.Match(doc, "src/b.txt")
	require.True(t, ok)
	assert.Equal(t, "beta", got, "最后一段截取到文末")
}

// UT-FB-03: 路径中的正则元字符按字面匹配。
func TestMatchEscapesPath(t *testing.T) {
	m := newMatcher(t)
	doc := "## a+b(1).txt\nliteral\n## aab1.txt\nwrong\n"
	got, _, ok := m.Match(doc, "a+b(1).txt")
	require.True(t, ok)
	assert.Equal(t, "literal", got)

	_, _, ok = m.Match(doc, "a.b.txt")
	assert.False(t, ok)
}

// UT-FB-04: 自定义规则序列，first-match-wins，后续规则不被求值。
func TestMatchOrderFirstWins(t *testing.T) {
	var calls []string
	mk := func(name string, hit bool) Rule {
		return Rule{Name: name, Match: func(string, contract.FileID) (string, bool) {
			calls = append(calls, name)
			return "  " + name + "  ", hit
		}}
	}
	m := newMatcher(t).WithRules(mk("a", false), mk("b", true), mk("c", true))
	got, rule, ok := m.Match("doc", "x.txt")
	require.True(t, ok)
	assert.Equal(t, "b", rule)
	assert.Equal(t, "b", got)
	assert.Equal(t, []string{"a", "b"}, calls)
}

// UT-FB-05: 全部规则未命中。
func TestMatchNoRule(t *testing.T) {
	m := newMatcher(t)
	_, _, ok := m.Match("nothing to see here", "src/x.go")
	assert.False(t, ok)
}

// UT-FB-06: 命中但内容为空仍视为命中。
func TestMatchEmptyContent(t *testing.T) {
	m := newMatcher(t)
	got, rule, ok := m.Match("```\n```", "x.txt")
	require.True(t, ok)
	assert.Equal(t, RuleFenced, rule)
	assert.Empty(t, got)
}

// UT-FB-07: 反斜杠路径按正斜杠匹配。
func TestMatchNormalizesBackslash(t *testing.T) {
	m := newMatcher(t)
	got, _, ok := m.Match("## src/win.txt\nbody\n", `src\win.txt`)
	require.True(t, ok)
	assert.Equal(t, "body", got)
}

// UT-FB-08: 匹配是纯函数，重复调用结果一致（含缓存路径）。
func TestMatchDeterministic(t *testing.T) {
	m := newMatcher(t)
	doc := "## a.txt\none\n## b.txt\ntwo\n"
	for i := 0; i < 3; i++ {
		got, rule, ok := m.Match(doc, "b.txt")
		require.True(t, ok)
		assert.Equal(t, RuleHeadingBlock, rule)
		assert.Equal(t, "two", got)
	}
}

func TestScanHeadings(t *testing.T) {
	doc := "# Title\n## src/main.go\ncode\n### docs/guide.md  \n## not a file\n## src/main.go\n#### a-b_c/$x.v2\ntext ## x.y\n"
	got := ScanHeadings(doc)
	want := []contract.FileID{"src/main.go", "docs/guide.md", "a-b_c/$x.v2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ScanHeadings mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, ScanHeadings("no headings"))
}
