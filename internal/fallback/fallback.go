// Package fallback 在显式边界不可用时按有序启发式规则提取内容。
package fallback

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	lru "github.com/hashicorp/golang-lru/v2"

	"dumptree/pkg/contract"
)

// RuleFunc: 纯函数 (document, path) → (content, matched)。
type RuleFunc func(doc string, path contract.FileID) (string, bool)

// Rule: 命名的回退规则。
type Rule struct {
	Name  string
	Match RuleFunc
}

// Options: 匹配器选项。
type Options struct {
	// CacheSize: 按路径编译的正则缓存容量；<=0 使用默认 256。
	CacheSize int `json:"cache_size"`
	// MatchTimeout: 单次正则匹配的超时；<=0 使用默认 2s。
	MatchTimeout time.Duration `json:"match_timeout"`
}

// Matcher: 依序尝试规则，首个命中者胜出（不合并、不排序）。
// 每条规则针对整篇文档独立求值。并发安全。
type Matcher struct {
	rules    []Rule
	cache    *lru.Cache[string, *regexp2.Regexp]
	fencedRe *regexp2.Regexp
	timeout  time.Duration
}

const (
	RuleFenced        = "fenced_block"
	RuleHeadingBlock  = "heading_block"
	RuleHeadingFenced = "heading_fenced"
)

// New 构造带默认规则序列的匹配器：
//  1. 文档中第一个围栏代码块（粗粒度，面向单文件文档）；
//  2. 等于目标路径的 "##" 标题行之后、直到下一个 "##" 标题或文末的文本块；
//  3. 等于目标路径的 "###" 标题行之后紧跟的围栏代码块。
func New(opts *Options) (*Matcher, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 256
	}
	if o.MatchTimeout <= 0 {
		o.MatchTimeout = 2 * time.Second
	}
	cache, err := lru.New[string, *regexp2.Regexp](o.CacheSize)
	if err != nil {
		return nil, err
	}
	fenced := regexp2.MustCompile("```[a-z]*\\n(.*?)```", regexp2.Singleline|regexp2.Multiline)
	fenced.MatchTimeout = o.MatchTimeout
	m := &Matcher{cache: cache, fencedRe: fenced, timeout: o.MatchTimeout}
	m.rules = []Rule{
		{Name: RuleFenced, Match: m.fenced},
		{Name: RuleHeadingBlock, Match: m.pathRule(RuleHeadingBlock, `##\s+%s\s*\n(.*?)(?=\n##|\z)`)},
		{Name: RuleHeadingFenced, Match: m.pathRule(RuleHeadingFenced, "###\\s+%s\\s*\\n```[a-z]*\\n(.*?)```")},
	}
	return m, nil
}

// WithRules 返回使用给定规则序列的副本（共享缓存）。
func (m *Matcher) WithRules(rules ...Rule) *Matcher {
	cp := *m
	cp.rules = append([]Rule(nil), rules...)
	return &cp
}

// Rules 返回当前规则序列（只读副本）。
func (m *Matcher) Rules() []Rule { return append([]Rule(nil), m.rules...) }

// Match 返回首个命中规则的内容（去首尾空白）与规则名；均未命中时 ok=false。
// 命中但内容为空同样算命中，由调用方决定如何处置。
func (m *Matcher) Match(doc string, path contract.FileID) (content, rule string, ok bool) {
	p := contract.FileID(strings.ReplaceAll(string(path), "\\", "/"))
	for _, r := range m.rules {
		if c, hit := r.Match(doc, p); hit {
			return strings.TrimSpace(c), r.Name, true
		}
	}
	return "", "", false
}

func (m *Matcher) fenced(doc string, _ contract.FileID) (string, bool) {
	return firstGroup(m.fencedRe, doc)
}

// pathRule 以 tmpl（%s 为转义后的路径）构造按路径编译并缓存的规则。
func (m *Matcher) pathRule(name, tmpl string) RuleFunc {
	return func(doc string, path contract.FileID) (string, bool) {
		key := name + "\x00" + string(path)
		re, ok := m.cache.Get(key)
		if !ok {
			expr := strings.Replace(tmpl, "%s", regexp2.Escape(string(path)), 1)
			var err error
			re, err = regexp2.Compile(expr, regexp2.Singleline|regexp2.Multiline)
			if err != nil {
				return "", false
			}
			re.MatchTimeout = m.timeout
			m.cache.Add(key, re)
		}
		return firstGroup(re, doc)
	}
}

func firstGroup(re *regexp2.Regexp, doc string) (string, bool) {
	mt, err := re.FindStringMatch(doc)
	if err != nil || mt == nil {
		return "", false
	}
	return mt.GroupByNumber(1).String(), true
}
