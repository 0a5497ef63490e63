// Package mock 提供离线的确定性 LLM 客户端，用于联调与端到端测试。
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"dumptree/internal/demux"
	"dumptree/internal/fallback"
	"dumptree/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // echo 模式的输出前缀，默认 "MOCK"
	// ResponseMode:
	//  - "" / "oracle": 按 system 提示词识别用途，基于文档中的 "##" 标题给出确定性答复；
	//  - "echo": 回显 Prompt 摘要。
	ResponseMode string `json:"response_mode,omitempty"`
	// ChunkSize: 流式输出的分片字节数，默认 64。
	ChunkSize int `json:"chunk_size,omitempty"`
}

type Client struct {
	prefix  string
	mode    string
	chunk   int
	matcher *fallback.Matcher
	proto   demux.Protocol
}

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
	_ contract.Pinger      = (*Client)(nil)
)

// pathRe 从 content 用途的 user 消息中取出目标路径。
var pathRe = regexp2.MustCompile(`for this file: (\S+)`, regexp2.None)

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.ToLower(strings.TrimSpace(o.ResponseMode))
	switch mode {
	case "":
		mode = "oracle"
	case "oracle", "echo":
	default:
		return nil, fmt.Errorf("%w: mock response_mode %q", contract.ErrInvalidInput, o.ResponseMode)
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 64
	}
	m, err := fallback.New(nil)
	if err != nil {
		return nil, err
	}
	// 只按路径定位；首个围栏块规则会让所有文件得到同一内容
	var rules []fallback.Rule
	for _, r := range m.Rules() {
		if r.Name != fallback.RuleFenced {
			rules = append(rules, r)
		}
	}
	return &Client{
		prefix:  o.Prefix,
		mode:    mode,
		chunk:   o.ChunkSize,
		matcher: m.WithRules(rules...),
		proto:   demux.DefaultProtocol,
	}, nil
}

func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	if c.mode == "echo" {
		return contract.Raw{Text: c.echo(p)}, nil
	}
	kind, user, err := c.classify(p)
	if err != nil {
		return contract.Raw{}, err
	}
	return contract.Raw{Text: c.answer(kind, user)}, nil
}

// InvokeStream 把完整答复按 ChunkSize 切片后逐个交付。
func (c *Client) InvokeStream(ctx context.Context, p contract.Prompt, yield func(string) error) error {
	raw, err := c.Invoke(ctx, p)
	if err != nil {
		return err
	}
	s := raw.Text
	for len(s) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(c.chunk, len(s))
		if err := yield(s[:n]); err != nil {
			return err
		}
		s = s[n:]
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) ([]string, error) {
	return []string{"mock-" + c.mode}, ctx.Err()
}

// classify 依据 system 提示词中的特征文字识别用途，返回 user 消息文本。
func (c *Client) classify(p contract.Prompt) (contract.PromptKind, string, error) {
	chat, ok := p.(contract.ChatPrompt)
	if !ok {
		if t, isText := p.(contract.TextPrompt); isText {
			return contract.PromptStream, string(t), nil
		}
		return "", "", fmt.Errorf("%w: unsupported prompt type %T", contract.ErrInvalidInput, p)
	}
	var sys, user strings.Builder
	for _, m := range chat {
		if strings.EqualFold(m.Role, "system") {
			sys.WriteString(m.Content)
		} else {
			user.WriteString(m.Content)
		}
	}
	s := sys.String()
	switch {
	case strings.Contains(s, c.proto.Start):
		return contract.PromptStream, user.String(), nil
	case strings.Contains(s, "FILE_NOT_FOUND"):
		return contract.PromptContent, user.String(), nil
	case strings.Contains(s, "start_marker"):
		return contract.PromptBoundary, user.String(), nil
	case strings.Contains(s, "file structure extractor"):
		return contract.PromptStructure, user.String(), nil
	}
	return "", "", fmt.Errorf("%w: unrecognized system prompt", contract.ErrInvalidInput)
}

func (c *Client) answer(kind contract.PromptKind, user string) string {
	doc := document(user)
	switch kind {
	case contract.PromptStructure:
		return joinPaths(fallback.ScanHeadings(doc))
	case contract.PromptContent:
		path := ""
		if mt, _ := pathRe.FindStringMatch(user); mt != nil {
			path = mt.GroupByNumber(1).String()
		}
		if content, _, ok := c.matcher.Match(doc, contract.FileID(path)); ok && content != "" {
			return content
		}
		return "FILE_NOT_FOUND"
	case contract.PromptBoundary:
		return boundaries(doc)
	default:
		var sb strings.Builder
		for _, p := range fallback.ScanHeadings(doc) {
			content, _, ok := c.matcher.Match(doc, p)
			if !ok {
				continue
			}
			sb.WriteString(c.proto.Start + string(p) + c.proto.HeaderEnd + "\n")
			sb.WriteString(content + "\n")
			sb.WriteString(c.proto.Stop + "\n")
		}
		if sb.Len() == 0 {
			return "No code found to organize"
		}
		return sb.String()
	}
}

// document 去掉 user 模板的固定前言。
func document(user string) string {
	if i := strings.Index(user, "Content:\n"); i >= 0 {
		return user[i+len("Content:\n"):]
	}
	return user
}

type entry struct {
	Filename    string `json:"filename"`
	StartMarker string `json:"start_marker"`
	EndMarker   string `json:"end_marker"`
}

// endOfDocument: 末尾条目的结束标记，文档中不存在，该条目交由回退规则处理。
const endOfDocument = "<<<END_OF_DOCUMENT>>>"

// boundaries 以标题行为起始标记、下一个标题行为结束标记。
func boundaries(doc string) string {
	type heading struct {
		line string
		path contract.FileID
	}
	want := map[contract.FileID]bool{}
	for _, p := range fallback.ScanHeadings(doc) {
		want[p] = true
	}
	var hs []heading
	for _, ln := range strings.Split(doc, "\n") {
		t := strings.TrimSpace(ln)
		if !strings.HasPrefix(t, "#") {
			continue
		}
		p := contract.FileID(strings.TrimSpace(strings.TrimLeft(t, "#")))
		if want[p] {
			hs = append(hs, heading{line: t, path: p})
		}
	}
	out := make([]entry, 0, len(hs))
	for i, h := range hs {
		e := entry{Filename: string(h.path), StartMarker: h.line, EndMarker: endOfDocument}
		if i+1 < len(hs) {
			e.EndMarker = hs[i+1].line
		}
		out = append(out, e)
	}
	bts, _ := json.MarshalIndent(out, "", "  ")
	return string(bts)
}

func joinPaths(ps []contract.FileID) string {
	ss := make([]string, len(ps))
	for i, p := range ps {
		ss[i] = string(p)
	}
	return strings.Join(ss, "\n")
}

func (c *Client) echo(p contract.Prompt) string {
	switch v := p.(type) {
	case contract.TextPrompt:
		return fmt.Sprintf("%s(text): %s", c.prefix, string(v))
	case contract.ChatPrompt:
		if len(v) == 0 {
			return fmt.Sprintf("%s(chat): <empty>", c.prefix)
		}
		return fmt.Sprintf("%s(chat:%s): %s", c.prefix, v[0].Role, v[0].Content)
	default:
		return fmt.Sprintf("%s(unknown prompt type)", c.prefix)
	}
}
