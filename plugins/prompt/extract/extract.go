package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"

	"dumptree/internal/prompt"
	"dumptree/pkg/contract"
)

// Options 为提取类 PromptBuilder 的配置。
//   - SystemTemplates / SystemTemplatePaths: 按用途（boundary|structure|content|stream）覆盖 system 模板，
//     内联优先于路径；未覆盖的用途使用内置默认模板；
//   - *Limit: 各用途的文档截断上限（字节），<=0 使用默认值。
type Options struct {
	SystemTemplates     map[string]string `json:"system_templates"`
	SystemTemplatePaths map[string]string `json:"system_template_paths"`

	BoundaryLimit   int `json:"boundary_limit"`
	StructureLimit  int `json:"structure_limit"`
	ContentLimit    int `json:"content_limit"`
	MaxContextBytes int `json:"max_context_bytes"`
}

// 默认截断上限。
const (
	DefaultBoundaryLimit   = 10000
	DefaultStructureLimit  = 50000
	DefaultContentLimit    = 100000
	DefaultMaxContextBytes = 131072
)

// Builder: 以 PromptRequest 构造 ChatPrompt（system+user）。
// 运行期不做 I/O；模板在构造期解析。
type Builder struct {
	sys    map[contract.PromptKind]*template.Template
	user   map[contract.PromptKind]*template.Template
	limits map[contract.PromptKind]int
}

var kinds = [...]contract.PromptKind{
	contract.PromptBoundary, contract.PromptStructure, contract.PromptContent, contract.PromptStream,
}

// New 创建提取 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	for k := range o.SystemTemplates {
		if !knownKind(k) {
			return nil, fmt.Errorf("system template: unknown kind %q", k)
		}
	}
	for k := range o.SystemTemplatePaths {
		if !knownKind(k) {
			return nil, fmt.Errorf("system template path: unknown kind %q", k)
		}
	}
	b := &Builder{
		sys:  make(map[contract.PromptKind]*template.Template, len(kinds)),
		user: make(map[contract.PromptKind]*template.Template, len(kinds)),
		limits: map[contract.PromptKind]int{
			contract.PromptBoundary:  orDefault(o.BoundaryLimit, DefaultBoundaryLimit),
			contract.PromptStructure: orDefault(o.StructureLimit, DefaultStructureLimit),
			contract.PromptContent:   orDefault(o.ContentLimit, DefaultContentLimit),
			contract.PromptStream:    orDefault(o.MaxContextBytes, DefaultMaxContextBytes),
		},
	}
	for _, k := range kinds {
		// 加载 system 模板（构造期 I/O）。
		src := defaultSystem[k]
		if s, ok := o.SystemTemplates[string(k)]; ok && s != "" {
			src = s
		} else if p, ok := o.SystemTemplatePaths[string(k)]; ok && p != "" {
			raw, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("system template read (%s): %w", k, err)
			}
			src = string(raw)
		}
		st, err := template.New("system." + string(k)).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("system template parse (%s): %w", k, err)
		}
		ut, err := template.New("user." + string(k)).Parse(defaultUser[k])
		if err != nil {
			return nil, fmt.Errorf("user template parse (%s): %w", k, err)
		}
		b.sys[k], b.user[k] = st, ut
	}
	return b, nil
}

type userView struct {
	Document string
	Path     contract.FileID
	Clipped  bool
}

// Build 渲染 system 与 user 两条消息。文档按用途截断，内容不做改写。
func (b *Builder) Build(ctx context.Context, req contract.PromptRequest) (contract.Prompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	st, ok := b.sys[req.Kind]
	if !ok {
		return nil, fmt.Errorf("prompt: %w: unknown kind %q", contract.ErrInvalidInput, req.Kind)
	}
	if req.Kind == contract.PromptContent && req.Path == "" {
		return nil, fmt.Errorf("prompt: %w: content prompt needs a path", contract.ErrInvalidInput)
	}
	var sysBuf bytes.Buffer
	if err := st.Execute(&sysBuf, nil); err != nil {
		return nil, fmt.Errorf("system render: %w", contract.ErrInvalidInput)
	}
	doc, clipped := prompt.Clip(req.Document, b.limits[req.Kind])
	var userBuf bytes.Buffer
	userBuf.Grow(len(doc) + 256)
	if err := b.user[req.Kind].Execute(&userBuf, userView{Document: doc, Path: req.Path, Clipped: clipped}); err != nil {
		return nil, fmt.Errorf("user render: %w", contract.ErrInvalidInput)
	}
	return contract.ChatPrompt([]contract.Message{
		{Role: "system", Content: sysBuf.String()},
		{Role: "user", Content: userBuf.String()},
	}), nil
}

// EstimateOverheadTokens: 取各用途 system 模板与 user 固定部分估算值的最大者。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	most := 0
	for _, k := range kinds {
		var sb, ub bytes.Buffer
		_ = b.sys[k].Execute(&sb, nil)
		_ = b.user[k].Execute(&ub, userView{})
		if n := estimate(sb.String()) + estimate(ub.String()); n > most {
			most = n
		}
	}
	return most
}

// Limit 返回某用途的文档截断上限（字节）。
func (b *Builder) Limit(kind contract.PromptKind) int { return b.limits[kind] }

// 静态接口断言
var _ contract.PromptBuilder = (*Builder)(nil)

func knownKind(k string) bool {
	for _, kk := range kinds {
		if string(kk) == k {
			return true
		}
	}
	return false
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

var defaultSystem = map[contract.PromptKind]string{
	contract.PromptBoundary: `You are an analyst that identifies file boundaries in the raw text of a software project dump.
Output a JSON array where each entry contains:
- filename (relative path)
- start_marker (a unique string that appears immediately before the file content)
- end_marker (a unique string that appears immediately after the file content)

Do not rewrite or generate code. Only identify these boundaries precisely, copying the markers verbatim from the text.
Return ONLY the JSON array, no commentary.

Example output:
[
  {
    "filename": "module1.py",
    "start_marker": "### START module1.py",
    "end_marker": "### END module1.py"
  }
]
`,
	contract.PromptStructure: `You are a file structure extractor. Analyze the provided content and extract ALL file paths.
Return ONLY a simple list of file paths, one per line. No explanations, no markdown, no additional text.
Format: path/to/file.ext

Example output:
requirements.txt
src/__init__.py
src/main.py
src/config/settings.py
tests/test_main.py
`,
	contract.PromptContent: `You are a code extractor. Extract ONLY the code content for the specified file.
Return ONLY the raw code without any explanations, markdown fences, or additional text.
If the file is not found, return "FILE_NOT_FOUND".`,
	contract.PromptStream: `You are a file extraction agent. Your ONLY task is to parse and organize existing code.

STRICT RULES:
1. ONLY extract code that already exists in the input text
2. DO NOT generate new code, implementations, or complete unfinished functions
3. DO NOT fill in TODOs, comments, or missing code
4. DO NOT modify, improve, or fix existing code
5. Copy code EXACTLY as provided, character for character
6. Identify file paths based on context clues in the input
7. If the input contains descriptions or instructions instead of actual code, output nothing

OUTPUT FORMAT (for existing code only):
<<<FILE_START>>>path/to/filename.ext<<<Header_End>>>
[Exact code from input, no modifications]
<<<FILE_END>>>

If the input has no actual code to extract, respond with: "No code found to organize"
`,
}

var defaultUser = map[contract.PromptKind]string{
	contract.PromptBoundary: `Identify the file boundaries in this text.
{{if .Clipped}}(The text was truncated.)
{{end}}
{{.Document}}`,
	contract.PromptStructure: `Extract ALL file paths from this content. Return only the file paths, one per line.
Do not include folder-only entries (folders are created from file paths).

Content:
{{.Document}}`,
	contract.PromptContent: `Extract the complete code content for this file: {{.Path}}

Return ONLY the code itself, no explanations, no markdown code fences.

Content:
{{.Document}}`,
	contract.PromptStream: `{{.Document}}`,
}
