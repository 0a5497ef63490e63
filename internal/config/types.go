package config

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；未知键在解析期失败（组件 options 子树除外，由各工厂严格校验）。
type Config struct {
	Inputs []string `koanf:"inputs" yaml:"inputs"`
	// Mode: manifest|boundary|discover|stream。
	Mode string `koanf:"mode" yaml:"mode"`
	// Manifest: manifest 模式下的边界清单文件（JSON）。
	Manifest  string `koanf:"manifest" yaml:"manifest,omitempty"`
	OutputDir string `koanf:"output_dir" yaml:"output_dir"`

	Concurrency int `koanf:"concurrency" yaml:"concurrency"`
	// MaxRetries: 后端调用最大重试次数。0 表示不重试。
	MaxRetries int `koanf:"max_retries" yaml:"max_retries"`
	// TimeoutSeconds: 后端单次请求超时；provider options 未显式给出时注入。
	TimeoutSeconds int     `koanf:"timeout_seconds" yaml:"timeout_seconds"`
	MinSuccessRate float64 `koanf:"min_success_rate" yaml:"min_success_rate"`
	NoFallback     bool    `koanf:"no_fallback" yaml:"no_fallback"`
	// WriteSummary: 是否在输出根目录写入 .dumptree-summary.json。
	WriteSummary bool `koanf:"write_summary" yaml:"write_summary"`

	Logging  Logging  `koanf:"logging" yaml:"logging"`
	Protocol Protocol `koanf:"protocol" yaml:"protocol"`

	// 组件名选择（空则使用默认名）。
	Components Components `koanf:"components" yaml:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `koanf:"llm" yaml:"llm"`
	Provider map[string]Provider `koanf:"provider" yaml:"provider"`

	// 各组件 Options 子树，组装时编码为 JSON 传入工厂。
	Options Options `koanf:"options" yaml:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `koanf:"level" yaml:"level"`
}

// Protocol: 流式分隔符；空字段使用内置默认。
type Protocol struct {
	Start     string `koanf:"start" yaml:"start,omitempty"`
	HeaderEnd string `koanf:"header_end" yaml:"header_end,omitempty"`
	Stop      string `koanf:"stop" yaml:"stop,omitempty"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader          string `koanf:"reader" yaml:"reader"`
	Writer          string `koanf:"writer" yaml:"writer"`
	PromptBuilder   string `koanf:"prompt_builder" yaml:"prompt_builder"`
	ManifestDecoder string `koanf:"manifest_decoder" yaml:"manifest_decoder"`
	PathDecoder     string `koanf:"path_decoder" yaml:"path_decoder"`
	ContentDecoder  string `koanf:"content_decoder" yaml:"content_decoder"`
}

// Options: 各组件的原样 Options 子树。
type Options struct {
	Reader          map[string]any `koanf:"reader" yaml:"reader"`
	Writer          map[string]any `koanf:"writer" yaml:"writer"`
	PromptBuilder   map[string]any `koanf:"prompt_builder" yaml:"prompt_builder"`
	ManifestDecoder map[string]any `koanf:"manifest_decoder" yaml:"manifest_decoder"`
	PathDecoder     map[string]any `koanf:"path_decoder" yaml:"path_decoder"`
	ContentDecoder  map[string]any `koanf:"content_decoder" yaml:"content_decoder"`
	Fallback        map[string]any `koanf:"fallback" yaml:"fallback"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string         `koanf:"client" yaml:"client"`
	Options map[string]any `koanf:"options" yaml:"options"`
	Limits  Limits         `koanf:"limits" yaml:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `koanf:"rpm" yaml:"rpm"`
	TPM             int `koanf:"tpm" yaml:"tpm"`
	MaxTokensPerReq int `koanf:"max_tokens_per_req" yaml:"max_tokens_per_req"`
}
