package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"dumptree/internal/demux"
	"dumptree/internal/diag"
	"dumptree/internal/fallback"
	"dumptree/internal/guard"
	"dumptree/internal/pipeline"
	"dumptree/internal/rate"
	"dumptree/internal/slicer"
	"dumptree/pkg/contract"
	"dumptree/pkg/registry"
)

// ErrConfig 标记配置类错误（CLI 以退出码 3 报告）。
var ErrConfig = errors.New("config")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	mode, err := pipeline.ParseMode(cfg.Mode)
	if err != nil {
		return invalid("mode %q", cfg.Mode)
	}
	if len(cfg.Inputs) == 0 {
		return invalid("inputs empty")
	}
	// 输入路径不得为空字符串；"-" 不能与其他根混用
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return invalid("input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return invalid("'-' cannot be mixed with other roots")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return invalid("output_dir empty")
	}
	if cfg.Concurrency < 1 || cfg.Concurrency > 16 {
		return invalid("concurrency must be in [1,16], got %d", cfg.Concurrency)
	}
	if cfg.MaxRetries < 0 || cfg.MaxRetries > 10 {
		return invalid("max_retries must be in [0,10], got %d", cfg.MaxRetries)
	}
	if cfg.TimeoutSeconds < 10 || cfg.TimeoutSeconds > 600 {
		return invalid("timeout_seconds must be in [10,600], got %d", cfg.TimeoutSeconds)
	}
	if cfg.MinSuccessRate < 0 || cfg.MinSuccessRate > 1 {
		return invalid("min_success_rate must be in [0,1], got %g", cfg.MinSuccessRate)
	}
	if mode == pipeline.ModeManifest && strings.TrimSpace(cfg.Manifest) == "" {
		return invalid("mode manifest requires a manifest file")
	}
	if name := effName(cfg.Components.Reader, Defaults().Components.Reader); registry.Reader[name] == nil {
		return invalid("reader %q not registered", name)
	}
	if name := effName(cfg.Components.Writer, Defaults().Components.Writer); registry.Writer[name] == nil {
		return invalid("writer %q not registered", name)
	}
	if mode == pipeline.ModeManifest {
		return nil
	}
	if name := effName(cfg.Components.PromptBuilder, Defaults().Components.PromptBuilder); registry.PromptBuilder[name] == nil {
		return invalid("prompt_builder %q not registered", name)
	}
	if name := effName(cfg.Components.ManifestDecoder, Defaults().Components.ManifestDecoder); registry.ManifestDecoder[name] == nil {
		return invalid("manifest_decoder %q not registered", name)
	}
	if name := effName(cfg.Components.PathDecoder, Defaults().Components.PathDecoder); registry.PathDecoder[name] == nil {
		return invalid("path_decoder %q not registered", name)
	}
	if name := effName(cfg.Components.ContentDecoder, Defaults().Components.ContentDecoder); registry.ContentDecoder[name] == nil {
		return invalid("content_decoder %q not registered", name)
	}
	return validateProvider(cfg)
}

func validateProvider(cfg Config) error {
	if cfg.LLM == "" {
		return invalid("llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return invalid("provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return invalid("provider %q missing client", cfg.LLM)
	}
	if registry.LLMClient[prov.Client] == nil {
		return invalid("llm client %q not registered", prov.Client)
	}
	if v, ok := prov.Options["base_url"]; ok {
		s, _ := v.(string)
		if s != "" {
			u, err := url.Parse(s)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return invalid("provider %q base_url must be http(s), got %q", cfg.LLM, s)
			}
		}
	}
	if prov.Limits.RPM < 0 || prov.Limits.TPM < 0 || prov.Limits.MaxTokensPerReq < 0 {
		return invalid("provider %q limits must be >= 0", cfg.LLM)
	}
	return nil
}

// NewLLM 按所选 provider 构造 LLM 客户端（不发起网络请求）。
func NewLLM(cfg Config) (contract.LLMClient, error) {
	if err := validateProvider(cfg); err != nil {
		return nil, err
	}
	prov := cfg.Provider[cfg.LLM]
	raw, err := providerOptions(cfg, prov)
	if err != nil {
		return nil, err
	}
	llm, err := registry.LLMClient[prov.Client](raw)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %q: %w", ErrConfig, cfg.LLM, err)
	}
	return llm, nil
}

// Assemble 构造 Components 与 Settings。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 JSON。
// Settings.Terminal/Metrics 由调用方填充；logger 与 metrics 仅注入后端适配器。
func Assemble(cfg Config, logger *diag.Logger, metrics *diag.Metrics) (pipeline.Components, pipeline.Settings, error) {
	var comp pipeline.Components
	var set pipeline.Settings
	if err := Validate(cfg); err != nil {
		return comp, set, err
	}
	mode, _ := pipeline.ParseMode(cfg.Mode)
	d := Defaults().Components

	r, err := registry.Reader[effName(cfg.Components.Reader, d.Reader)](encode(cfg.Options.Reader))
	if err != nil {
		return comp, set, fmt.Errorf("%w: reader: %w", ErrConfig, err)
	}
	wopts := clone(cfg.Options.Writer)
	wopts["output_dir"] = cfg.OutputDir
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Writer)](encode(wopts))
	if err != nil {
		return comp, set, fmt.Errorf("%w: writer: %w", ErrConfig, err)
	}
	g, err := guard.New(cfg.OutputDir)
	if err != nil {
		return comp, set, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	var fopts fallback.Options
	if err := strictDecode(cfg.Options.Fallback, &fopts); err != nil {
		return comp, set, fmt.Errorf("%w: fallback: %w", ErrConfig, err)
	}
	m, err := fallback.New(&fopts)
	if err != nil {
		return comp, set, fmt.Errorf("%w: fallback: %w", ErrConfig, err)
	}
	comp = pipeline.Components{Reader: r, Writer: w, Guard: g, Matcher: m}
	set = pipeline.Settings{
		Mode:        mode,
		Inputs:      cloneStrings(cfg.Inputs),
		Concurrency: cfg.Concurrency,
		NoFallback:  cfg.NoFallback,
		Protocol: demux.Protocol{
			Start:     cfg.Protocol.Start,
			HeaderEnd: cfg.Protocol.HeaderEnd,
			Stop:      cfg.Protocol.Stop,
		},
	}

	if mode == pipeline.ModeManifest {
		man, err := LoadManifest(cfg.Manifest)
		if err != nil {
			return comp, set, err
		}
		comp.Manifests = pipeline.StaticManifest(man)
		set.Backend = "none"
		return comp, set, nil
	}

	be, err := backend(cfg, logger, metrics)
	if err != nil {
		return comp, set, err
	}
	comp.Discoverer, comp.Resolver, comp.Stream = be, be, be
	if mode == pipeline.ModeBoundary {
		comp.Manifests = be
	}
	set.Backend = cfg.LLM
	return comp, set, nil
}

func backend(cfg Config, logger *diag.Logger, metrics *diag.Metrics) (*pipeline.Backend, error) {
	d := Defaults().Components
	pb, err := registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)](encode(cfg.Options.PromptBuilder))
	if err != nil {
		return nil, fmt.Errorf("%w: prompt_builder: %w", ErrConfig, err)
	}
	md, err := registry.ManifestDecoder[effName(cfg.Components.ManifestDecoder, d.ManifestDecoder)](encode(cfg.Options.ManifestDecoder))
	if err != nil {
		return nil, fmt.Errorf("%w: manifest_decoder: %w", ErrConfig, err)
	}
	pd, err := registry.PathDecoder[effName(cfg.Components.PathDecoder, d.PathDecoder)](encode(cfg.Options.PathDecoder))
	if err != nil {
		return nil, fmt.Errorf("%w: path_decoder: %w", ErrConfig, err)
	}
	cd, err := registry.ContentDecoder[effName(cfg.Components.ContentDecoder, d.ContentDecoder)](encode(cfg.Options.ContentDecoder))
	if err != nil {
		return nil, fmt.Errorf("%w: content_decoder: %w", ErrConfig, err)
	}
	llm, err := NewLLM(cfg)
	if err != nil {
		return nil, err
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生）
	prov := cfg.Provider[cfg.LLM]
	raw, _ := providerOptions(cfg, prov)
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, raw)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	return &pipeline.Backend{
		LLM:        llm,
		Prompts:    pb,
		Manifests:  md,
		Paths:      pd,
		Contents:   cd,
		Gate:       gate,
		GateKey:    key,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
		Metrics:    metrics,
	}, nil
}

// LoadManifest 读取并严格校验边界清单文件；结构不合规包装 contract.ErrManifestShape。
func LoadManifest(path string) (contract.Manifest, error) {
	b, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest: %w", contract.ErrInvalidInput, err)
	}
	return slicer.ParseManifest(b)
}

// providerOptions: 未显式给出 timeout_seconds 时注入顶层超时。
func providerOptions(cfg Config, prov Provider) (json.RawMessage, error) {
	opts := clone(prov.Options)
	if _, ok := opts["timeout_seconds"]; !ok && prov.Client != "mock" && prov.Client != "flaky" {
		opts["timeout_seconds"] = cfg.TimeoutSeconds
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %q options: %w", ErrConfig, cfg.LLM, err)
	}
	return b, nil
}

func encode(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		// 来源为 YAML/环境变量的标量与映射，均可编码
		return nil
	}
	return b
}

func strictDecode(m map[string]any, v any) error {
	raw := encode(m)
	if raw == nil {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
