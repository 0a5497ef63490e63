package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 默认 provider 为本地 ollama，另列出 openai/gemini/mock 供切换；
// - 组件名采用仓库内置实现；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Inputs = []string{"dump.md"}
	cfg.Provider = map[string]Provider{
		"ollama": {
			Client: "ollama",
			Options: map[string]any{
				"base_url":    "http://localhost:11434",
				"model":       "qwen2.5-coder:7b",
				"temperature": 0.1,
			},
		},
		"openai": {
			Client: "openai",
			Options: map[string]any{
				"base_url":    "https://api.openai.com/v1",
				"model":       "gpt-4.1-mini",
				"api_key_env": "OPENAI_API_KEY",
			},
			Limits: Limits{RPM: 60, TPM: 200000},
		},
		"gemini": {
			Client: "gemini",
			Options: map[string]any{
				"model":       "gemini-2.5-flash",
				"api_key_env": "GOOGLE_API_KEY",
			},
			Limits: Limits{RPM: 15},
		},
		"mock": {
			Client:  "mock",
			Options: map[string]any{"response_mode": "oracle", "chunk_size": 64},
		},
	}
	cfg.Options.Reader = map[string]any{
		"max_input_mb": 100,
		"extensions":   []string{".txt", ".md"},
	}
	cfg.Options.Writer = map[string]any{"atomic": true}
	cfg.Options.PromptBuilder = map[string]any{
		"boundary_limit":    10000,
		"structure_limit":   50000,
		"content_limit":     100000,
		"max_context_bytes": 131072,
	}
	cfg.Options.ContentDecoder = map[string]any{"not_found": "FILE_NOT_FOUND"}
	cfg.Options.Fallback = map[string]any{"cache_size": 256}
	return cfg
}

// EnvTemplate: init-config 生成的 .env 示例（全部注释，按需取消）。
const EnvTemplate = `# dumptree 环境变量；已存在的同名变量优先。
# DUMPTREE_LLM=openai
# DUMPTREE_CONCURRENCY=4
# DUMPTREE_LOGGING__LEVEL=debug
# DUMPTREE_PROVIDER__ollama__OPTIONS__MODEL=qwen2.5-coder:7b
# OPENAI_API_KEY=
# GOOGLE_API_KEY=
`

// RenderTemplate 以 YAML 渲染默认模板。
func RenderTemplate() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# dumptree 配置；环境变量 DUMPTREE_* 与命令行参数会覆盖此处的值。\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(DefaultTemplateConfig()); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTemplates 在 dir 下写入 dumptree.yaml 与 .env；已存在的文件保持不变。
// 返回实际写入的文件路径。
func WriteTemplates(dir string) ([]string, error) {
	y, err := RenderTemplate()
	if err != nil {
		return nil, err
	}
	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{DefaultFile, y, 0o644},
		{".env", []byte(EnvTemplate), 0o600},
	}
	var written []string
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		fh, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, f.perm)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("init-config: %w", err)
		}
		_, werr := fh.Write(f.data)
		if cerr := fh.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return written, fmt.Errorf("init-config: %w", werr)
		}
		written = append(written, p)
	}
	return written, nil
}
