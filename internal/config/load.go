package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix: 环境变量前缀；"__" 分隔层级，如 DUMPTREE_LOGGING__LEVEL。
	EnvPrefix = "DUMPTREE_"
	// DefaultFile: 未指定 --config 时尝试读取的文件（不存在则忽略）。
	DefaultFile = "dumptree.yaml"

	maxConfigFileSize = 1 << 20
)

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Mode:           "discover",
		OutputDir:      "output",
		Concurrency:    4,
		MaxRetries:     2,
		TimeoutSeconds: 120,
		MinSuccessRate: 0.5,
		WriteSummary:   true,
		Logging:        Logging{Level: "info"},
		Components: Components{
			Reader:          "fs",
			Writer:          "fs",
			PromptBuilder:   "extract",
			ManifestDecoder: "boundaryjson",
			PathDecoder:     "pathlist",
			ContentDecoder:  "codeblock",
		},
		LLM: "ollama",
		Provider: map[string]Provider{
			"ollama": {Client: "ollama"},
		},
	}
}

// Load 按 defaults → 文件（YAML/JSON）→ 环境变量 的顺序合并配置。
// path 为空时尝试 DefaultFile；显式给出的文件不存在视为错误。
// 调用方应在此之前加载 .env，之后再叠加 CLI 参数。
func Load(path string) (Config, error) {
	k := koanf.New(".")
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	b, err := readFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: env: %w", err)
	}
	cfg := Defaults()
	if err := unmarshal(k, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadBytes 仅从给定内容（YAML/JSON）解析，不读取环境变量。
func LoadBytes(raw []byte) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	cfg := Defaults()
	if err := unmarshal(k, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unmarshal(k *koanf.Koanf, cfg *Config) error {
	dc := &mapstructure.DecoderConfig{
		TagName:          "koanf",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf", DecoderConfig: dc}); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%s: larger than %d bytes", path, maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// envKey: DUMPTREE_PROVIDER__ollama__CLIENT=x → provider.ollama.client。
// 数值与 true/false 转为对应类型，空值忽略。
func envKey(key, val string) (string, any) {
	if strings.TrimSpace(val) == "" {
		return "", nil
	}
	parts := strings.Split(strings.TrimPrefix(key, EnvPrefix), "__")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, "."), scalar(val)
}

func scalar(s string) any {
	t := strings.TrimSpace(s)
	if n, err := strconv.Atoi(t); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil && strings.ContainsAny(t, ".eE") {
		return f
	}
	switch strings.ToLower(t) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
