package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms/ollama"

	"dumptree/pkg/contract"
	"dumptree/plugins/llmclient/langchain"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 默认 http://localhost:11434
	Model          string   `json:"model"`           // 默认 qwen2.5-coder:7b
	TimeoutSeconds int      `json:"timeout_seconds"` // 请求超时（秒）
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:11434"
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Model == "" {
		o.Model = "qwen2.5-coder:7b"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
	if o.Temperature == nil {
		t := 0.1
		o.Temperature = &t
	}
}

// Client: 本地 Ollama 后端（langchaingo）。附带 /api/tags 连通性检查。
type Client struct {
	*langchain.Client
	base  string
	model string
	hc    *http.Client
}

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
	_ contract.Pinger      = (*Client)(nil)
)

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("ollama options: %w", err)
		}
	}
	opts.defaults()
	if !strings.HasPrefix(opts.BaseURL, "http://") && !strings.HasPrefix(opts.BaseURL, "https://") {
		return nil, fmt.Errorf("ollama: %w: base_url must be http(s): %q", contract.ErrInvalidInput, opts.BaseURL)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	llm, err := ollama.New(ollama.WithModel(opts.Model), ollama.WithServerURL(opts.BaseURL), ollama.WithHTTPClient(hc))
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return &Client{
		Client: langchain.New("ollama", llm, opts.Temperature, opts.MaxTokens),
		base:   opts.BaseURL,
		model:  opts.Model,
		hc:     hc,
	}, nil
}

// Model 返回配置的模型名。
func (c *Client) Model() string { return c.model }

type tagsResp struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ping 请求 /api/tags，返回本地可用模型列表。
func (c *Client) Ping(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w: %v", contract.ErrInvalidInput, err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &langchain.UpstreamError{Provider: "ollama", Status: resp.StatusCode, Msg: strings.TrimSpace(string(slurp))}
	}
	var tr tagsResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("ollama tags: %w", contract.ErrResponseInvalid)
	}
	out := make([]string, 0, len(tr.Models))
	for _, m := range tr.Models {
		out = append(out, m.Name)
	}
	return out, nil
}
