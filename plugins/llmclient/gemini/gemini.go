package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"dumptree/pkg/contract"
)

// Options: Gemini API（官方 genai SDK）最小必需。
type Options struct {
	BaseURL   string `json:"base_url"`    // 为空使用 SDK 默认端点
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      int      `json:"max_tokens,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Client is a thin wrapper around the official genai client.
type Client struct {
	cli   *genai.Client
	model string
	cfg   genai.GenerateContentConfig
}

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
	_ contract.Pinger      = (*Client)(nil)
)

// New 从原样 JSON 选项构造客户端（不发起网络请求）。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(opts.BaseURL, "/") + "/"}
	}
	cli, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	c := &Client{cli: cli, model: opts.Model}
	if opts.Temperature != nil {
		c.cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		c.cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	return c, nil
}

// Invoke 同步调用并返回候选文本（原样）。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	contents, cfg, err := c.request(p)
	if err != nil {
		return contract.Raw{}, err
	}
	resp, err := c.cli.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return contract.Raw{}, wrapErr(ctx, err)
	}
	txt := resp.Text()
	if txt == "" {
		return contract.Raw{}, fmt.Errorf("gemini: %w: empty candidate", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: txt}, nil
}

// InvokeStream 逐个交付流式分块文本。
func (c *Client) InvokeStream(ctx context.Context, p contract.Prompt, yield func(fragment string) error) error {
	contents, cfg, err := c.request(p)
	if err != nil {
		return err
	}
	for resp, err := range c.cli.Models.GenerateContentStream(ctx, c.model, contents, cfg) {
		if err != nil {
			return wrapErr(ctx, err)
		}
		if s := resp.Text(); s != "" {
			if err := yield(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// Ping 列出可用模型。
func (c *Client) Ping(ctx context.Context) ([]string, error) {
	page, err := c.cli.Models.List(ctx, &genai.ListModelsConfig{})
	if err != nil {
		return nil, wrapErr(ctx, err)
	}
	out := make([]string, 0, len(page.Items))
	for _, m := range page.Items {
		out = append(out, strings.TrimPrefix(m.Name, "models/"))
	}
	return out, nil
}

func (c *Client) request(p contract.Prompt) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	sys, contents, err := Contents(p)
	if err != nil {
		return nil, nil, err
	}
	cfg := c.cfg
	if sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	return contents, &cfg, nil
}

// Contents 把通用 Prompt 拆分为 system 指令与会话内容。
// 角色映射：system→SystemInstruction（多条以空行连接），assistant/model→model，其余→user。
func Contents(p contract.Prompt) (string, []*genai.Content, error) {
	switch v := p.(type) {
	case contract.TextPrompt:
		return "", []*genai.Content{genai.NewContentFromText(string(v), genai.RoleUser)}, nil
	case contract.ChatPrompt:
		var sys []string
		var out []*genai.Content
		for _, m := range v {
			switch strings.ToLower(strings.TrimSpace(m.Role)) {
			case "system":
				sys = append(sys, m.Content)
			case "assistant", "model":
				out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
			default:
				out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
			}
		}
		if len(out) == 0 {
			return "", nil, fmt.Errorf("%w: chat prompt has no user content", contract.ErrInvalidInput)
		}
		return strings.Join(sys, "\n\n"), out, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported prompt type %T", contract.ErrInvalidInput, p)
	}
}

// apiError 把 genai.APIError 暴露为 contract.UpstreamError。
type apiError struct{ genai.APIError }

func (e apiError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.Code, e.Message) }
func (e apiError) UpstreamStatus() int     { return e.Code }
func (e apiError) UpstreamMessage() string { return e.Message }

func wrapErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	var ae genai.APIError
	if errors.As(err, &ae) {
		return apiError{ae}
	}
	var pae *genai.APIError
	if errors.As(err, &pae) && pae != nil {
		return apiError{*pae}
	}
	return fmt.Errorf("gemini: %w", err)
}
