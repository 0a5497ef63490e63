// Package langchain 把 langchaingo 的 llms.Model 适配为 contract.LLMClient 与 contract.LLMStreamer，
// 供 ollama、openai 等基于 langchaingo 的客户端共用。
package langchain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/tmc/langchaingo/llms"

	"dumptree/pkg/contract"
)

// Client: 单个模型的薄封装。跨切面关注点（限流、重试、日志）由编排层负责。
type Client struct {
	name      string
	llm       llms.Model
	temp      *float64
	maxTokens int
}

// New 包装 llm。name 用于错误信息（例如 "ollama"）。
func New(name string, llm llms.Model, temperature *float64, maxTokens int) *Client {
	return &Client{name: name, llm: llm, temp: temperature, maxTokens: maxTokens}
}

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
)

// Invoke 同步调用并返回首个候选的文本（原样，不做清洗）。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	msgs, err := Messages(p)
	if err != nil {
		return contract.Raw{}, err
	}
	resp, err := c.llm.GenerateContent(ctx, msgs, c.callOptions()...)
	if err != nil {
		return contract.Raw{}, c.wrap(ctx, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return contract.Raw{}, fmt.Errorf("%s: %w: no choices", c.name, contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: resp.Choices[0].Content}, nil
}

// InvokeStream 以流式方式调用；每个非空分块调用一次 yield。yield 的错误原样返回。
func (c *Client) InvokeStream(ctx context.Context, p contract.Prompt, yield func(fragment string) error) error {
	msgs, err := Messages(p)
	if err != nil {
		return err
	}
	var yerr error
	opts := append(c.callOptions(), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		if err := yield(string(chunk)); err != nil {
			yerr = err
			return err
		}
		return nil
	}))
	_, err = c.llm.GenerateContent(ctx, msgs, opts...)
	if yerr != nil {
		return yerr
	}
	if err != nil {
		return c.wrap(ctx, err)
	}
	return nil
}

func (c *Client) callOptions() []llms.CallOption {
	var opts []llms.CallOption
	if c.temp != nil {
		opts = append(opts, llms.WithTemperature(*c.temp))
	}
	if c.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.maxTokens))
	}
	return opts
}

// Messages 把通用 Prompt 转换为 langchaingo 消息。
// 角色映射：system→system，assistant/model→ai，其余→human；大小写不敏感。
func Messages(p contract.Prompt) ([]llms.MessageContent, error) {
	switch v := p.(type) {
	case contract.TextPrompt:
		return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, string(v))}, nil
	case contract.ChatPrompt:
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: empty chat prompt", contract.ErrInvalidInput)
		}
		out := make([]llms.MessageContent, 0, len(v))
		for _, m := range v {
			out = append(out, llms.TextParts(role(m.Role), m.Content))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported prompt type %T", contract.ErrInvalidInput, p)
	}
}

func role(r string) llms.ChatMessageType {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "system":
		return llms.ChatMessageTypeSystem
	case "assistant", "model", "ai":
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// UpstreamError 承载 HTTP 状态码，实现 contract.UpstreamError。
type UpstreamError struct {
	Provider string
	Status   int
	Msg      string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s upstream %d: %s", e.Provider, e.Status, e.Msg)
}
func (e *UpstreamError) UpstreamStatus() int     { return e.Status }
func (e *UpstreamError) UpstreamMessage() string { return e.Msg }

// langchaingo 只以文本形式暴露上游状态码。
var statusRe = regexp2.MustCompile(`status(?: code)?[:= ]+(\d{3})\b`, regexp2.IgnoreCase)

// wrap: 取消/超时原样返回；能识别出状态码时转为 *UpstreamError；其余包装后返回。
func (c *Client) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	if m, _ := statusRe.FindStringMatch(err.Error()); m != nil {
		if code, cerr := strconv.Atoi(m.GroupByNumber(1).String()); cerr == nil {
			return &UpstreamError{Provider: c.name, Status: code, Msg: err.Error()}
		}
	}
	return fmt.Errorf("%s: %w", c.name, err)
}
