package contract

import (
	"context"
	"errors"
)

// Raw: LLM 客户端返回的原始文本载荷（万能容器）。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
}

// LLMClient: 以 Prompt 为单位与大模型交互，返回原始文本 Raw。
// 单次调用、同步返回；应尊重 ctx 取消/超时并及时释放资源。
type LLMClient interface {
	Invoke(ctx context.Context, p Prompt) (Raw, error)
}

// LLMStreamer: 流式接口。每收到一个片段调用一次 yield；yield 返回错误时中止流。
// 片段边界不携带任何语义；片段按到达顺序串行回调。
type LLMStreamer interface {
	InvokeStream(ctx context.Context, p Prompt, yield func(fragment string) error) error
}

// Pinger: 可选诊断接口（连通性检查 + 可用模型列表）。
type Pinger interface {
	Ping(ctx context.Context) (models []string, err error)
}

// 最小错误分类（用于上层策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)
