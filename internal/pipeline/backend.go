package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dumptree/internal/diag"
	"dumptree/internal/prompt"
	"dumptree/internal/rate"
	"dumptree/pkg/contract"
)

const (
	defaultBackoff = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
)

// Backend 把 LLM 客户端适配为编排层的协作方：
// Discover（structure）、Resolve（content）、Manifest（boundary）、Stream（stream）。
// 每次调用：Prompt → (Gate) → LLM → Decoder，失败按错误分类有限重试。
type Backend struct {
	LLM       contract.LLMClient
	Prompts   contract.PromptBuilder
	Manifests contract.ManifestDecoder
	Paths     contract.PathDecoder
	Contents  contract.ContentDecoder

	// 限流闸门（可选）：若非空，则在调用 LLM 前调用 Gate.Wait
	Gate    rate.Gate
	GateKey rate.LimitKey

	MaxRetries    int
	BytesPerToken int
	// Backoff: 重试退避基数（指数增长，上限 10s）；<=0 使用 500ms。
	Backoff time.Duration

	Logger  *diag.Logger
	Metrics *diag.Metrics
}

// Discover 请求后端列出文档中的文件路径。
func (b *Backend) Discover(ctx context.Context, doc string) ([]contract.FileID, error) {
	if b.Paths == nil {
		return nil, errors.New("backend: missing path decoder")
	}
	var out []contract.FileID
	err := b.call(ctx, contract.PromptRequest{Kind: contract.PromptStructure, Document: doc}, func(raw contract.Raw) error {
		var err error
		out, err = b.Paths.DecodePaths(ctx, raw)
		return err
	})
	return out, err
}

// Resolve 请求后端给出单个文件内容；后端明确“未找到”时返回 contract.ErrNotFound（不重试）。
func (b *Backend) Resolve(ctx context.Context, doc string, path contract.FileID) (string, error) {
	if b.Contents == nil {
		return "", errors.New("backend: missing content decoder")
	}
	var out string
	err := b.call(ctx, contract.PromptRequest{Kind: contract.PromptContent, Document: doc, Path: path}, func(raw contract.Raw) error {
		var err error
		out, err = b.Contents.DecodeContent(ctx, raw)
		return err
	})
	return out, err
}

// Manifest 请求后端标注边界清单。
func (b *Backend) Manifest(ctx context.Context, doc string) (contract.Manifest, error) {
	if b.Manifests == nil {
		return nil, errors.New("backend: missing manifest decoder")
	}
	var out contract.Manifest
	err := b.call(ctx, contract.PromptRequest{Kind: contract.PromptBoundary, Document: doc}, func(raw contract.Raw) error {
		var err error
		out, err = b.Manifests.DecodeManifest(ctx, raw)
		return err
	})
	return out, err
}

// Stream 以分隔符协议请求全部文件，并把片段按到达顺序交给 yield。
// 客户端不支持流式时退化为一次 Invoke，整段文本作为单个片段。
// 只有在尚未交付任何片段时才会重试。
func (b *Backend) Stream(ctx context.Context, doc string, yield func(fragment string) error) error {
	p, err := b.Prompts.Build(ctx, contract.PromptRequest{Kind: contract.PromptStream, Document: doc})
	if err != nil {
		return fmt.Errorf("prompt build: %w", err)
	}
	tokens := approxPromptTokens(p, b.BytesPerToken)
	delivered := false
	emit := func(s string) error {
		delivered = true
		return yield(s)
	}
	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithCtx(ctx, b.backoff(attempt)); err != nil {
				return err
			}
		}
		if err := b.wait(ctx, tokens); err != nil {
			return err
		}
		lt := b.Logger.Start("llm_client", "stream", zap.Int("tokens", tokens), zap.Int("attempt", attempt+1))
		if s, ok := b.LLM.(contract.LLMStreamer); ok {
			err = s.InvokeStream(ctx, p, emit)
		} else {
			var raw contract.Raw
			raw, err = b.LLM.Invoke(ctx, p)
			if err == nil {
				err = emit(raw.Text)
			}
		}
		if err == nil {
			lt.Finish("stream", int64(tokens))
			b.Metrics.IncOp("llm_client", "finish", "success")
			return nil
		}
		b.logErr("llm_client", "stream failed", err, lt.Since(), "", attempt)
		lastErr = err
		if delivered || !shouldRetryInvoke(err) {
			return err
		}
	}
	return lastErr
}

// call: 共享的“构造 → 限流 → 调用 → 解码”重试循环。
func (b *Backend) call(ctx context.Context, req contract.PromptRequest, decode func(contract.Raw) error) error {
	if b.LLM == nil || b.Prompts == nil {
		return errors.New("backend: missing llm client or prompt builder")
	}
	p, err := b.Prompts.Build(ctx, req)
	if err != nil {
		return fmt.Errorf("prompt build: %w", err)
	}
	tokens := approxPromptTokens(p, b.BytesPerToken)
	fileID := string(req.Path)
	var lastErr error
	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepWithCtx(ctx, b.backoff(attempt)); err != nil {
				return err
			}
		}
		// Gate 错误不重试（通常为取消或输入非法）
		if err := b.wait(ctx, tokens); err != nil {
			return err
		}
		lt := b.Logger.StartWith("llm_client", "invoke", fileID,
			zap.String("kind", string(req.Kind)), zap.Int("tokens", tokens), zap.Int("attempt", attempt+1))
		raw, err := b.LLM.Invoke(ctx, p)
		if err != nil {
			b.logErr("llm_client", "invoke failed", err, lt.Since(), fileID, attempt)
			lastErr = err
			if shouldRetryInvoke(err) {
				continue
			}
			return err
		}
		lt.Finish("invoke", int64(tokens))
		if ts := lt.Since(); ts != nil {
			b.Metrics.ObserveDuration("llm_client", string(req.Kind), time.Since(*ts))
		}

		if err := decode(raw); err != nil {
			if errors.Is(err, contract.ErrNotFound) {
				b.Logger.DebugStart("decoder", "backend reports file not found", fileID)
				return err
			}
			b.logErr("decoder", "decode failed", err, nil, fileID, attempt)
			lastErr = err
			if shouldRetryDecode(err) {
				continue
			}
			return err
		}
		b.Metrics.IncOp("decoder", "finish", "success")
		return nil
	}
	return lastErr
}

func (b *Backend) wait(ctx context.Context, tokens int) error {
	if b.Gate == nil {
		return nil
	}
	if err := b.Gate.Wait(ctx, rate.Ask{Key: b.GateKey, Requests: 1, Tokens: tokens}); err != nil {
		b.logErr("rate_gate", "wait failed", err, nil, "", 0)
		return err
	}
	return nil
}

func (b *Backend) logErr(comp, msg string, err error, since *time.Time, fileID string, attempt int) {
	b.Logger.ErrorWith(comp, msg, err, since, fileID, zap.Int("attempt", attempt+1))
	b.Metrics.IncOp(comp, "error", "error")
	b.Metrics.IncError(comp, diag.Classify(err))
}

// backoff: 第 n 次重试前的等待时长（n>=1）。
func (b *Backend) backoff(n int) time.Duration {
	d := b.Backoff
	if d <= 0 {
		d = defaultBackoff
	}
	for i := 1; i < n && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

// shouldRetryInvoke: 根据错误类型判断是否重试 LLM 调用。
// - 取消/超时：不重试；
// - 预算/限流、网络：重试（交由 Gate 控制速率）；
// - 协议（例如 4xx 响应）：重试；
// - 其它：不重试。
func shouldRetryInvoke(err error) bool {
	if err == nil {
		return false
	}
	switch diag.Classify(err) {
	case diag.CodeBudget, diag.CodeNetwork, diag.CodeProtocol:
		return true
	default:
		return false
	}
}

// shouldRetryDecode: 针对“模型幻觉/响应无效”做有限次重试。
// - 协议/响应无效：重试；
// - 后端明确未找到：不重试；
// - 取消/超时/输入非法等：不重试。
func shouldRetryDecode(err error) bool {
	if err == nil || errors.Is(err, contract.ErrNotFound) {
		return false
	}
	return diag.Classify(err) == diag.CodeProtocol
}

// sleepWithCtx: 可取消的 sleep（最小实现）。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// approxPromptTokens: 基于 Prompt 实际文本内容的简易 token 估算，便于 Gate 进行单请求上限判定。
func approxPromptTokens(p contract.Prompt, bpt int) int {
	est := prompt.MakeEstimator(bpt)
	switch v := p.(type) {
	case contract.TextPrompt:
		return est(string(v))
	case contract.ChatPrompt:
		total := 0
		for _, m := range v {
			total += est(m.Content)
		}
		return total
	default:
		return 0
	}
}
