package contract

import "context"

// Prompt: 不透明载荷，由具体 PromptBuilder/LLMClient 配对解释。
type Prompt any

// Message: 最小会话消息形状（可用于 ChatPrompt）。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词载荷。
type TextPrompt string

// ChatPrompt: 会话型提示词载荷（最小集合）。
type ChatPrompt []Message

// PromptKind: 提示词用途。
type PromptKind string

const (
	PromptBoundary  PromptKind = "boundary"  // 产出边界清单 JSON
	PromptStructure PromptKind = "structure" // 列出文件路径
	PromptContent   PromptKind = "content"   // 提取单个文件内容
	PromptStream    PromptKind = "stream"    // 以分隔符协议流式输出全部文件
)

// PromptRequest: 构造一次提示所需的全部输入。Path 仅在 PromptContent 时使用。
type PromptRequest struct {
	Kind     PromptKind
	Document string
	Path     FileID
}

// PromptBuilder: 构造确定性的 Prompt。
// 约束：
//   - 纯计算，不做 I/O；
//   - 可按用途裁剪文档长度，但不改写文档内容；
//   - 失败快速返回错误。
type PromptBuilder interface {
	Build(ctx context.Context, req PromptRequest) (Prompt, error)
	// EstimateOverheadTokens: 估算与文档无关的固定提示词开销（system 模板等）的近似 token 数。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
type TokenEstimator func(s string) int
