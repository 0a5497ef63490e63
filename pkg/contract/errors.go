package contract

import "errors"

// 提取/落盘相关最小错误分类。
var (
	// ErrPathInvalid: 目标路径被守卫拒绝（'..'、绝对路径、越界或非法字符）。
	ErrPathInvalid = errors.New("path rejected")
	// ErrManifestShape: 清单结构不合法；整份清单被拒绝。
	ErrManifestShape = errors.New("manifest shape invalid")
	// ErrBoundaryUnresolved: 单条边界的标记缺失或顺序颠倒。
	ErrBoundaryUnresolved = errors.New("boundary unresolved")
	// ErrUnterminatedSegment: 流在文件收集中途结束。
	ErrUnterminatedSegment = errors.New("unterminated")
	// ErrFallbackExhausted: 所有回退规则均未命中。
	ErrFallbackExhausted = errors.New("fallback exhausted")
	// ErrSinkWrite: 落盘失败（包装底层原因）。
	ErrSinkWrite = errors.New("sink write failed")
	// ErrNotFound: 内容后端明确表示文档中不存在该文件。
	ErrNotFound = errors.New("file not found in document")
	// ErrBudgetExceeded: 预算或配额不足（如输入超过大小上限）。
	ErrBudgetExceeded = errors.New("budget exceeded")
)
