package diag

import (
	"context"
	"errors"
	"net"
	"os"

	"dumptree/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码、摘要中的 FailureKind 解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误、上游状态码与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) ||
		errors.Is(err, contract.ErrManifestShape) ||
		errors.Is(err, contract.ErrNotFound) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrBoundaryUnresolved) ||
		errors.Is(err, contract.ErrUnterminatedSegment) ||
		errors.Is(err, contract.ErrFallbackExhausted) {
		return CodeInvariant
	}
	if ue, ok := AsUpstream(err); ok {
		switch s := ue.UpstreamStatus(); {
		case s == 429:
			return CodeBudget
		case s >= 500:
			return CodeNetwork
		case s >= 400:
			return CodeProtocol
		}
	}
	if errors.Is(err, contract.ErrSinkWrite) {
		return CodeIO
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// AsUpstream 在错误链中查找 contract.UpstreamError。
func AsUpstream(err error) (contract.UpstreamError, bool) {
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
