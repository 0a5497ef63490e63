package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"dumptree/internal/demux"
	"dumptree/internal/diag"
	"dumptree/internal/fallback"
	"dumptree/internal/guard"
	"dumptree/internal/report"
	"dumptree/pkg/contract"
)

// - 单点并发：仅此层管理并发；原子组件（切片器、解复用器、回退匹配器、守卫）均为同步实现。
// - 逐路径独立：任一路径的解析或写入失败只记入汇总，不中断批次。
// - 去重先于派发：同一落盘路径只会有一个写者；目录在派发前按清单顺序创建。
// - 中止：ctx 取消后不再提交新的写入，汇总只包含已提交的文件。

// Mode: 运行模式。
type Mode string

const (
	ModeManifest Mode = "manifest" // 调用方提供边界清单，不访问后端
	ModeBoundary Mode = "boundary" // 后端标注边界清单
	ModeDiscover Mode = "discover" // 后端列出路径并逐个解析内容
	ModeStream   Mode = "stream"   // 后端以分隔符协议流式输出
)

// ParseMode 校验模式名。
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeManifest, ModeBoundary, ModeDiscover, ModeStream:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", contract.ErrInvalidInput, s)
}

// StreamSource: 流式模式的片段来源（例如带流式能力的 LLM 适配器）。
type StreamSource interface {
	Stream(ctx context.Context, doc string, yield func(fragment string) error) error
}

// Components 聚合运行所需的协作方。按模式只需其中一部分：
//   - manifest/boundary: Manifests；
//   - discover: Discoverer 与 Resolver 均可为空（分别退化为标题扫描与纯回退规则）；
//   - stream: Stream。
type Components struct {
	Reader     contract.Reader
	Manifests  contract.ManifestSource
	Discoverer contract.Discoverer
	Resolver   contract.Resolver
	Stream     StreamSource
	Writer     contract.Writer
	Guard      *guard.Guard
	Matcher    *fallback.Matcher
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Mode        Mode
	Inputs      []string
	Concurrency int
	// NoFallback: 关闭启发式回退规则。
	NoFallback bool
	// Protocol: 流式分隔符协议；零值使用 demux.DefaultProtocol。
	Protocol demux.Protocol
	// Backend: 仅用于终端展示。
	Backend string

	Terminal *diag.Terminal
	Metrics  *diag.Metrics
}

// StaticManifest: 调用方预先给出的清单（manifest 模式）。
type StaticManifest contract.Manifest

// Manifest 返回固定清单，忽略文档内容。
func (s StaticManifest) Manifest(ctx context.Context, _ string) (contract.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return contract.Manifest(s), nil
}

// Run 遍历 Reader 产出的每个文档并逐个提取，返回各文档的汇总。
// 只有文档无法读取、清单结构非法或后端整体不可用时返回错误；此时已完成文档的汇总仍随错误返回。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) ([]report.Summary, error) {
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if comp.Reader == nil || len(set.Inputs) == 0 {
		return nil, errors.New("sanity: pipeline: missing reader or inputs")
	}
	runStart := time.Now()
	set.Terminal.RunStart(string(set.Mode), set.Backend, set.Concurrency)

	var out []report.Summary
	rtimer := logger.Start("reader", "iterate", zap.String("mode", string(set.Mode)))
	err := comp.Reader.Iterate(ctx, set.Inputs, func(docID contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read %s: %w", docID, err)
		}
		sum, err := Extract(ctx, comp, set, logger, docID, string(b))
		out = append(out, sum)
		return err
	})
	ok := err == nil
	for _, s := range out {
		ok = ok && len(s.Failures) == 0
	}
	set.Terminal.RunFinish(ok, time.Since(runStart))
	if err != nil {
		logger.ErrorWith("reader", "iterate failed", err, rtimer.Since(), "")
		set.Metrics.IncOp("reader", "error", "error")
		set.Metrics.IncError("reader", diag.Classify(err))
		return out, fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(len(out)))
	set.Metrics.IncOp("reader", "finish", "success")
	return out, nil
}

// Extract 对单个文档执行所选模式，总是返回汇总（即使同时返回错误）。
func Extract(ctx context.Context, comp Components, set Settings, logger *diag.Logger, docID contract.FileID, doc string) (report.Summary, error) {
	if err := sanity(comp, set); err != nil {
		return report.Summary{Document: string(docID), Mode: string(set.Mode)}, fmt.Errorf("sanity: %w", err)
	}
	if set.Concurrency < 1 {
		set.Concurrency = 1
	}
	d := &docRun{
		comp:   comp,
		set:    set,
		logger: logger,
		docID:  docID,
		doc:    doc,
		rec:    report.NewRecorder(string(docID), string(set.Mode), comp.Guard.Root()),
		t0:     time.Now(),
	}
	var err error
	switch set.Mode {
	case ModeManifest, ModeBoundary:
		err = d.manifest(ctx)
	case ModeDiscover:
		err = d.discover(ctx)
	case ModeStream:
		err = d.stream(ctx)
	default:
		err = fmt.Errorf("%w: unknown mode %q", contract.ErrInvalidInput, set.Mode)
	}
	if ctx.Err() != nil {
		d.rec.Interrupted()
		if err == nil {
			err = ctx.Err()
		}
	}
	sum := d.rec.Snapshot()
	set.Terminal.DocFinish(err == nil && len(sum.Failures) == 0, len(sum.CreatedFiles), sum.Requested, time.Since(d.t0))
	return sum, err
}

func sanity(c Components, s Settings) error {
	if c.Writer == nil || c.Guard == nil {
		return errors.New("pipeline: missing components")
	}
	switch s.Mode {
	case ModeManifest, ModeBoundary:
		if c.Manifests == nil {
			return fmt.Errorf("pipeline: mode %s needs a manifest source", s.Mode)
		}
	case ModeStream:
		if c.Stream == nil {
			return errors.New("pipeline: mode stream needs a stream source")
		}
	case ModeDiscover:
		if c.Resolver == nil && (c.Matcher == nil || s.NoFallback) {
			return errors.New("pipeline: mode discover needs a resolver or fallback rules")
		}
	default:
		return fmt.Errorf("pipeline: unknown mode %q", s.Mode)
	}
	return nil
}
