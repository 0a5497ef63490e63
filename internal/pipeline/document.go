package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dumptree/internal/diag"
	"dumptree/internal/fallback"
	"dumptree/internal/report"
	"dumptree/internal/slicer"
	"dumptree/pkg/contract"
)

// docRun: 单个文档的一次提取。rec 是汇总的唯一追加点。
type docRun struct {
	comp   Components
	set    Settings
	logger *diag.Logger
	docID  contract.FileID
	doc    string
	rec    *report.Recorder
	t0     time.Time
}

// item: 已通过守卫的路径。raw 用于内容解析（与清单/发现结果逐字一致），out 为落盘路径。
type item struct {
	raw string
	out contract.FileID
}

// resolveFunc: 单路径内容解析；失败时返回的错误决定汇总中的失败分类。
type resolveFunc func(ctx context.Context, raw string) (content string, origin contract.Origin, err error)

// manifest: 取得边界清单 → 切片 → 未解析条目转回退规则。
func (d *docRun) manifest(ctx context.Context) error {
	mt := d.logger.StartWith("manifest", "load", string(d.docID))
	m, err := d.comp.Manifests.Manifest(ctx, d.doc)
	if err != nil {
		d.logger.ErrorWith("manifest", "load failed", err, mt.Since(), string(d.docID))
		d.set.Metrics.IncOp("manifest", "error", "error")
		d.set.Metrics.IncError("manifest", diag.Classify(err))
		if errors.Is(err, contract.ErrManifestShape) {
			d.fail("", contract.KindManifestShape, err.Error())
		}
		return fmt.Errorf("manifest: %w", err)
	}
	mt.Finish("load", int64(len(m)))

	st := d.logger.StartWith("slicer", "slice", string(d.docID))
	res := slicer.Slice(d.doc, m)
	st.Finish("slice", int64(len(res.Files)), zap.Int("unresolved", len(res.Unresolved)))

	names := make([]string, 0, len(m))
	for _, b := range m {
		names = append(names, strings.TrimSpace(b.Filename))
	}
	resolve := func(ctx context.Context, raw string) (string, contract.Origin, error) {
		if c, ok := res.Files[contract.FileID(raw)]; ok && c != "" {
			return c, contract.OriginMarker, nil
		}
		reason := res.Reason(contract.FileID(raw))
		if reason == "" {
			reason = "empty content"
		}
		return d.fallback(raw, fmt.Errorf("%w: %s", contract.ErrBoundaryUnresolved, reason), false)
	}
	return d.dispatch(ctx, names, resolve)
}

// discover: 路径发现（失败或为空时改用标题扫描）→ 逐路径请求内容后端 → 未找到转回退规则。
func (d *docRun) discover(ctx context.Context) error {
	var paths []contract.FileID
	var derr error
	if d.comp.Discoverer != nil {
		paths, derr = d.comp.Discoverer.Discover(ctx, d.doc)
		if derr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if derr != nil || len(paths) == 0 {
		paths = fallback.ScanHeadings(d.doc)
		fields := []zap.Field{zap.Int("paths", len(paths))}
		if derr != nil {
			fields = append(fields, zap.Error(derr))
		}
		d.logger.Warn("discover", "structure discovery unavailable, using heading scan", string(d.docID), fields...)
	}
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		names = append(names, strings.TrimSpace(string(p)))
	}
	resolve := func(ctx context.Context, raw string) (string, contract.Origin, error) {
		primary := errors.New("no content backend")
		if d.comp.Resolver != nil {
			c, err := d.comp.Resolver.Resolve(ctx, d.doc, contract.FileID(raw))
			if err == nil && strings.TrimSpace(c) != "" {
				return c, contract.OriginMarker, nil
			}
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			if err == nil {
				err = contract.ErrNotFound
			}
			primary = err
		}
		return d.fallback(raw, fmt.Errorf("%w: %v", contract.ErrBoundaryUnresolved, primary), true)
	}
	return d.dispatch(ctx, names, resolve)
}

// fallback 在主路径未解析时依序尝试启发式规则。
// exhausted=true 时全部未命中归为 fallback_exhausted；否则保留主路径的失败分类并附注回退结果。
func (d *docRun) fallback(raw string, primary error, exhausted bool) (string, contract.Origin, error) {
	if d.comp.Matcher == nil || d.set.NoFallback {
		return "", "", primary
	}
	c, rule, ok := d.comp.Matcher.Match(d.doc, contract.FileID(raw))
	if ok && c != "" {
		d.logger.Warn("fallback", "rule matched", raw, zap.String("rule", rule))
		d.set.Metrics.IncOp("fallback", rule, "success")
		return c, contract.OriginFallback, nil
	}
	why := "no fallback rule matched"
	if ok {
		why = fmt.Sprintf("fallback rule %s matched empty content", rule)
	}
	d.set.Metrics.IncOp("fallback", "exhausted", "error")
	if exhausted {
		return "", "", fmt.Errorf("%w: %v; %s", contract.ErrFallbackExhausted, primary, why)
	}
	return "", "", fmt.Errorf("%w; %s", primary, why)
}

// dispatch: 去重与守卫 → 按序建目录 → 并发解析与写入。
func (d *docRun) dispatch(ctx context.Context, names []string, resolve resolveFunc) error {
	var items []item
	var rejected []contract.PathVerdict
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		v := d.comp.Guard.Validate(raw)
		key := raw
		var out contract.FileID
		if v.Accepted {
			out = contract.NormalizeFileID(raw)
			key = string(out)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !v.Accepted {
			rejected = append(rejected, v)
			continue
		}
		items = append(items, item{raw: raw, out: out})
	}
	d.rec.AddRequested(len(seen))
	d.set.Terminal.DocStart(string(d.docID), len(seen))
	for _, v := range rejected {
		d.fail(v.Path, contract.KindPathRejected, v.Reason)
	}

	d.makeDirs(ctx, items)

	var g errgroup.Group
	g.SetLimit(d.set.Concurrency)
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			d.one(ctx, it, resolve)
			return nil
		})
	}
	return g.Wait()
}

func (d *docRun) one(ctx context.Context, it item, resolve resolveFunc) {
	if ctx.Err() != nil {
		return
	}
	c, origin, err := resolve(ctx, it.raw)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		d.failErr(it.raw, err)
		return
	}
	if err := d.write(ctx, it.out, c, origin); err != nil {
		if ctx.Err() == nil {
			d.failErr(string(it.out), err)
		}
		return
	}
	// Sink 已提交：即使随后被取消也计入汇总
	d.created(it.out, origin)
}

// makeDirs 按清单顺序创建全部父目录；只统计本次新建的目录。
func (d *docRun) makeDirs(ctx context.Context, items []item) {
	dm, ok := d.comp.Writer.(contract.DirMaker)
	if !ok {
		return
	}
	seen := map[contract.FileID]struct{}{}
	for _, it := range items {
		d.ensureParents(ctx, dm, it.out, seen)
	}
}

func (d *docRun) ensureParents(ctx context.Context, dm contract.DirMaker, p contract.FileID, seen map[contract.FileID]struct{}) {
	for _, dir := range contract.ParentDirs(p) {
		if _, done := seen[dir]; done {
			continue
		}
		seen[dir] = struct{}{}
		created, err := dm.MakeDir(ctx, dir)
		if err != nil {
			d.logger.ErrorWith("writer", "mkdir failed", err, nil, string(dir))
			d.set.Metrics.IncError("writer", diag.Classify(err))
			continue
		}
		if created {
			d.rec.Dir(dir)
		}
	}
}

// write 把内容交给 Sink；除路径拒绝外的错误统一包装为 contract.ErrSinkWrite。
func (d *docRun) write(ctx context.Context, out contract.FileID, content string, origin contract.Origin) error {
	wt := d.logger.StartWith("writer", "write", string(out), zap.String("origin", string(origin)))
	err := d.comp.Writer.Write(ctx, out, strings.NewReader(content))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.ErrorWith("writer", "write failed", err, wt.Since(), string(out))
		d.set.Metrics.IncOp("writer", "error", "error")
		d.set.Metrics.IncError("writer", diag.Classify(err))
		if !errors.Is(err, contract.ErrSinkWrite) && !errors.Is(err, contract.ErrPathInvalid) {
			err = fmt.Errorf("%w: %v", contract.ErrSinkWrite, err)
		}
		return err
	}
	wt.Finish("write", int64(len(content)))
	d.set.Metrics.IncOp("writer", "finish", "success")
	if ts := wt.Since(); ts != nil {
		d.set.Metrics.ObserveDuration("writer", "write", time.Since(*ts))
	}
	return nil
}

func (d *docRun) created(out contract.FileID, origin contract.Origin) {
	d.rec.Created(out, origin)
	d.set.Metrics.FileWritten(string(origin))
	d.set.Terminal.Progress(true)
}

func (d *docRun) fail(path string, kind contract.FailureKind, reason string) {
	d.rec.Fail(path, kind, reason)
	d.set.Metrics.Failure(string(kind))
	d.set.Terminal.Progress(false)
	d.logger.Warn("pipeline", "file failed", path, zap.String("kind", string(kind)), zap.String("reason", reason))
}

func (d *docRun) failErr(path string, err error) {
	d.fail(path, report.KindOf(err), err.Error())
}
