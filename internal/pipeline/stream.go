package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dumptree/internal/demux"
	"dumptree/internal/diag"
	"dumptree/pkg/contract"
)

// streamState: 单次流内的去重与目录记录。文件按完成顺序串行落盘。
type streamState struct {
	seen    map[string]struct{}
	created map[contract.FileID]struct{}
	dirs    map[contract.FileID]struct{}
	dm      contract.DirMaker
}

// stream: 片段 → 解复用器 → 每个完成的文件立即守卫并落盘。
// 同一路径重复出现时后者覆盖前者，计数只记一次。
func (d *docRun) stream(ctx context.Context) error {
	dm := demux.New(d.set.Protocol)
	st := &streamState{
		seen:    map[string]struct{}{},
		created: map[contract.FileID]struct{}{},
		dirs:    map[contract.FileID]struct{}{},
	}
	st.dm, _ = d.comp.Writer.(contract.DirMaker)
	d.set.Terminal.DocStart(string(d.docID), 0)

	timer := d.logger.StartWith("demux", "stream", string(d.docID))
	fragments := 0
	err := d.comp.Stream.Stream(ctx, d.doc, func(frag string) error {
		fragments++
		for _, f := range dm.Feed(frag) {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			d.commit(ctx, st, f)
		}
		return ctx.Err()
	})

	if ferr := dm.Finish(); ferr != nil {
		var ue *demux.UnterminatedError
		path := ""
		if errors.As(ferr, &ue) {
			path = string(ue.Path)
		}
		if _, dup := st.seen[d.streamKey(path)]; dup {
			// 同一路径此前已完整出现，保留先前结果
			d.logger.Warn("demux", "unterminated duplicate ignored", path)
		} else {
			d.rec.AddRequested(1)
			d.failErr(path, ferr)
		}
	}
	if dm.Malformed > 0 {
		d.logger.Warn("demux", "malformed start delimiters dropped", string(d.docID), zap.Int("count", dm.Malformed))
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.logger.ErrorWith("demux", "stream failed", err, timer.Since(), string(d.docID))
		d.set.Metrics.IncOp("demux", "error", "error")
		d.set.Metrics.IncError("demux", diag.Classify(err))
		return fmt.Errorf("stream: %w", err)
	}
	timer.Finish("stream", int64(fragments))
	d.set.Metrics.IncOp("demux", "finish", "success")
	return nil
}

// streamKey: 去重键；守卫接受的路径取规范形式，否则取原样。
func (d *docRun) streamKey(raw string) string {
	if d.comp.Guard.Validate(raw).Accepted {
		return string(contract.NormalizeFileID(raw))
	}
	return raw
}

func (d *docRun) commit(ctx context.Context, st *streamState, f contract.ExtractedFile) {
	raw := string(f.Path)
	v := d.comp.Guard.Validate(raw)
	key := raw
	var out contract.FileID
	if v.Accepted {
		out = contract.NormalizeFileID(raw)
		key = string(out)
	}
	_, dup := st.seen[key]
	if !dup {
		st.seen[key] = struct{}{}
		d.rec.AddRequested(1)
	}
	if !v.Accepted {
		if !dup {
			d.fail(v.Path, contract.KindPathRejected, v.Reason)
		}
		return
	}
	if dup {
		d.logger.DebugStart("demux", "duplicate path overwrites earlier content", string(out))
	}
	if st.dm != nil {
		d.ensureParents(ctx, st.dm, out, st.dirs)
	}
	if err := d.write(ctx, out, f.Content, contract.OriginMarker); err != nil {
		if ctx.Err() == nil {
			d.failErr(string(out), err)
		}
		return
	}
	if _, done := st.created[out]; done {
		return
	}
	st.created[out] = struct{}{}
	d.created(out, contract.OriginMarker)
}
