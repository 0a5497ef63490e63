package diag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dumptree/pkg/contract"
)

// UT-DIAG-01: 日志轮转写入
func TestRotatingFile(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 30, 0)
	if _, err := w.Write([]byte("first line that is very long\n")); err != nil {
		t.Fatalf("写入失败: %v", err)
	}
	if _, err := w.Write([]byte("second\n")); err != nil {
		t.Fatalf("第二次写入失败: %v", err)
	}
	require.NoError(t, w.Close())
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("应存在轮转文件, got %d", len(files))
	}
}

// 进一步覆盖：当前文件名与时间戳文件存在
func TestRotatingFileRotateFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10, 0)
	for i := 0; i < 5; i++ {
		if _, err := w.Write([]byte("xxxxxxxxxxxxxxxxxx\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	require.NoError(t, w.Sync())
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	hasCurrent, hasRotated := false, false
	for _, e := range ents {
		if e.Name() == currentLogName {
			hasCurrent = true
		}
		if strings.HasPrefix(e.Name(), "dumptree-") && strings.HasSuffix(e.Name(), ".log") && !strings.Contains(e.Name(), "current") {
			hasRotated = true
		}
	}
	if !hasCurrent || !hasRotated {
		t.Fatalf("expect both current and rotated files, got current=%v rotated=%v", hasCurrent, hasRotated)
	}
}

// 保留数：只留最新的轮转文件
func TestRotatingFilePrune(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 10, 2)
	for i := 0; i < 8; i++ {
		_, err := w.Write([]byte("xxxxxxxxxxxxxxxxxx\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	assert.Len(t, w.backups(), 2)
	_, err := os.Stat(filepath.Join(dir, currentLogName))
	assert.NoError(t, err)
}

// 直接覆盖 open 与 rotate 内部分支
func TestRotatingFileOpenAndRotate(t *testing.T) {
	dir := t.TempDir()
	w := NewRotatingFile(dir, 1024, 0)
	require.NoError(t, w.open())
	require.NotNil(t, w.f)
	require.NoError(t, w.rotate())
	ents, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(ents), 2)
	require.NoError(t, w.Close())
}

// UT-DIAG-02: 指标计数
func TestMetrics(t *testing.T) {
	m := NewMetrics()
	m.IncOp("writer", "finish", "success")
	m.IncOp("writer", "finish", "success")
	m.IncError("writer", CodeIO)
	m.IncError("writer", CodeUnknown)
	m.ObserveDuration("writer", "finish", 12*time.Millisecond)
	m.FileWritten("marker")
	m.Failure("path_rejected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("writer", "finish", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.errs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.files.WithLabelValues("marker")))

	out := filepath.Join(t.TempDir(), "m.prom")
	require.NoError(t, m.WriteTextfile(out))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "dumptree_failures_total")

	var nilM *Metrics
	nilM.IncOp("a", "b", "c")
	nilM.FileWritten("x")
	assert.NoError(t, nilM.WriteTextfile(out))
}

type upstreamErr struct{ status int }

func (e upstreamErr) Error() string           { return fmt.Sprintf("status %d", e.status) }
func (e upstreamErr) UpstreamStatus() int     { return e.status }
func (e upstreamErr) UpstreamMessage() string { return "x" }

// 补充覆盖: 错误分类
func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Code
	}{
		{contract.ErrResponseInvalid, CodeProtocol},
		{fmt.Errorf("wrap: %w", contract.ErrManifestShape), CodeProtocol},
		{context.Canceled, CodeCancel},
		{&fs.PathError{Op: "open", Path: "/", Err: errors.New("x")}, CodeIO},
		{fmt.Errorf("%w: disk", contract.ErrSinkWrite), CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{contract.ErrBudgetExceeded, CodeBudget},
		{contract.ErrPathInvalid, CodeInvariant},
		{contract.ErrUnterminatedSegment, CodeInvariant},
		{upstreamErr{429}, CodeBudget},
		{upstreamErr{503}, CodeNetwork},
		{upstreamErr{400}, CodeProtocol},
		{errors.New("other"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err), "%v", c.err)
	}
}

// 补充覆盖: Logger 事件字段
func TestLoggerEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core))
	tm := l.StartWith("writer", "write", "a/b.go", zap.Int("bytes", 3))
	tm.Finish("written", 1)
	l.DebugStart("demux", "feed", "")
	l.Warn("fallback", "rule matched", "x.go")
	l.ErrorWith("writer", "write failed", fmt.Errorf("%w: boom", contract.ErrSinkWrite), tm.Since(), "a/b.go")

	all := logs.All()
	require.Len(t, all, 5)
	assert.Equal(t, "start", all[0].ContextMap()["stage"])
	assert.Equal(t, "a/b.go", all[0].ContextMap()["file_id"])
	assert.Equal(t, int64(1), all[1].ContextMap()["count"])
	assert.Equal(t, zapcore.WarnLevel, all[3].Level)
	assert.Equal(t, "io", all[4].ContextMap()["code"])

	var nl *Logger
	nl.Start("x", "y").Finish("z", 0)
	nl.ErrorWith("x", "y", errors.New("e"), nil, "")
	assert.NoError(t, nl.Close())
}

// 文件日志器写入轮转文件
func TestNewLoggerWritesFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger("corr-1", "info", LoggerOptions{Dir: dir})
	l.Start("run", "begin").Finish("end", 0)
	l.DebugStart("run", "hidden", "")
	require.NoError(t, l.Close())
	b, err := os.ReadFile(filepath.Join(dir, currentLogName))
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `"corr_id":"corr-1"`)
	assert.Contains(t, s, `"stage":"finish"`)
	assert.NotContains(t, s, "hidden")
}

// UT-DIAG-03: 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	if term.isTTY {
		t.Fatalf("expect non-tty")
	}
	term.RunStart("discover", "ollama", 4)
	term.DocStart("dumps/project.md", 12)
	term.Progress(true) // 非 TTY：不输出进度
	term.DocFinish(true, 11, 12, 5100*time.Millisecond)
	term.RunFinish(true, 41300*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] 模式=discover | 后端=ollama | 并发=4")
	assert.Contains(t, out, "[doc] project.md | 计划文件=12")
	assert.Contains(t, out, "[done] project.md | 文件 11/12 | 总用时 5.1s")
	assert.Contains(t, out, "[ok] 全部完成 | 文档 1 | 总用时 41.3s")
}

// UT-DIAG-04: 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true // 强制 TTY
	term.RunStart("stream", "mock", 1)
	term.DocStart("/a/b/c/longfilename.txt", 3)

	term.Progress(true)
	first := sb.String()
	if !strings.Contains(first, "\r[doc]") {
		t.Fatalf("first progress should be inline with CR: %q", first)
	}
	// 立即第二次：应被节流（<100ms）
	term.Progress(false)
	if sb.String() != first {
		t.Fatalf("second progress should be throttled; got changed output")
	}
	time.Sleep(120 * time.Millisecond)
	term.Progress(true)
	third := sb.String()
	if len(third) <= len(first) {
		t.Fatalf("third progress should append output")
	}
	term.DocFinish(false, 2, 3, 2200*time.Millisecond)
	final := sb.String()
	idx := strings.LastIndex(final, "[fail]")
	require.Positive(t, idx, "finish should include fail line: %q", final)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0, "should contain carriage return before fail line")
	assert.Contains(t, seg[cr+1:], " ", "clear tail should write spaces after CR")
}

// UT-DIAG-05: 写失败降级为禁用态
type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

func TestTerminalDisableOnWriteError(t *testing.T) {
	fw := &flakyWriter{fail: true}
	term := NewTerminal(fw, true)
	term.isTTY = false
	term.RunStart("manifest", "", 1) // 第一次 println 触发失败
	if term.enabled {
		t.Fatalf("terminal should be disabled after write error")
	}
	term.DocStart("a", 0)
	term.Progress(false)
	term.DocFinish(true, 0, 0, 0)
	term.RunFinish(true, 0)

	var nt *Terminal
	nt.RunStart("x", "y", 1)
	nt.Println("z")
}
