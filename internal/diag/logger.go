package diag

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 在 zap 之上保留阶段事件词汇：comp / stage(start|finish|error) / code / dur_ms / count / file_id。
// 所有方法对 nil 接收者安全（等价于 no-op）。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// LoggerOptions: 日志器构造选项。
type LoggerOptions struct {
	Dir      string // 轮转日志目录；空则默认 "logs"
	MaxBytes int64  // 单文件上限；<=0 使用 10 MiB
	// MaxBackups: 保留的轮转文件数；0 使用 5，<0 不清理
	MaxBackups int
	Stderr     bool // 同时输出到 stderr
}

// NewLogger 通过配置的 level 初始化：JSON 编码，写入 <dir>/dumptree-current.log（按大小轮转）。
func NewLogger(corrID, level string, opts LoggerOptions) *Logger {
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 * 1024 * 1024
	}
	if opts.MaxBackups == 0 {
		opts.MaxBackups = 5
	}
	sink := NewRotatingFile(opts.Dir, opts.MaxBytes, opts.MaxBackups)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	lvl := zap.NewAtomicLevelAt(parseLevel(level))

	ws := zapcore.WriteSyncer(sink)
	if opts.Stderr {
		ws = zapcore.NewMultiWriteSyncer(sink, zapcore.Lock(os.Stderr))
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), ws, lvl)
	z := zap.New(core, zap.ErrorOutput(zapcore.Lock(os.Stderr))).With(zap.String("corr_id", corrID))
	return &Logger{z: z, sink: sink}
}

// FromZap 包装已有 zap.Logger（测试使用 zap.NewNop 或 observer）。
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Zap 暴露底层 zap.Logger。
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

// Close 刷新缓冲并关闭日志文件。
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

func (l *Logger) enabled() bool { return l != nil && l.z != nil }

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string, fields ...zap.Field) *Timer {
	return l.StartWith(comp, msg, "", fields...)
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string, fields ...zap.Field) *Timer {
	if !l.enabled() {
		return nil
	}
	l.z.Info(msg, event(comp, "start", fileID, fields)...)
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// DebugStart 输出调试级别的 start 类事件。
func (l *Logger) DebugStart(comp, msg, fileID string, fields ...zap.Field) {
	if !l.enabled() {
		return
	}
	l.z.Debug(msg, event(comp, "start", fileID, fields)...)
}

// Warn 记录非致命异常（如回退规则生效、路径被拒绝）。
func (l *Logger) Warn(comp, msg, fileID string, fields ...zap.Field) {
	if !l.enabled() {
		return
	}
	l.z.Warn(msg, event(comp, "warn", fileID, fields)...)
}

// ErrorWith 记录 error 事件；code 取 Classify(err)。
func (l *Logger) ErrorWith(comp, msg string, err error, durSince *time.Time, fileID string, fields ...zap.Field) {
	if !l.enabled() {
		return
	}
	fs := event(comp, "error", fileID, fields)
	fs = append(fs, zap.String("code", string(Classify(err))), zap.Error(err))
	if durSince != nil {
		fs = append(fs, zap.Int64("dur_ms", time.Since(*durSince).Milliseconds()))
	}
	if ue, ok := AsUpstream(err); ok {
		fs = append(fs, zap.Int("http_status", ue.UpstreamStatus()), zap.String("upstream_msg", ue.UpstreamMessage()))
	}
	l.z.Error(msg, fs...)
}

func event(comp, stage, fileID string, extra []zap.Field) []zap.Field {
	fs := make([]zap.Field, 0, len(extra)+3)
	fs = append(fs, zap.String("comp", comp), zap.String("stage", stage))
	if fileID != "" {
		fs = append(fs, zap.String("file_id", fileID))
	}
	return append(fs, extra...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64, fields ...zap.Field) {
	if t == nil || !t.l.enabled() {
		return
	}
	fs := event(t.comp, "finish", t.fileID, fields)
	fs = append(fs, zap.Int64("dur_ms", time.Since(t.t0).Milliseconds()), zap.Int64("count", count))
	t.l.z.Info(msg, fs...)
}

// Since 返回计时起点（nil 计时器返回零值）。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}
