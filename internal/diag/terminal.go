package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Terminal: 终端信息提示（非日志）。
// - 输出到提供的 io.Writer（默认建议 stderr）。
// - TTY: 单行 \r 覆盖并着色；非 TTY: 关键节点分行打印纯文本。
// - 并发安全；写失败后进入禁用态为 no-op；nil 接收者安全。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	// 运行期最小状态
	concurrency int
	mode        string
	backend     string
	docsDone    int
	runStart    time.Time

	// 当前文档
	curDoc    string // 短名（base + 截断）
	requested int
	done      int
	errCount  int

	// 输出控制
	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	tagStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	okStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	failStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935"))
)

// NewTerminal 构造终端提示器。
// enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	// CI 环境视为非 TTY
	if os.Getenv("CI") != "" {
		t.isTTY = false
	} else if f, ok := w.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			t.isTTY = fi.Mode()&os.ModeCharDevice != 0
		}
	}
	return t
}

// IsTTY 报告输出端是否为终端。
func (t *Terminal) IsTTY() bool { return t != nil && t.isTTY }

// RunStart: 记录运行上下文（模式、后端、并发）。
func (t *Terminal) RunStart(mode, backend string, concurrency int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.mode, t.backend, t.concurrency = mode, backend, concurrency
	t.docsDone = 0
	t.runStart = time.Now()
	if backend == "" {
		backend = "-"
	}
	t.println(fmt.Sprintf("%s 模式=%s | 后端=%s | 并发=%d", t.tag("[run]", tagStyle), safe(mode), safe(backend), concurrency))
}

// DocStart: 标记当前文档与计划文件数（流式模式未知时传 0）。
func (t *Terminal) DocStart(docID string, requested int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.curDoc = shortenBase(docID, 48)
	t.requested = requested
	t.done, t.errCount = 0, 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[doc] %s | 计划文件=%d", t.curDoc, requested))
	}
}

// Progress: 单文件完成（ok=false 计为错误）。TTY 下周期性刷新（≥100ms 节流）。
func (t *Terminal) Progress(ok bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.done++
	if !ok {
		t.errCount++
	}
	if !t.isTTY {
		return
	}
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	total := "?"
	if t.requested > 0 {
		total = fmt.Sprint(t.requested)
	}
	t.printInline(fmt.Sprintf("[doc] %s | 进度 %d/%s | 错误 %d | 并发 %d | 用时 %s",
		t.curDoc, t.done, total, t.errCount, t.concurrency, formatSince(t.runStart)))
}

// DocFinish: 完成当前文档（立即刷新并换行）。
func (t *Terminal) DocFinish(ok bool, created, requested int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.docsDone++
	status := t.tag("[done]", okStyle)
	if !ok {
		status = t.tag("[fail]", failStyle)
	}
	// 先清掉可能的行尾
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("%s %s | 文件 %d/%d | 总用时 %s", status, t.curDoc, created, requested, formatDur(dur)))
}

// RunFinish: 结束总览。
func (t *Terminal) RunFinish(ok bool, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := t.tag("[ok]", okStyle)
	if !ok {
		tag = t.tag("[fail]", failStyle)
	}
	t.println(fmt.Sprintf("%s 全部完成 | 文档 %d | 总用时 %s", tag, t.docsDone, formatDur(dur)))
}

// Println 输出一行自由文本（如摘要表格）。
func (t *Terminal) Println(s string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(s)
}

// tag 仅在 TTY 下着色，非 TTY 输出保持纯文本。
func (t *Terminal) tag(s string, st lipgloss.Style) string {
	if !t.isTTY {
		return s
	}
	return st.Render(s)
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if t == nil || !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	if t == nil || !t.enabled {
		return
	}
	// 若新行比旧短，填充空格覆盖
	pad := 0
	if l := lipgloss.Width(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = lipgloss.Width(s)
}

// shortenBase: 取基名并按可见宽度截断（尾部省略号）。
func shortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if base == "" || base == "." {
		return ""
	}
	if lipgloss.Width(base) <= max {
		return base
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	rs := []rune(base)
	if len(rs) <= cut {
		return string(rs)
	}
	return string(rs[:cut]) + "…"
}

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

func formatSince(t0 time.Time) string { return formatDur(time.Since(t0)) }

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}
