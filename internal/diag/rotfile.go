package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	logPrefix      = "dumptree-"
	currentLogName = logPrefix + "current.log"
)

// RotatingFile 是按大小轮转的日志文件，实现 zapcore.WriteSyncer。
//   - 当前文件固定为 <dir>/dumptree-current.log；
//   - 写入将超过 maxBytes 时重命名为 dumptree-<UTC 时间戳>.log 并重新打开；
//   - maxBackups > 0 时只保留最新的若干个轮转文件。
type RotatingFile struct {
	dir        string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	f    *os.File
	size int64
}

func NewRotatingFile(dir string, maxBytes int64, maxBackups int) *RotatingFile {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return &RotatingFile{dir: dir, maxBytes: maxBytes, maxBackups: maxBackups}
}

// Write 写入一条已编码的记录（zap 保证每次调用为完整的一行），单行不会被拆到两个文件。
func (w *RotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(); err != nil {
		return 0, err
	}
	if w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingFile) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

func (w *RotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// open 惰性打开当前文件；续写已有文件时沿用其大小。
func (w *RotatingFile) open() error {
	if w.f != nil {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(w.dir, currentLogName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	return nil
}

func (w *RotatingFile) rotate() error {
	if w.f == nil {
		return w.open()
	}
	cur := w.f.Name()
	_ = w.f.Close()
	w.f = nil
	// 纳秒精度，同秒内多次轮转不会互相覆盖
	ts := time.Now().UTC().Format("20060102-150405.000000000")
	if err := os.Rename(cur, filepath.Join(w.dir, fmt.Sprintf("%s%s.log", logPrefix, ts))); err != nil {
		return fmt.Errorf("rename rotated file: %w", err)
	}
	w.prune()
	return w.open()
}

// prune 删除超出 maxBackups 的旧轮转文件（文件名按时间戳排序）；失败忽略。
func (w *RotatingFile) prune() {
	if w.maxBackups <= 0 {
		return
	}
	backups := w.backups()
	if len(backups) <= w.maxBackups {
		return
	}
	for _, name := range backups[:len(backups)-w.maxBackups] {
		_ = os.Remove(filepath.Join(w.dir, name))
	}
}

// backups 返回目录下的轮转文件名（升序）。
func (w *RotatingFile) backups() []string {
	ents, err := os.ReadDir(w.dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || n == currentLogName || !strings.HasPrefix(n, logPrefix) || !strings.HasSuffix(n, ".log") {
			continue
		}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
