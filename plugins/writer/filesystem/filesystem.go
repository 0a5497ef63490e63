package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dumptree/internal/guard"
	"dumptree/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 输出根目录（必需）。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认值：true。未提供该字段时采用原子写；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 时文件 0600、目录 0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// FS: 保留目录层级的文件系统 Sink。
// 每次写入前再次经过路径守卫（目录在规划与写入之间可能被替换为符号链接）。
type FS struct {
	root    string
	guard   *guard.Guard
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, os.ErrInvalid
	}
	g, err := guard.New(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o600
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{root: g.Root(), guard: g, atomic: atomic, permF: pf, permD: pd, bufSize: bsz}, nil
}

var (
	_ contract.Writer   = (*FS)(nil)
	_ contract.DirMaker = (*FS)(nil)
)

// Root 返回规范化后的输出根。
func (w *FS) Root() string { return w.root }

// Write 将 r 的全部字节写入到 id 映射的目标路径（覆盖已有文件）。
// 路径被拒绝时返回包装 contract.ErrPathInvalid 的错误；其余失败包装 contract.ErrSinkWrite。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return sinkErr(err)
	}

	if w.atomic {
		err = w.writeAtomic(ctx, dest, r)
	} else {
		err = w.writeOverwrite(ctx, dest, r)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return sinkErr(err)
	}
	return nil
}

// MakeDir 幂等创建 dir（及其父目录），返回 dir 本身是否为本次新建。
func (w *FS) MakeDir(ctx context.Context, dir contract.FileID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dest, err := w.mapPath(dir)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return false, sinkErr(err)
	}
	err = os.Mkdir(dest, w.permD)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrExist):
		if fi, serr := os.Stat(dest); serr == nil && fi.IsDir() {
			return false, nil
		}
		return false, sinkErr(fmt.Errorf("%s exists and is not a directory", dir))
	default:
		return false, sinkErr(err)
	}
}

// mapPath: 守卫校验（'..'、绝对路径、越界、字符集）+ Join。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := strings.TrimSpace(string(id))
	if err := w.guard.Check(rel); err != nil {
		return "", err
	}
	return filepath.Join(w.root, filepath.FromSlash(string(contract.NormalizeFileID(rel)))), nil
}

func sinkErr(err error) error {
	return fmt.Errorf("%w: %w", contract.ErrSinkWrite, err)
}

func (w *FS) writeOverwrite(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, w.permF)
	if err != nil {
		return err
	}
	// 确保及时关闭
	defer f.Close()

	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return cleanup(err)
	}
	if err := bw.Flush(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 平台特定的原子替换（或最佳努力）
	if err := osReplace(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 最佳努力：同步父目录
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
