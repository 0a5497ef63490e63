package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dumptree/pkg/contract"
)

const (
	defaultMaxInputMB = 100
	stdinID           = contract.FileID("stdin")
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// MaxInputMB: 单个文档的大小上限（MiB）。默认 100。
	MaxInputMB int `json:"max_input_mb"`
	// Extensions: 允许的扩展名（含点，大小写不敏感）。默认 [".txt", ".md"]。
	Extensions []string `json:"extensions"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配）。
	// 例如 [".git","node_modules","vendor"]。
	// 仅影响目录递归，不影响单文件 root。
	ExcludeDirNames []string `json:"exclude_dir_names"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
// 每个文档在交付前完成准入校验：扩展名、大小上限、去除 NUL 字节、去空白后非空。
// 显式给出的文件不满足准入条件时报错；目录遍历中扩展名不符的文件直接跳过。
type FileSystem struct {
	maxBytes int64
	exts     map[string]struct{}
	// 以小写形式保存，比较时按小写基名匹配。
	excludeDir map[string]struct{}
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.MaxInputMB <= 0 {
		o.MaxInputMB = defaultMaxInputMB
	}
	if len(o.Extensions) == 0 {
		o.Extensions = []string{".txt", ".md"}
	}
	exts := make(map[string]struct{}, len(o.Extensions))
	for _, e := range o.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = struct{}{}
	}
	ex := make(map[string]struct{})
	for _, name := range o.ExcludeDirNames {
		if name == "" {
			continue
		}
		// 小写基名匹配，调用方无需关心大小写。
		ex[strings.ToLower(name)] = struct{}{}
	}
	return &FileSystem{maxBytes: int64(o.MaxInputMB) << 20, exts: exts, excludeDir: ex}
}

var _ contract.Reader = (*FileSystem)(nil)

// Iterate 遍历 roots，按稳定顺序对每个文档调用 yield。
// 支持 roots 为空或仅包含 "-" 作为 STDIN。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		b, err := r.load(os.Stdin, stdinID)
		if err != nil {
			return err
		}
		return yield(stdinID, io.NopCloser(bytes.NewReader(b)))
	}
	// 禁止与其他根混用 "-"
	for _, s := range roots {
		if s == "-" {
			return fmt.Errorf("%w: stdin '-' cannot be mixed with other roots", contract.ErrInvalidInput)
		}
	}

	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

// Allowed 报告 name 的扩展名是否在允许集中。
func (r *FileSystem) Allowed(name string) bool {
	_, ok := r.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	info, err := os.Lstat(root)
	if err != nil {
		return fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	// 仅跟随到常规文件；目录符号链接不跟随（忽略）
	if info.Mode()&os.ModeSymlink != 0 {
		t, err := os.Stat(root)
		if err != nil {
			return fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
		}
		if !t.Mode().IsRegular() {
			return nil
		}
		return r.emit(root, t, true, yield)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", contract.ErrInvalidInput, root)
	}
	return r.emit(root, info, true, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// 先目录（不跟随目录符号链接）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	// 再文件（允许指向常规文件的符号链接；目录符号链接与非常规文件忽略）
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() || !r.Allowed(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		info, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := r.emit(p, info, false, yield); err != nil {
			return err
		}
	}
	return nil
}

// emit 校验并交付单个文件。explicit=false（目录遍历）时空文档被跳过而非报错。
func (r *FileSystem) emit(p string, info os.FileInfo, explicit bool, yield func(contract.FileID, io.ReadCloser) error) error {
	id := contract.NormalizeFileID(p)
	if !r.Allowed(p) {
		return fmt.Errorf("%w: %s: extension %q not allowed", contract.ErrInvalidInput, id, filepath.Ext(p))
	}
	if info.Size() > r.maxBytes {
		return fmt.Errorf("%w: %s is %d bytes (limit %d)", contract.ErrBudgetExceeded, id, info.Size(), r.maxBytes)
	}
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	b, err := r.load(f, id)
	_ = f.Close()
	if err != nil {
		if !explicit && errors.Is(err, errEmpty) {
			return nil
		}
		return err
	}
	return yield(id, io.NopCloser(bytes.NewReader(b)))
}

var errEmpty = errors.New("empty document")

// load 读取至多 maxBytes 字节，去除 NUL，并拒绝空白文档。
func (r *FileSystem) load(src io.Reader, id contract.FileID) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(src, r.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > r.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", contract.ErrBudgetExceeded, id, r.maxBytes)
	}
	b = bytes.ReplaceAll(b, []byte{0}, nil)
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, fmt.Errorf("%w: %w: %s", contract.ErrInvalidInput, errEmpty, id)
	}
	return b, nil
}
