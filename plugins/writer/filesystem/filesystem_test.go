package filesystem

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumptree/pkg/contract"
)

func newFS(t *testing.T, atomic bool) (*FS, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := New(&Options{OutputDir: dir, Atomic: &atomic})
	require.NoError(t, err)
	return w, w.Root()
}

func noTemps(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tmp-"), "tmp file not cleaned: %s", e.Name())
	}
}

// TestWriteAtomic 原子写入，保留目录层级
func TestWriteAtomic(t *testing.T) {
	w, dir := newFS(t, true)
	require.NoError(t, w.Write(context.Background(), "pkg/sub/out.go", bytes.NewBufferString("data")))
	b, err := os.ReadFile(filepath.Join(dir, "pkg", "sub", "out.go"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(b))
	noTemps(t, filepath.Join(dir, "pkg", "sub"))
}

// 当目标已存在时，Atomic 写应替换为新内容。
func TestWriteAtomicReplaceExisting(t *testing.T) {
	w, dir := newFS(t, true)
	require.NoError(t, w.Write(context.Background(), "out.txt", bytes.NewBufferString("v1")))
	require.NoError(t, w.Write(context.Background(), "out.txt", bytes.NewBufferString("v2")))
	b, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b))
	noTemps(t, dir)
}

// 空内容也会创建文件。
func TestWriteEmpty(t *testing.T) {
	for _, atomic := range []bool{true, false} {
		w, dir := newFS(t, atomic)
		require.NoError(t, w.Write(context.Background(), "empty.txt", strings.NewReader("")))
		fi, err := os.Stat(filepath.Join(dir, "empty.txt"))
		require.NoError(t, err)
		assert.Zero(t, fi.Size())
	}
}

// TestWritePathInvalid 越界/绝对/非法字符路径被拒绝，且不产生任何文件。
func TestWritePathInvalid(t *testing.T) {
	w, dir := newFS(t, true)
	for _, id := range []string{"../bad", "a/../../bad", "/abs", "~/x", "", ".", "sp ace.txt", "C:/x"} {
		err := w.Write(context.Background(), contract.ArtifactID(id), bytes.NewBufferString("x"))
		assert.ErrorIs(t, err, contract.ErrPathInvalid, "id=%q", id)
		assert.NotErrorIs(t, err, contract.ErrSinkWrite, "id=%q", id)
	}
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

// TestWriteNonAtomic 非原子写入
func TestWriteNonAtomic(t *testing.T) {
	w, dir := newFS(t, false)
	require.NoError(t, w.Write(context.Background(), "sub/out.txt", bytes.NewBufferString("v")))
	_, err := os.Stat(filepath.Join(dir, "sub", "out.txt"))
	require.NoError(t, err)
}

// TestWriteCtxCancel 上下文取消
func TestWriteCtxCancel(t *testing.T) {
	w, _ := newFS(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Write(ctx, "a.txt", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNewInvalid 参数缺失
func TestNewInvalid(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Options{})
	assert.Error(t, err)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

// TestWriteAtomicCopyError 原子写入时拷贝失败：包装为 ErrSinkWrite 且不残留临时文件
func TestWriteAtomicCopyError(t *testing.T) {
	w, dir := newFS(t, true)
	err := w.Write(context.Background(), "a.txt", errReader{})
	require.ErrorIs(t, err, contract.ErrSinkWrite)
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

// TestMakeDir 只有首次创建报告 created=true；并发调用安全。
func TestMakeDir(t *testing.T) {
	w, dir := newFS(t, true)
	ctx := context.Background()

	created, err := w.MakeDir(ctx, "a/b")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = w.MakeDir(ctx, "a")
	require.NoError(t, err)
	assert.False(t, created, "parent already created implicitly")

	var wg sync.WaitGroup
	var mu sync.Mutex
	n := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := w.MakeDir(ctx, "c")
			assert.NoError(t, err)
			if c {
				mu.Lock()
				n++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, n)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), nil, 0o600))
	_, err = w.MakeDir(ctx, "f")
	assert.ErrorIs(t, err, contract.ErrSinkWrite)
	_, err = w.MakeDir(ctx, "../up")
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
}

// TestReaderWithCtxCancel reader 在读取前取消
func TestReaderWithCtxCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := readerWithCtx(ctx, strings.NewReader("data"))
	cancel()
	_, err := r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
