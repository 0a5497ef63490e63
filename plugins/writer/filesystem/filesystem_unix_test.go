//go:build !windows

package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumptree/pkg/contract"
)

// 默认权限：文件 0600。
func TestWritePermUnix(t *testing.T) {
	w, dir := newFS(t, true)
	require.NoError(t, w.Write(context.Background(), "p.txt", strings.NewReader("x")))
	fi, err := os.Stat(filepath.Join(dir, "p.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

// 指向根外的符号链接目录在写入时被拒绝。
func TestWriteSymlinkEscapeUnix(t *testing.T) {
	w, dir := newFS(t, true)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))
	err := w.Write(context.Background(), "link/x.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, contract.ErrPathInvalid)
	_, err = os.Stat(filepath.Join(outside, "x.txt"))
	assert.True(t, os.IsNotExist(err))
}
