package guard

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumptree/pkg/contract"
)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := New(t.TempDir())
	require.NoError(t, err)
	return g
}

// UT-GRD-01: 典型越界路径被拒绝，普通相对路径放行。
func TestValidateRejectsTraversal(t *testing.T) {
	g := newGuard(t)
	cases := []struct {
		path string
		rule Rule
	}{
		{"../../etc/passwd", RuleParent},
		{"/etc/passwd", RuleAbsolute},
		{"C:\\..\\x", RuleParent},
		{"~/.ssh/id_rsa", RuleAbsolute},
		{"\\windows\\system32", RuleAbsolute},
		{"a/../../b", RuleParent},
		{"", RuleEmpty},
		{"   ", RuleEmpty},
		{"src/ma in.go", RuleCharset},
		{"src/main.go;rm", RuleCharset},
		{"C:\\x", RuleCharset},
	}
	for _, c := range cases {
		v := g.Validate(c.path)
		assert.False(t, v.Accepted, "应拒绝 %q", c.path)
		assert.True(t, strings.HasPrefix(v.Reason, string(c.rule)+":"), "%q 违例规则应为 %s, got %q", c.path, c.rule, v.Reason)
		assert.Equal(t, c.path, v.Path)
	}
}

func TestValidateAccepts(t *testing.T) {
	g := newGuard(t)
	for _, p := range []string{"src/main.go", "README.md", "a/b/c/d.txt", "pkg/x_y-z.v2.go", ".github/workflows/ci.yml"} {
		v := g.Validate(p)
		assert.True(t, v.Accepted, "应放行 %q: %s", p, v.Reason)
		assert.Empty(t, v.Reason)
	}
}

// 规则按序执行：同时违反多条时报告第一条。
func TestValidateFirstViolationWins(t *testing.T) {
	g := newGuard(t)
	v := g.Validate("/a/../b c")
	require.False(t, v.Accepted)
	assert.True(t, strings.HasPrefix(v.Reason, string(RuleParent)))
}

// 输出根本身不是合法的文件目标。
func TestValidateRootItself(t *testing.T) {
	g := newGuard(t)
	for _, p := range []string{".", "./", "./."} {
		v := g.Validate(p)
		assert.False(t, v.Accepted, p)
		assert.True(t, strings.HasPrefix(v.Reason, string(RuleEscape)), v.Reason)
	}
}

// 父目录为指向根外的符号链接时，字符串检查无法发现，需解析后拦截。
func TestValidateSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink 需要特权")
	}
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))
	g, err := New(root)
	require.NoError(t, err)

	v := g.Validate("link/evil.sh")
	assert.False(t, v.Accepted)
	assert.True(t, strings.HasPrefix(v.Reason, string(RuleEscape)), v.Reason)

	// 根内的符号链接照常放行
	require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "inside")))
	assert.True(t, g.Validate("inside/ok.go").Accepted)
}

// 输出根尚不存在也能构造。
func TestNewMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not", "yet")
	g, err := New(root)
	require.NoError(t, err)
	assert.True(t, g.Validate("src/main.go").Accepted)
	_, err = New("  ")
	assert.Error(t, err)
}

func TestCheckWrapsSentinel(t *testing.T) {
	g := newGuard(t)
	err := g.Check("../x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrPathInvalid))
	assert.NoError(t, g.Check("x/y.go"))
}

// Validate 是纯判定：不创建任何文件或目录。
func TestValidateNoSideEffects(t *testing.T) {
	root := t.TempDir()
	g, err := New(root)
	require.NoError(t, err)
	_ = g.Validate("deep/nested/file.go")
	ents, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, ents)
}
