// Package guard 在任何字节落盘前校验输出路径。
//
// 规则按序执行，首个违例即判定拒绝：
//  1. 含父目录记号 '..'；
//  2. 以根分隔符（'/'、'\'）或家目录简写 '~' 开头；
//  3. 与输出根拼接并解析符号链接后不再位于输出根之内；
//  4. 含允许集 [a-zA-Z0-9_\-./] 之外的字符。
package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"dumptree/pkg/contract"
)

// Rule: 违例规则名（写入 Reason 前缀，便于汇总统计）。
type Rule string

const (
	RuleEmpty    Rule = "empty"
	RuleParent   Rule = "parent_token"
	RuleAbsolute Rule = "absolute"
	RuleEscape   Rule = "escapes_root"
	RuleCharset  Rule = "charset"
)

// Guard: 绑定单一输出根的纯判定器。
// 仅做只读的符号链接解析，不创建/修改任何文件；并发安全。
type Guard struct {
	root string // 绝对路径，已解析符号链接（若存在）
}

// New 以输出根构造守卫。输出根可以尚不存在。
func New(root string) (*Guard, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("guard: empty output root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Guard{root: resolveExisting(abs)}, nil
}

// Root 返回守卫使用的规范化输出根。
func (g *Guard) Root() string { return g.root }

// Validate 返回 path 的判定结果。Reason 形如 "rule: 说明"。
func (g *Guard) Validate(path string) contract.PathVerdict {
	reject := func(r Rule, msg string) contract.PathVerdict {
		return contract.PathVerdict{Path: path, Reason: fmt.Sprintf("%s: %s", r, msg)}
	}
	if strings.TrimSpace(path) == "" {
		return reject(RuleEmpty, "empty path")
	}
	if strings.Contains(path, "..") {
		return reject(RuleParent, "contains parent directory token '..'")
	}
	if strings.HasPrefix(path, "/") || strings.HasPrefix(path, "\\") || strings.HasPrefix(path, "~") {
		return reject(RuleAbsolute, "absolute or home-relative path")
	}
	joined := filepath.Join(g.root, filepath.FromSlash(path))
	resolved := resolveExisting(joined)
	if !hasPathPrefix(resolved, g.root) || samePath(resolved, g.root) {
		return reject(RuleEscape, "resolves outside output root")
	}
	for _, r := range path {
		if !allowed(r) {
			return reject(RuleCharset, fmt.Sprintf("character %q not allowed", r))
		}
	}
	return contract.PathVerdict{Path: path, Accepted: true}
}

// Check 与 Validate 相同，但以错误形式返回（包装 contract.ErrPathInvalid）。
func (g *Guard) Check(path string) error {
	v := g.Validate(path)
	if v.Accepted {
		return nil
	}
	return fmt.Errorf("%w: %s", contract.ErrPathInvalid, v.Reason)
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.', r == '/':
		return true
	}
	return false
}

// resolveExisting 解析 p 中已存在的最长前缀的符号链接，其余部分原样拼回。
// 目标文件尚未创建时，仍能发现“父目录是指向根外的符号链接”这类情况。
func resolveExisting(p string) string {
	p = filepath.Clean(p)
	rest := ""
	cur := p
	for {
		if r, err := filepath.EvalSymlinks(cur); err == nil {
			if rest == "" {
				return r
			}
			return filepath.Join(r, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		if rest == "" {
			rest = filepath.Base(cur)
		} else {
			rest = filepath.Join(filepath.Base(cur), rest)
		}
		cur = parent
	}
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func hasPathPrefix(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
		root = strings.ToLower(root)
	}
	if path == root {
		return true
	}
	sep := string(os.PathSeparator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(path, root)
}
