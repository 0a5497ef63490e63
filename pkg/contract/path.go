package contract

import (
	"path"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
//
// 注意：守卫必须作用于原始路径；Clean 会吃掉 '..'，不能替代越界校验。
func NormalizeFileID(p string) FileID {
	s := strings.ReplaceAll(p, "\\", "/")
	return FileID(path.Clean(s))
}

// ParentDirs 返回 p 的全部祖先目录（由浅到深，不含 "."）。
//
//	ParentDirs("a/b/c.go") == []FileID{"a", "a/b"}
func ParentDirs(p FileID) []FileID {
	dir := path.Dir(string(p))
	if dir == "." || dir == "/" || dir == "" {
		return nil
	}
	parts := strings.Split(dir, "/")
	out := make([]FileID, 0, len(parts))
	for i := range parts {
		out = append(out, FileID(strings.Join(parts[:i+1], "/")))
	}
	return out
}
