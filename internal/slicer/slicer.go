// Package slicer 按显式边界清单从完整文档中切出各文件内容。
package slicer

import (
	"strings"

	"dumptree/pkg/contract"
)

// Unresolved: 单条边界未能解析的原因（数据，而非控制流）。
type Unresolved struct {
	Index    int
	Filename contract.FileID
	Reason   string
}

// Result: 切片结果。
//   - Files: 路径 → 内容（已去首尾空白）；同名条目后者覆盖前者；
//   - Order: 已解析路径的首次出现顺序（按清单顺序），用于确定性遍历；
//   - Unresolved: 每条失败的边界（按清单顺序）。
type Result struct {
	Files      map[contract.FileID]string
	Order      []contract.FileID
	Unresolved []Unresolved
}

// Reason 返回 path 最后一次解析失败的原因；没有记录时返回空串。
func (r Result) Reason(path contract.FileID) string {
	for i := len(r.Unresolved) - 1; i >= 0; i-- {
		if r.Unresolved[i].Filename == path {
			return r.Unresolved[i].Reason
		}
	}
	return ""
}

// Slice 对 raw 应用清单 m。纯函数：相同输入恒得相同输出，不修改入参。
//
// 对每条边界：从偏移 0 找 start_marker 的首次出现，内容窗口紧随其后；
// 再从窗口起点（而非 0）找 end_marker 的首次出现，避免更早出现的结束标记截断窗口。
// 任一标记缺失则记为 Unresolved 并继续下一条。
func Slice(raw string, m contract.Manifest) Result {
	res := Result{Files: make(map[contract.FileID]string, len(m))}
	for i, b := range m {
		name := contract.FileID(strings.TrimSpace(b.Filename))
		if name == "" || strings.TrimSpace(b.StartMarker) == "" || strings.TrimSpace(b.EndMarker) == "" {
			res.Unresolved = append(res.Unresolved, Unresolved{Index: i, Filename: name, Reason: "boundary has empty field"})
			continue
		}
		content, reason, ok := window(raw, b.StartMarker, b.EndMarker)
		if !ok {
			res.Unresolved = append(res.Unresolved, Unresolved{Index: i, Filename: name, Reason: reason})
			continue
		}
		if _, seen := res.Files[name]; !seen {
			res.Order = append(res.Order, name)
		}
		res.Files[name] = content
	}
	return res
}

func window(raw, start, end string) (string, string, bool) {
	si := strings.Index(raw, start)
	if si < 0 {
		return "", "start marker not found", false
	}
	from := si + len(start)
	ei := strings.Index(raw[from:], end)
	if ei < 0 {
		if strings.Contains(raw[:from], end) {
			return "", "end marker precedes start marker", false
		}
		return "", "end marker not found", false
	}
	return strings.TrimSpace(raw[from : from+ei]), "", true
}
