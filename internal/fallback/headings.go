package fallback

import (
	"strings"

	"github.com/dlclark/regexp2"

	"dumptree/pkg/contract"
)

// 形如 "## src/app.py" 的整行标题；最后一段须带扩展名。
var headingRe = regexp2.MustCompile(`^#+\s+([a-zA-Z0-9_\-./\$]+\.[a-zA-Z0-9]+)\s*$`, regexp2.None)

// ScanHeadings 从 Markdown 标题行中推断文件路径，作为路径发现失败时的兜底。
// 结果按首次出现顺序去重，反斜杠统一为正斜杠。
func ScanHeadings(doc string) []contract.FileID {
	var out []contract.FileID
	seen := map[contract.FileID]struct{}{}
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		mt, err := headingRe.FindStringMatch(line)
		if err != nil || mt == nil {
			continue
		}
		p := contract.FileID(strings.ReplaceAll(mt.GroupByNumber(1).String(), "\\", "/"))
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
