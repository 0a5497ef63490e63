package pathlist

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/dlclark/regexp2"

	"dumptree/pkg/contract"
)

// Options: 预留占位。
type Options struct{}

type decoder struct{}

var (
	bulletRe = regexp2.MustCompile(`^\s*[-*]\s+`, regexp2.None)
	numberRe  = regexp2.MustCompile(`^\d+\.\s+`, regexp2.None)
)

// New 从原样 JSON Options 创建解码器（当前忽略选项）。
func New(raw json.RawMessage) (contract.PathDecoder, error) {
	var opts Options
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &opts)
	}
	return &decoder{}, nil
}

// DecodePaths 把“每行一个路径”的模型输出解析为有序、去重的路径列表。
// 注释行/围栏行被跳过；列表符号与序号被剥离；
// 只保留含路径分隔符或点号、且末段带扩展名的行。
func (d *decoder) DecodePaths(ctx context.Context, raw contract.Raw) ([]contract.FileID, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	var out []contract.FileID
	seen := map[contract.FileID]struct{}{}
	for _, line := range strings.Split(raw.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "```") {
			continue
		}
		line = stripPrefix(bulletRe, line)
		line = stripPrefix(numberRe, line)
		if !strings.ContainsAny(line, "/\\.") {
			continue
		}
		line = strings.TrimRight(strings.ReplaceAll(line, "\\", "/"), "/")
		if !strings.Contains(path.Base(line), ".") {
			continue
		}
		p := contract.FileID(line)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

var _ contract.PathDecoder = (*decoder)(nil)

func stripPrefix(re *regexp2.Regexp, s string) string {
	out, err := re.Replace(s, "", 0, 1)
	if err != nil {
		return s
	}
	return out
}
