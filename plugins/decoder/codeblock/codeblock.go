package codeblock

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dlclark/regexp2"

	"dumptree/pkg/contract"
)

// Options: 内容解码选项。NotFound 为后端声明“未找到”的哨兵文本，默认 FILE_NOT_FOUND。
type Options struct {
	NotFound string `json:"not_found"`
}

type decoder struct{ sentinel string }

var fenceOpenRe = regexp2.MustCompile("```[a-z]*\\n", regexp2.None)

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.ContentDecoder, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(opts.NotFound) == "" {
		opts.NotFound = "FILE_NOT_FOUND"
	}
	return &decoder{sentinel: opts.NotFound}, nil
}

// DecodeContent 剥离 Markdown 围栏并去首尾空白。
// 含哨兵文本或清理后为空时返回 contract.ErrNotFound。
func (d *decoder) DecodeContent(ctx context.Context, raw contract.Raw) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if strings.Contains(raw.Text, d.sentinel) {
		return "", contract.ErrNotFound
	}
	code, err := fenceOpenRe.Replace(raw.Text, "", -1, -1)
	if err != nil {
		return "", err
	}
	code = strings.TrimSpace(strings.ReplaceAll(code, "```", ""))
	if code == "" {
		return "", contract.ErrNotFound
	}
	return code, nil
}

var _ contract.ContentDecoder = (*decoder)(nil)
