package boundaryjson

import (
	"context"
	"encoding/json"
	"strings"

	"dumptree/internal/slicer"
	"dumptree/pkg/contract"
)

// Options: 边界清单解码选项。
//   - Strict=true 时要求 Raw.Text 本身就是 JSON 数组；
//   - 默认宽松：剥离 Markdown 围栏，并截取首个 '[' 到最后一个 ']' 之间的片段。
type Options struct {
	Strict bool `json:"strict"`
}

type decoder struct{ opts Options }

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.ManifestDecoder, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, err
		}
	}
	return &decoder{opts: opts}, nil
}

// DecodeManifest 期望 [{"filename","start_marker","end_marker"}, ...]；
// 结构不合规包装 contract.ErrManifestShape（全有或全无）。
func (d *decoder) DecodeManifest(ctx context.Context, raw contract.Raw) (contract.Manifest, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	text := raw.Text
	if !d.opts.Strict {
		text = extractArray(text)
	}
	return slicer.ParseManifest([]byte(text))
}

var _ contract.ManifestDecoder = (*decoder)(nil)

// extractArray 容忍模型在 JSON 外包裹的围栏/说明文字。
func extractArray(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "[") {
		return s
	}
	i := strings.IndexByte(s, '[')
	j := strings.LastIndexByte(s, ']')
	if i < 0 || j < i {
		return s
	}
	return s[i : j+1]
}
