package slicer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"dumptree/pkg/contract"
)

var requiredKeys = [...]string{"filename", "start_marker", "end_marker"}

// ParseManifest 严格解析清单的线上形态：对象数组，每个对象必须含有
// 去空白后非空的字符串键 filename / start_marker / end_marker。
// 任一元素不合规则整份清单被拒绝（包装 contract.ErrManifestShape），切片前完成。
// 额外的键被忽略。
func ParseManifest(data []byte) (contract.Manifest, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, fmt.Errorf("%w: top level must be an array", contract.ErrManifestShape)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrManifestShape, err)
	}
	out := make(contract.Manifest, 0, len(items))
	for i, it := range items {
		b, err := parseEntry(it)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", contract.ErrManifestShape, i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func parseEntry(raw json.RawMessage) (contract.FileBoundary, error) {
	var obj map[string]json.RawMessage
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || t[0] != '{' {
		return contract.FileBoundary{}, fmt.Errorf("not an object")
	}
	if err := json.Unmarshal(t, &obj); err != nil {
		return contract.FileBoundary{}, err
	}
	var vals [len(requiredKeys)]string
	for k, key := range requiredKeys {
		v, ok := obj[key]
		if !ok {
			return contract.FileBoundary{}, fmt.Errorf("missing %q", key)
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return contract.FileBoundary{}, fmt.Errorf("%q is not a string", key)
		}
		if strings.TrimSpace(s) == "" {
			return contract.FileBoundary{}, fmt.Errorf("%q is empty", key)
		}
		vals[k] = s
	}
	return contract.FileBoundary{Filename: strings.TrimSpace(vals[0]), StartMarker: vals[1], EndMarker: vals[2]}, nil
}
