package registry

import (
	"bytes"
	"encoding/json"

	"dumptree/pkg/contract"
	dbj "dumptree/plugins/decoder/boundaryjson"
	dcb "dumptree/plugins/decoder/codeblock"
	dpl "dumptree/plugins/decoder/pathlist"
	flaky "dumptree/plugins/llmclient/flaky"
	gmi "dumptree/plugins/llmclient/gemini"
	mock "dumptree/plugins/llmclient/mock"
	oll "dumptree/plugins/llmclient/ollama"
	oai "dumptree/plugins/llmclient/openai"
	pex "dumptree/plugins/prompt/extract"
	rfs "dumptree/plugins/reader/filesystem"
	wfs "dumptree/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewManifestDecoder 工厂签名：接收原样 JSON Options。
type NewManifestDecoder func(raw json.RawMessage) (contract.ManifestDecoder, error)

// NewPathDecoder 工厂签名：接收原样 JSON Options。
type NewPathDecoder func(raw json.RawMessage) (contract.PathDecoder, error)

// NewContentDecoder 工厂签名：接收原样 JSON Options。
type NewContentDecoder func(raw json.RawMessage) (contract.ContentDecoder, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件/目录/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// extract: 四种用途（boundary|structure|content|stream）的 Chat 提示词
	"extract": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pex.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pex.New(&opts)
	},
}

// LLMClient 工厂注册表。各实现自行解析选项。
var LLMClient = map[string]NewLLMClient{
	"ollama": func(raw json.RawMessage) (contract.LLMClient, error) { return oll.New(raw) },
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"mock":   func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":  func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// ManifestDecoder 工厂注册表。
var ManifestDecoder = map[string]NewManifestDecoder{
	// boundaryjson: [{filename,start_marker,end_marker}]
	"boundaryjson": func(raw json.RawMessage) (contract.ManifestDecoder, error) { return dbj.New(raw) },
}

// PathDecoder 工厂注册表。
var PathDecoder = map[string]NewPathDecoder{
	// pathlist: 每行一个路径
	"pathlist": func(raw json.RawMessage) (contract.PathDecoder, error) { return dpl.New(raw) },
}

// ContentDecoder 工厂注册表。
var ContentDecoder = map[string]NewContentDecoder{
	// codeblock: 剥离外层围栏，识别 FILE_NOT_FOUND
	"codeblock": func(raw json.RawMessage) (contract.ContentDecoder, error) { return dcb.New(raw) },
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
