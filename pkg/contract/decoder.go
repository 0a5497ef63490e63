package contract

import "context"

// 解码器：把 Raw 解释为领域结构。字段名/容错策略由具体实现自决。
// 解码失败统一包装 ErrResponseInvalid（清单结构错误包装 ErrManifestShape）。

// ManifestDecoder: Raw → 边界清单（结构校验全有或全无）。
type ManifestDecoder interface {
	DecodeManifest(ctx context.Context, raw Raw) (Manifest, error)
}

// PathDecoder: Raw → 有序相对路径列表（已去重）。
type PathDecoder interface {
	DecodePaths(ctx context.Context, raw Raw) ([]FileID, error)
}

// ContentDecoder: Raw → 文件内容；后端声明“未找到”时返回 ErrNotFound。
type ContentDecoder interface {
	DecodeContent(ctx context.Context, raw Raw) (string, error)
}
