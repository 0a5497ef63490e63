package contract

import "context"

// 编排层依赖的外部协作方。实现可以是 LLM 适配器，也可以是测试桩。

// Discoverer: 结构发现。失败或空列表由编排层转入启发式标题扫描。
type Discoverer interface {
	Discover(ctx context.Context, doc string) ([]FileID, error)
}

// Resolver: 内容后端。未找到返回 ErrNotFound，编排层将其等同于标记缺失。
type Resolver interface {
	Resolve(ctx context.Context, doc string, path FileID) (string, error)
}

// ManifestSource: 产出边界清单（例如请 LLM 标注边界）。
type ManifestSource interface {
	Manifest(ctx context.Context, doc string) (Manifest, error)
}
