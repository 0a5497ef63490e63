package contract

import (
	"context"
	"io"
)

// ArtifactID: 与 FileID 等价的持久化工件标识（语义别名）。
type ArtifactID = FileID

// Writer: 将单个提取结果持久化到目标介质（Sink）。
// 约束：
//  1. 同一 ArtifactID 单写者（由编排层去重保证）；
//  2. 流式写入，按字节透传，不读取/修改业务内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）；
//  5. 目标必须位于输出根之内。
type Writer interface {
	Write(ctx context.Context, id ArtifactID, r io.Reader) error
}

// DirMaker: 可选扩展。幂等创建目录（已存在不报错），返回是否为本次新建。
// 并发调用同一目录必须安全。
type DirMaker interface {
	MakeDir(ctx context.Context, dir FileID) (created bool, err error)
}
