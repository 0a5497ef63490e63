package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"dumptree/pkg/contract"
	"dumptree/plugins/llmclient/mock"
)

// Options 定义可选项。
type Options struct {
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
	// ChunkSize: 透传给离线 mock 的流式分片大小。
	ChunkSize int `json:"chunk_size,omitempty"`
}

// Client 是带状态的 LLM 实现：
// 第一次调用返回 ErrRateLimited；
// 第二次返回无法解析的文本；
// 之后委托给离线 mock。
type Client struct {
	next    *mock.Client
	logPath string
	count   atomic.Int32
}

var (
	_ contract.LLMClient   = (*Client)(nil)
	_ contract.LLMStreamer = (*Client)(nil)
)

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	m, err := mock.New(json.RawMessage(fmt.Sprintf(`{"chunk_size":%d}`, o.ChunkSize)))
	if err != nil {
		return nil, err
	}
	return &Client{next: m.(*mock.Client), logPath: o.LogPath}, nil
}

// Calls 返回已发生的调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// step 返回前两次调用的注入结果；ok=false 表示应委托。
func (c *Client) step() (contract.Raw, bool, error) {
	switch c.count.Add(1) {
	case 1:
		c.log("rate_limited")
		return contract.Raw{}, true, contract.ErrRateLimited
	case 2:
		c.log("invalid")
		return contract.Raw{Text: "invalid"}, true, nil
	}
	c.log("ok")
	return contract.Raw{}, false, nil
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	if raw, injected, err := c.step(); injected {
		return raw, err
	}
	return c.next.Invoke(ctx, p)
}

// InvokeStream 实现 contract.LLMStreamer；注入的无效文本作为单个片段交付。
func (c *Client) InvokeStream(ctx context.Context, p contract.Prompt, yield func(string) error) error {
	if raw, injected, err := c.step(); injected {
		if err != nil {
			return err
		}
		return yield(raw.Text)
	}
	return c.next.InvokeStream(ctx, p, yield)
}
