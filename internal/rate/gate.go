package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"dumptree/pkg/contract"
)

// LimitKey: 限流分组键（例如 provider 名称 + 凭据摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限，0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false 且不消耗额度。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now（仅 Try/Snapshot 使用）。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

// entry: 两个维度各一个令牌桶（容量=每分钟额度，按秒匀速回填）。
type entry struct {
	mu  sync.Mutex
	lim Limits
	req *xrate.Limiter
	tok *xrate.Limiter
}

func newEntry(lim Limits) *entry {
	e := &entry{lim: lim}
	if lim.RPM > 0 {
		e.req = xrate.NewLimiter(xrate.Limit(float64(lim.RPM)/60.0), lim.RPM)
	}
	if lim.TPM > 0 {
		e.tok = xrate.NewLimiter(xrate.Limit(float64(lim.TPM)/60.0), lim.TPM)
	}
	return e
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Tokens < 0 {
		return nil, contract.ErrInvalidInput
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return nil, fmt.Errorf("%w: %d tokens exceeds per-request cap %d", contract.ErrInvalidInput, a.Tokens, e.lim.MaxTokensPerReq)
	}
	return e, nil
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	var held []*xrate.Reservation
	for _, it := range []struct {
		l *xrate.Limiter
		n int
	}{{e.req, a.Requests}, {e.tok, a.Tokens}} {
		if it.l == nil || it.n == 0 {
			continue
		}
		r := it.l.ReserveN(now, it.n)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, h := range held {
				h.CancelAt(now)
			}
			return false
		}
		held = append(held, r)
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	if e.req != nil {
		if a.Requests > e.req.Burst() {
			return fmt.Errorf("%w: %d requests exceeds rpm %d", contract.ErrInvalidInput, a.Requests, e.req.Burst())
		}
		if err := e.req.WaitN(ctx, a.Requests); err != nil {
			return waitErr(ctx, err)
		}
	}
	if e.tok != nil && a.Tokens > 0 {
		if a.Tokens > e.tok.Burst() {
			return fmt.Errorf("%w: %d tokens exceeds tpm %d", contract.ErrBudgetExceeded, a.Tokens, e.tok.Burst())
		}
		if err := e.tok.WaitN(ctx, a.Tokens); err != nil {
			return waitErr(ctx, err)
		}
	}
	return nil
}

// waitErr: 优先返回 ctx 错误；限流器预判会超过截止时间时归为配额不足。
func waitErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return fmt.Errorf("%w: %v", contract.ErrRateLimited, err)
}

// Snapshot: 返回当前可用请求/令牌的“向下取整”估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	if e.req != nil {
		rpmAvail = clamp(e.req.TokensAt(now), e.req.Burst())
	}
	if e.tok != nil {
		tpmAvail = clamp(e.tok.TokensAt(now), e.tok.Burst())
	}
	return
}

func clamp(v float64, hi int) int {
	if v < 0 {
		return 0
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}

// 接口断言（可选）。
var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
