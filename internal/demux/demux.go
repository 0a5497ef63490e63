// Package demux 把一条带内联分隔符的文本流拆分为多个具名文件。
//
// 协议：
//
//	<<<FILE_START>>>path/to/file.ext<<<Header_End>>>
//	...content...
//	<<<FILE_END>>>
//
// 分隔符可以被任意切分到多次 Feed 中。路径捕获中不得出现协议的内部锚点（默认 "<<<"）。
package demux

import (
	"fmt"
	"strings"

	"dumptree/pkg/contract"
)

// Protocol: 三个固定字面量记号。
type Protocol struct {
	Start     string
	HeaderEnd string
	Stop      string
}

// DefaultProtocol 与流式提示词中约定的输出格式一致。
var DefaultProtocol = Protocol{
	Start:     "<<<FILE_START>>>",
	HeaderEnd: "<<<Header_End>>>",
	Stop:      "<<<FILE_END>>>",
}

// MaxPathLen: 起始分隔符内路径捕获的上限；超过仍未见 HeaderEnd 视为畸形。
const MaxPathLen = 4096

// UnterminatedError: 流结束时仍处于收集状态的文件。
type UnterminatedError struct {
	Path      contract.FileID
	Collected int // 已收集的字节数
}

func (e *UnterminatedError) Error() string {
	return fmt.Sprintf("unterminated file %q (%d bytes collected)", e.Path, e.Collected)
}

func (e *UnterminatedError) Unwrap() error { return contract.ErrUnterminatedSegment }

// Demuxer: 单次流的有状态消费者。
// Feed 必须严格串行调用（不可重入，非并发安全）；内部不阻塞、不读流，只响应交给它的片段。
type Demuxer struct {
	proto  Protocol
	anchor string

	buf     string
	active  bool
	path    contract.FileID
	content strings.Builder

	// Malformed: 被丢弃的畸形起始分隔符计数（诊断用）。
	Malformed int
}

// New 以协议构造 Demuxer；零值字段回落到 DefaultProtocol。
func New(p Protocol) *Demuxer {
	if p.Start == "" {
		p.Start = DefaultProtocol.Start
	}
	if p.HeaderEnd == "" {
		p.HeaderEnd = DefaultProtocol.HeaderEnd
	}
	if p.Stop == "" {
		p.Stop = DefaultProtocol.Stop
	}
	return &Demuxer{proto: p, anchor: anchorOf(p)}
}

// anchorOf: Start 与 HeaderEnd 的公共前缀；没有公共前缀时取 Start 本身。
// 路径捕获中出现该锚点即视为畸形起始分隔符。
func anchorOf(p Protocol) string {
	n := 0
	for n < len(p.Start) && n < len(p.HeaderEnd) && p.Start[n] == p.HeaderEnd[n] {
		n++
	}
	if n == 0 {
		return p.Start
	}
	return p.Start[:n]
}

// Feed 追加一个片段，并在返回前排空缓冲中所有完整的 start→stop 周期。
// 返回本片段内完成的文件（按出现顺序）。
func (d *Demuxer) Feed(fragment string) []contract.ExtractedFile {
	d.buf += fragment
	var out []contract.ExtractedFile
	for {
		if !d.active {
			if !d.openNext() {
				return out
			}
			continue
		}
		f, ok := d.collect()
		if !ok {
			return out
		}
		out = append(out, f)
	}
}

// Finish 结束本次流。若仍有文件处于收集状态，返回 *UnterminatedError；
// 已完成的文件不受影响。调用后 Demuxer 回到初始状态。
func (d *Demuxer) Finish() error {
	defer d.reset()
	if !d.active {
		return nil
	}
	return &UnterminatedError{Path: d.path, Collected: d.content.Len() + len(d.buf)}
}

// Active 返回当前正在收集的文件路径。
func (d *Demuxer) Active() (contract.FileID, bool) { return d.path, d.active }

func (d *Demuxer) reset() {
	d.buf = ""
	d.active = false
	d.path = ""
	d.content.Reset()
}

// openNext: Idle 状态下寻找完整的起始分隔符。找到则进入收集状态并返回 true；
// 需要更多输入时返回 false。起始记号之前的文本与畸形起始分隔符被丢弃。
func (d *Demuxer) openNext() bool {
	for {
		i := strings.Index(d.buf, d.proto.Start)
		if i < 0 {
			d.buf = keepPartial(d.buf, d.proto.Start)
			return false
		}
		rest := d.buf[i+len(d.proto.Start):]
		j := strings.Index(rest, d.proto.HeaderEnd)
		if j < 0 {
			if malformedPending(rest, d.anchor, d.proto.HeaderEnd) {
				d.Malformed++
				d.buf = rest
				continue
			}
			d.buf = d.buf[i:]
			return false
		}
		capture := rest[:j]
		path := strings.TrimSpace(capture)
		if path == "" || len(capture) > MaxPathLen || strings.Contains(capture, d.anchor) {
			d.Malformed++
			d.buf = rest
			continue
		}
		d.active = true
		d.path = contract.FileID(path)
		d.content.Reset()
		d.buf = rest[j+len(d.proto.HeaderEnd):]
		return true
	}
}

// collect: 收集状态下寻找停止记号。找到则产出文件并回到 Idle；
// 否则把缓冲（除去可能是停止记号前缀的尾部）并入内容，等待更多输入。
func (d *Demuxer) collect() (contract.ExtractedFile, bool) {
	k := strings.Index(d.buf, d.proto.Stop)
	if k < 0 {
		tail := keepPartial(d.buf, d.proto.Stop)
		d.content.WriteString(d.buf[:len(d.buf)-len(tail)])
		d.buf = tail
		return contract.ExtractedFile{}, false
	}
	d.content.WriteString(d.buf[:k])
	f := contract.ExtractedFile{
		Path:    d.path,
		Content: strings.Trim(d.content.String(), "\r\n"),
		Origin:  contract.OriginMarker,
	}
	d.buf = d.buf[k+len(d.proto.Stop):]
	d.active = false
	d.path = ""
	d.content.Reset()
	return f, true
}

// malformedPending 判断尚未出现 HeaderEnd 的路径捕获是否已可判定为畸形，
// 判定结果与后续片段如何切分无关：
//   - 首个锚点覆盖的各个位置都不可能是 HeaderEnd 的开头，则最终捕获必含锚点；
//   - 已累积的长度使得最终捕获必超过 MaxPathLen。
func malformedPending(rest, anchor, headerEnd string) bool {
	if k := strings.Index(rest, anchor); k >= 0 {
		possible := false
		for p := k; p < k+len(anchor) && p <= len(rest); p++ {
			if strings.HasPrefix(headerEnd, rest[p:]) {
				possible = true
				break
			}
		}
		if !possible {
			return true
		}
	}
	return len(rest) >= MaxPathLen+len(headerEnd)
}

// keepPartial 返回 s 的最长后缀，且该后缀是 token 的真前缀（可能是被切断的记号开头）。
func keepPartial(s, token string) string {
	n := len(token) - 1
	if n > len(s) {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasPrefix(token, s[len(s)-n:]) {
			return s[len(s)-n:]
		}
	}
	return ""
}
