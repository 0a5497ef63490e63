// Package report 汇总单次提取的结果：创建的文件与目录、逐条失败及原因。
package report

import (
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"

	"dumptree/pkg/contract"
)

// Failure: 单个路径的失败记录。
type Failure struct {
	Path   string               `json:"path"`
	Kind   contract.FailureKind `json:"kind"`
	Reason string               `json:"reason"`
}

// Summary: 一次运行（单文档）的汇总；是返回给调用方的唯一产物。
type Summary struct {
	Document     string                  `json:"document"`
	Mode         string                  `json:"mode"`
	OutputRoot   string                  `json:"output_root"`
	Requested    int                     `json:"requested"`
	CreatedFiles []contract.FileID       `json:"created_files"`
	CreatedDirs  []contract.FileID       `json:"created_dirs"`
	Failures     []Failure               `json:"failures"`
	Origins      map[contract.Origin]int `json:"origins"`
	Interrupted  bool                    `json:"interrupted,omitempty"`
}

// SuccessRate: created/requested；requested 为 0 时返回 0。
func (s Summary) SuccessRate() float64 {
	if s.Requested <= 0 {
		return 0
	}
	return float64(len(s.CreatedFiles)) / float64(s.Requested)
}

// Passed 判断是否达到批次阈值。阈值由调用方决定。
func (s Summary) Passed(minRate float64) bool {
	if s.Requested == 0 {
		return false
	}
	return s.SuccessRate() >= minRate
}

// Recorder: 汇总的唯一追加点（并发安全）。
type Recorder struct {
	mu sync.Mutex
	s  Summary
}

// NewRecorder 以运行上下文初始化。
func NewRecorder(document, mode, outputRoot string) *Recorder {
	return &Recorder{s: Summary{
		Document:   document,
		Mode:       mode,
		OutputRoot: outputRoot,
		Origins:    map[contract.Origin]int{},
	}}
}

// AddRequested 累加请求的路径数（流式模式按打开的文件逐个累加）。
func (r *Recorder) AddRequested(n int) {
	r.mu.Lock()
	r.s.Requested += n
	r.mu.Unlock()
}

// Created 记录一次成功落盘。
func (r *Recorder) Created(p contract.FileID, origin contract.Origin) {
	r.mu.Lock()
	r.s.CreatedFiles = append(r.s.CreatedFiles, p)
	r.s.Origins[origin]++
	r.mu.Unlock()
}

// Dir 记录一个本次新建的目录。
func (r *Recorder) Dir(p contract.FileID) {
	r.mu.Lock()
	r.s.CreatedDirs = append(r.s.CreatedDirs, p)
	r.mu.Unlock()
}

// Fail 记录一条失败。
func (r *Recorder) Fail(p string, kind contract.FailureKind, reason string) {
	r.mu.Lock()
	r.s.Failures = append(r.s.Failures, Failure{Path: p, Kind: kind, Reason: reason})
	r.mu.Unlock()
}

// FailErr 按错误类型归类后记录。
func (r *Recorder) FailErr(p string, err error) {
	r.Fail(p, KindOf(err), err.Error())
}

// Interrupted 标记运行被提前中止（已提交的文件仍计入汇总）。
func (r *Recorder) Interrupted() {
	r.mu.Lock()
	r.s.Interrupted = true
	r.mu.Unlock()
}

// Snapshot 返回汇总副本。文件与失败按路径排序，目录保持创建顺序。
func (r *Recorder) Snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.s
	out.CreatedFiles = append([]contract.FileID(nil), r.s.CreatedFiles...)
	out.CreatedDirs = append([]contract.FileID(nil), r.s.CreatedDirs...)
	out.Failures = append([]Failure(nil), r.s.Failures...)
	out.Origins = make(map[contract.Origin]int, len(r.s.Origins))
	for k, v := range r.s.Origins {
		out.Origins[k] = v
	}
	sort.Slice(out.CreatedFiles, func(i, j int) bool { return out.CreatedFiles[i] < out.CreatedFiles[j] })
	sort.SliceStable(out.Failures, func(i, j int) bool { return out.Failures[i].Path < out.Failures[j].Path })
	return out
}

// KindOf 把错误映射为摘要中的失败分类；未识别的错误归为写入失败。
func KindOf(err error) contract.FailureKind {
	switch {
	case errors.Is(err, contract.ErrManifestShape):
		return contract.KindManifestShape
	case errors.Is(err, contract.ErrPathInvalid):
		return contract.KindPathRejected
	case errors.Is(err, contract.ErrUnterminatedSegment):
		return contract.KindUnterminated
	case errors.Is(err, contract.ErrFallbackExhausted):
		return contract.KindFallbackExhausted
	case errors.Is(err, contract.ErrBoundaryUnresolved):
		return contract.KindBoundaryUnresolved
	default:
		return contract.KindSinkWrite
	}
}

// WriteJSON 以缩进 JSON 输出汇总。空切片编码为 []。
func WriteJSON(w io.Writer, s Summary) error {
	if s.CreatedFiles == nil {
		s.CreatedFiles = []contract.FileID{}
	}
	if s.CreatedDirs == nil {
		s.CreatedDirs = []contract.FileID{}
	}
	if s.Failures == nil {
		s.Failures = []Failure{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
