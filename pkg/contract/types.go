package contract

// FileID: 逻辑文件标识（相对路径，'/' 分隔，跨平台一致）。
type FileID string

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// Origin: 内容来源。
type Origin string

const (
	// OriginMarker: 由显式边界（清单标记或流式分隔符）切出。
	OriginMarker Origin = "marker"
	// OriginFallback: 由启发式回退规则匹配得到。
	OriginFallback Origin = "fallback"
)

// FileBoundary: 单文件边界描述。
// 约束：三个字段去空白后均非空；Filename 为相对路径。
type FileBoundary struct {
	Filename    string `json:"filename"`
	StartMarker string `json:"start_marker"`
	EndMarker   string `json:"end_marker"`
}

// Manifest: 有序边界清单。顺序不影响切片结果，但决定目录创建顺序。
type Manifest []FileBoundary

// Paths 返回清单中的文件名（保持顺序，不去重）。
func (m Manifest) Paths() []FileID {
	out := make([]FileID, 0, len(m))
	for _, b := range m {
		out = append(out, FileID(b.Filename))
	}
	return out
}

// ExtractedFile: 已解析出的单个文件；创建后不可变。
type ExtractedFile struct {
	Path    FileID
	Content string
	Origin  Origin
}

// PathVerdict: 路径守卫的判定结果（派生值，不存储）。
type PathVerdict struct {
	Path     string
	Accepted bool
	Reason   string
}

// FailureKind: 单文件失败分类（记入汇总，不中断批次）。
type FailureKind string

const (
	KindManifestShape      FailureKind = "manifest_shape"
	KindBoundaryUnresolved FailureKind = "boundary_unresolved"
	KindPathRejected       FailureKind = "path_rejected"
	KindUnterminated       FailureKind = "unterminated"
	KindFallbackExhausted  FailureKind = "fallback_exhausted"
	KindSinkWrite          FailureKind = "sink_write"
)
