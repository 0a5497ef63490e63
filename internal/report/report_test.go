package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dumptree/pkg/contract"
)

func TestRecorderConcurrentAppend(t *testing.T) {
	r := NewRecorder("doc.md", "discover", "/out")
	r.AddRequested(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := contract.FileID(fmt.Sprintf("f%03d.txt", i))
			if i%4 == 0 {
				r.Fail(string(p), contract.KindFallbackExhausted, "no rule matched")
				return
			}
			r.Created(p, contract.OriginMarker)
		}(i)
	}
	wg.Wait()
	s := r.Snapshot()
	assert.Len(t, s.CreatedFiles, 75)
	assert.Len(t, s.Failures, 25)
	assert.Equal(t, 75, s.Origins[contract.OriginMarker])
	assert.Equal(t, contract.FileID("f001.txt"), s.CreatedFiles[0])
	assert.Equal(t, "f000.txt", s.Failures[0].Path)
	assert.InDelta(t, 0.75, s.SuccessRate(), 1e-9)
	assert.True(t, s.Passed(0.5))
	assert.False(t, s.Passed(0.8))
}

func TestSnapshotIsCopy(t *testing.T) {
	r := NewRecorder("d", "manifest", "o")
	r.Dir("a")
	s := r.Snapshot()
	r.Dir("a/b")
	r.Created("a/b/c.txt", contract.OriginFallback)
	assert.Len(t, s.CreatedDirs, 1)
	assert.Empty(t, s.Origins)
}

func TestKindOf(t *testing.T) {
	cases := map[error]contract.FailureKind{
		fmt.Errorf("x: %w", contract.ErrPathInvalid):       contract.KindPathRejected,
		contract.ErrManifestShape:                          contract.KindManifestShape,
		contract.ErrUnterminatedSegment:                    contract.KindUnterminated,
		fmt.Errorf("%w: y", contract.ErrFallbackExhausted): contract.KindFallbackExhausted,
		contract.ErrBoundaryUnresolved:                     contract.KindBoundaryUnresolved,
		fmt.Errorf("%w: disk full", contract.ErrSinkWrite): contract.KindSinkWrite,
		errors.New("anything else"):                        contract.KindSinkWrite,
	}
	for err, want := range cases {
		assert.Equal(t, want, KindOf(err), err.Error())
	}
}

func TestWriteJSONEmptySummary(t *testing.T) {
	r := NewRecorder("d.txt", "stream", "out")
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, r.Snapshot()))
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []any{}, got["created_files"])
	assert.Equal(t, []any{}, got["failures"])
	assert.Equal(t, float64(0), got["requested"])
	assert.Equal(t, 0.0, r.Snapshot().SuccessRate())
	assert.False(t, r.Snapshot().Passed(0))
}

func TestWriteJSONFields(t *testing.T) {
	r := NewRecorder("d.txt", "manifest", "out")
	r.AddRequested(2)
	r.Dir("src")
	r.Created("src/a.go", contract.OriginMarker)
	r.Fail("../x", contract.KindPathRejected, "parent_token: contains '..'")
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, r.Snapshot()))
	var got Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	want := Summary{
		Document: "d.txt", Mode: "manifest", OutputRoot: "out", Requested: 2,
		CreatedFiles: []contract.FileID{"src/a.go"},
		CreatedDirs:  []contract.FileID{"src"},
		Failures:     []Failure{{Path: "../x", Kind: contract.KindPathRejected, Reason: "parent_token: contains '..'"}},
		Origins:      map[contract.Origin]int{contract.OriginMarker: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestRender(t *testing.T) {
	r := NewRecorder("dump.md", "discover", "out")
	r.AddRequested(2)
	r.Created("a.txt", contract.OriginFallback)
	out := Render(r.Snapshot())
	assert.Contains(t, out, "文件 1/2 (50%)")
	assert.Contains(t, out, "回退规则提取 1 个文件")
	assert.NotContains(t, out, "REASON")

	r.Fail("b.txt", contract.KindFallbackExhausted, "no rule matched")
	r.Interrupted()
	out = Render(r.Snapshot())
	assert.Contains(t, out, "REASON")
	assert.Contains(t, out, "fallback_exhausted")
	assert.Contains(t, out, "运行被中断")
}
