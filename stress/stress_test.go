package stress

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	cfgpkg "dumptree/internal/config"
	"dumptree/internal/pipeline"
	"dumptree/internal/report"
)

// genDump 生成含 n 个文件的标题式 dump。
func genDump(n int) string {
	var b strings.Builder
	b.WriteString("# generated\n\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "## pkg%02d/file%04d.go\n", i%16, i)
		fmt.Fprintf(&b, "package pkg%02d\n\n", i%16)
		for j := 0; j < 20; j++ {
			fmt.Fprintf(&b, "var v%d_%d = %d\n", i, j, i*j)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// baseConfig 构造离线 mock 后端的最小配置。
func baseConfig(input, outDir, mode string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{input}
	cfg.Mode = mode
	cfg.OutputDir = outDir
	cfg.Logging.Level = "error"
	cfg.WriteSummary = false
	cfg.LLM = "mock"
	cfg.Provider = map[string]cfgpkg.Provider{"mock": {Client: "mock", Options: map[string]any{"chunk_size": 512}}}
	return cfg
}

// runPipeline 执行完整流水线。
func runPipeline(cfg cfgpkg.Config) ([]report.Summary, error) {
	comp, set, err := cfgpkg.Assemble(cfg, nil, nil)
	if err != nil {
		return nil, err
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

// TestStress 在不同并发度下运行流水线并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	const files = 200
	dataDir := t.TempDir()
	in := filepath.Join(dataDir, "dump.md")
	if err := os.WriteFile(in, []byte(genDump(files)), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	levels := []int{1, 4, 8, 16}
	for _, mode := range []string{"discover", "stream"} {
		for _, conc := range levels {
			t.Run(fmt.Sprintf("%s_concurrency_%d", mode, conc), func(t *testing.T) {
				const runs = 3
				successes := 0
				latencies := make([]time.Duration, 0, runs)
				for i := 0; i < runs; i++ {
					cfg := baseConfig(in, t.TempDir(), mode)
					cfg.Concurrency = conc
					start := time.Now()
					sums, err := runPipeline(cfg)
					dur := time.Since(start)
					if err != nil {
						t.Errorf("run %d: %v", i, err)
						continue
					}
					if got := len(sums[0].CreatedFiles); got != files {
						t.Errorf("run %d: created %d/%d failures=%v", i, got, files, sums[0].Failures)
						continue
					}
					successes++
					latencies = append(latencies, dur)
				}
				if successes == 0 {
					t.Fatalf("全部运行失败")
				}
				sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
				var total time.Duration
				for _, d := range latencies {
					total += d
				}
				avg := total / time.Duration(len(latencies))
				idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
				if idx < 0 {
					idx = 0
				}
				p95 := latencies[idx]
				t.Logf("%s 并发%d 成功率%.2f 平均%v 95%%延迟%v", mode, conc, float64(successes)/float64(runs), avg, p95)
			})
		}
	}
}
