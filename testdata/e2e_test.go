package testdata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "dumptree/internal/config"
	"dumptree/internal/pipeline"
	"dumptree/internal/report"
	"dumptree/pkg/contract"
)

// sampleFiles 是写入 dump 的文件集合（路径 -> 内容）。
var sampleFiles = []struct{ path, body string }{
	{"cmd/app/main.go", "package main\n\nfunc main() {}"},
	{"internal/util/strings.go", "package util\n\nfunc Upper(s string) string { return s }"},
	{"README.md", "# demo\nhello"},
	{"scripts/build.sh", "#!/bin/sh\necho build"},
}

// writeDump 按“## 路径”标题格式生成 dump 文档。
func writeDump(t *testing.T, dir string) string {
	var b strings.Builder
	b.WriteString("# project dump\n\n")
	for _, f := range sampleFiles {
		fmt.Fprintf(&b, "## %s\n%s\n\n", f.path, f.body)
	}
	p := filepath.Join(dir, "dump.md")
	if err := os.WriteFile(p, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("write dump: %v", err)
	}
	return p
}

func baseConfig(input, outDir, mode string) cfgpkg.Config {
	cfg := cfgpkg.DefaultTemplateConfig()
	cfg.Inputs = []string{input}
	cfg.Mode = mode
	cfg.OutputDir = outDir
	cfg.Logging.Level = "error"
	cfg.MaxRetries = 2
	cfg.WriteSummary = false
	cfg.LLM = "mock"
	cfg.Provider = map[string]cfgpkg.Provider{
		"mock": {Client: "mock"},
	}
	return cfg
}

func runPipeline(t *testing.T, cfg cfgpkg.Config) ([]report.Summary, error) {
	if err := cfgpkg.Validate(cfg); err != nil {
		return nil, err
	}
	comp, set, err := cfgpkg.Assemble(cfg, nil, nil)
	if err != nil {
		return nil, err
	}
	return pipeline.Run(context.Background(), comp, set, nil)
}

func checkOutputs(t *testing.T, outDir string) {
	t.Helper()
	for _, f := range sampleFiles {
		got, err := os.ReadFile(filepath.Join(outDir, filepath.FromSlash(f.path)))
		if err != nil {
			t.Fatalf("read %s: %v", f.path, err)
		}
		if string(got) != f.body {
			t.Fatalf("%s mismatch\nwant:\n%s\ngot:\n%s", f.path, f.body, got)
		}
	}
}

func TestE2EModes(t *testing.T) {
	for _, mode := range []string{"discover", "boundary", "stream"} {
		t.Run(mode, func(t *testing.T) {
			dir := t.TempDir()
			in := writeDump(t, dir)
			outDir := filepath.Join(dir, "out")
			sums, err := runPipeline(t, baseConfig(in, outDir, mode))
			if err != nil {
				t.Fatalf("pipeline: %v", err)
			}
			if len(sums) != 1 {
				t.Fatalf("summaries=%d", len(sums))
			}
			s := sums[0]
			if s.Requested != len(sampleFiles) || len(s.CreatedFiles) != len(sampleFiles) {
				t.Fatalf("requested=%d created=%d failures=%v", s.Requested, len(s.CreatedFiles), s.Failures)
			}
			checkOutputs(t, outDir)
		})
	}
}

func TestE2EManifest(t *testing.T) {
	dir := t.TempDir()
	in := writeDump(t, dir)
	var b strings.Builder
	b.WriteString("[")
	for i, f := range sampleFiles {
		if i > 0 {
			b.WriteString(",")
		}
		end := "<<<EOF>>>"
		if i+1 < len(sampleFiles) {
			end = "## " + sampleFiles[i+1].path
		}
		fmt.Fprintf(&b, `{"filename":%q,"start_marker":%q,"end_marker":%q}`, f.path, "## "+f.path, end)
	}
	b.WriteString("]")
	man := filepath.Join(dir, "bounds.json")
	if err := os.WriteFile(man, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	cfg := baseConfig(in, outDir, "manifest")
	cfg.Manifest = man
	sums, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if !sums[0].Passed(1) {
		t.Fatalf("summary: %+v", sums[0])
	}
	// 最后一个条目的结束标记不存在，由回退规则补齐
	if got := sums[0].Origins[contract.OriginFallback]; got != 1 {
		t.Fatalf("fallback origins=%d", got)
	}
	checkOutputs(t, outDir)
}

func TestE2ETokenCap(t *testing.T) {
	dir := t.TempDir()
	in := writeDump(t, dir)
	outDir := filepath.Join(dir, "out")
	cfg := baseConfig(in, outDir, "discover")
	cfg.MaxRetries = 0
	cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock", Limits: cfgpkg.Limits{MaxTokensPerReq: 1}}

	sums, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	// 每次请求都超出 token 上限，回退规则仍能恢复全部文件
	if got := sums[0].Origins[contract.OriginFallback]; got != len(sampleFiles) {
		t.Fatalf("fallback origins=%d summary=%+v", got, sums[0])
	}
	checkOutputs(t, outDir)

	cfg.NoFallback = true
	cfg.OutputDir = filepath.Join(dir, "out2")
	sums, err = runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if len(sums[0].CreatedFiles) != 0 || len(sums[0].Failures) != len(sampleFiles) {
		t.Fatalf("expect all failed without fallback: %+v", sums[0])
	}
	for _, f := range sums[0].Failures {
		if !strings.Contains(f.Reason, "per-request cap") {
			t.Fatalf("unexpected failure: %+v", f)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "README.md")); err == nil {
		t.Fatalf("output file should not exist")
	}
}

func TestE2ERetry(t *testing.T) {
	dir := t.TempDir()
	in := writeDump(t, dir)
	outDir := filepath.Join(dir, "out")
	logPath := filepath.Join(dir, "flaky.log")
	cfg := baseConfig(in, outDir, "boundary")
	cfg.LLM = "flaky"
	cfg.Provider["flaky"] = cfgpkg.Provider{
		Client:  "flaky",
		Options: map[string]any{"log_path": logPath},
	}
	sums, err := runPipeline(t, cfg)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if !sums[0].Passed(1) {
		t.Fatalf("summary: %+v", sums[0])
	}
	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(logData)), "\n")
	if len(lines) < 3 || lines[0] != "rate_limited" || lines[1] != "invalid" || lines[2] != "ok" {
		t.Fatalf("unexpected log: %v", lines)
	}
}

func TestE2EPathRejected(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "evil.md")
	doc := "## ../escape.txt\nnope\n\n## /tmp/abs.txt\nnope\n\n## ok/keep.txt\nyes\n"
	if err := os.WriteFile(in, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	sums, err := runPipeline(t, baseConfig(in, outDir, "stream"))
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	s := sums[0]
	if len(s.CreatedFiles) != 1 || s.CreatedFiles[0] != "ok/keep.txt" {
		t.Fatalf("created=%v", s.CreatedFiles)
	}
	rejected := 0
	for _, f := range s.Failures {
		if f.Kind == contract.KindPathRejected {
			rejected++
		}
	}
	if rejected != 2 {
		t.Fatalf("failures=%+v", s.Failures)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err == nil {
		t.Fatalf("escaped write")
	}
}
