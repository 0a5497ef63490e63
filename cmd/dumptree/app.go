package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dumptree/internal/config"
	"dumptree/internal/diag"
	"dumptree/internal/report"
)

// loadConfig: defaults → 文件 → ENV → 显式旗标。
func loadConfig(cmd *cobra.Command, o *options) (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	fl := cmd.Flags()
	if fl.Changed("llm") {
		cfg.LLM = strings.TrimSpace(o.llm)
	}
	if fl.Changed("output") {
		cfg.OutputDir = o.output
	}
	if fl.Changed("concurrency") {
		cfg.Concurrency = o.concurrency
	}
	if fl.Changed("max-retries") {
		cfg.MaxRetries = o.maxRetries
	}
	if fl.Changed("timeout") {
		cfg.TimeoutSeconds = o.timeout
	}
	if fl.Changed("min-success-rate") {
		cfg.MinSuccessRate = o.minRate
	}
	if fl.Changed("no-fallback") {
		cfg.NoFallback = o.noFallback
	}
	if fl.Changed("log-level") {
		cfg.Logging.Level = o.logLevel
	}
	if fl.Changed("no-summary") && o.noSummary {
		cfg.WriteSummary = false
	}
	if fl.Lookup("mode") != nil && fl.Changed("mode") {
		cfg.Mode = o.mode
	}
	if fl.Lookup("manifest") != nil && fl.Changed("manifest") {
		cfg.Manifest = o.manifest
	}
	return cfg, nil
}

// runtime: 一次运行的日志/指标/终端。
type runtime struct {
	corrID  string
	logger  *diag.Logger
	metrics *diag.Metrics
	term    *diag.Terminal
}

func newRuntime(cmd *cobra.Command, o *options, level string) *runtime {
	corrID := uuid.NewString()
	return &runtime{
		corrID:  corrID,
		logger:  diag.NewLogger(corrID, level, diag.LoggerOptions{Dir: o.logDir, Stderr: o.logStderr}),
		metrics: diag.NewMetrics(),
		term:    diag.NewTerminal(cmd.ErrOrStderr(), o.status),
	}
}

func (rt *runtime) close(o *options) {
	if err := rt.metrics.WriteTextfile(o.metricsFile); err != nil {
		rt.logger.ErrorWith("metrics", "textfile export failed", err, nil, "")
	}
	_ = rt.logger.Close()
}

// execute 装配并运行流水线，输出汇总并给出批次结论。
func execute(ctx context.Context, cmd *cobra.Command, o *options, cfg config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	rt := newRuntime(cmd, o, cfg.Logging.Level)
	defer rt.close(o)
	return executeWith(ctx, cmd.OutOrStdout(), rt, cfg)
}

func executeWith(ctx context.Context, stdout io.Writer, rt *runtime, cfg config.Config) error {
	start := time.Now()
	comp, set, err := config.Assemble(cfg, rt.logger, rt.metrics)
	if err != nil {
		rt.logger.ErrorWith("config", "assemble failed", err, &start, "")
		return err
	}
	set.Terminal, set.Metrics = rt.term, rt.metrics
	rt.logger.DebugStart("config", "effective", "",
		zap.String("mode", string(set.Mode)),
		zap.Strings("inputs", set.Inputs),
		zap.String("output_dir", cfg.OutputDir),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.String("llm", set.Backend),
		zap.Bool("no_fallback", cfg.NoFallback),
	)

	t := rt.logger.Start("pipeline", "run")
	sums, runErr := pipelineRun(ctx, comp, set, rt.logger)
	for _, s := range sums {
		fmt.Fprint(stdout, report.Render(s))
	}
	if cfg.WriteSummary && len(sums) > 0 {
		if err := writeSummary(comp.Guard.Root(), sums); err != nil {
			rt.logger.ErrorWith("report", "summary write failed", err, nil, "")
		}
	}
	if runErr != nil {
		rt.logger.ErrorWith("pipeline", "run failed", runErr, t.Since(), "")
		rt.metrics.IncOp("pipeline", "error", "error")
		rt.metrics.IncError("pipeline", diag.Classify(runErr))
		if errors.Is(runErr, context.Canceled) {
			return &exitError{code: exitBelowRate, err: errors.New("interrupted")}
		}
		return runErr
	}
	t.Finish("run", int64(len(sums)))
	rt.metrics.IncOp("pipeline", "finish", "success")
	rt.metrics.ObserveDuration("pipeline", "finish", time.Since(start))
	return verdict(sums, cfg.MinSuccessRate)
}

// verdict: 每个文档的 created/requested 都需达到阈值。
func verdict(sums []report.Summary, minRate float64) error {
	for _, s := range sums {
		if !s.Passed(minRate) {
			return &exitError{
				code: exitBelowRate,
				err: fmt.Errorf("%s: success rate %.2f below %.2f (%d/%d)",
					s.Document, s.SuccessRate(), minRate, len(s.CreatedFiles), s.Requested),
			}
		}
	}
	return nil
}

// writeSummary 写入 <root>/.dumptree-summary.json：单文档为对象，多文档为数组。
func writeSummary(root string, sums []report.Summary) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if len(sums) == 1 {
		if err := report.WriteJSON(&buf, sums[0]); err != nil {
			return err
		}
	} else {
		buf.WriteByte('[')
		for i, s := range sums {
			var one bytes.Buffer
			if err := report.WriteJSON(&one, s); err != nil {
				return err
			}
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(bytes.TrimSpace(one.Bytes()))
		}
		buf.WriteString("]\n")
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, buf.Bytes(), "", "  "); err == nil {
			buf = pretty
		}
	}
	return os.WriteFile(filepath.Join(root, summaryFile), buf.Bytes(), 0o600)
}
