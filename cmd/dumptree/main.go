package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dumptree/internal/config"
	"dumptree/internal/diag"
	"dumptree/internal/pipeline"
	"dumptree/pkg/contract"
)

// 退出码。
const (
	exitOK         = 0
	exitBelowRate  = 1
	exitInput      = 2
	exitConfig     = 3
	exitBackend    = 4
	exitShape      = 5
	summaryFile    = ".dumptree-summary.json"
	defaultLogsDir = "logs"
)

var pipelineRun = pipeline.Run

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	root := newRootCmd(&options{}, stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	code := exitCode(err)
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "错误: %v\n", err)
	}
	return code
}

// exitError 携带显式退出码（例如成功率低于阈值）。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, config.ErrConfig):
		return exitConfig
	case errors.Is(err, contract.ErrManifestShape):
		return exitShape
	case errors.Is(err, contract.ErrInvalidInput),
		errors.Is(err, contract.ErrBudgetExceeded),
		errors.Is(err, fs.ErrNotExist):
		return exitInput
	case diag.Classify(err) == diag.CodeNetwork:
		return exitBackend
	}
	return exitBelowRate
}

// options: 全局与子命令旗标。仅在显式给出时覆盖配置。
type options struct {
	configPath  string
	llm         string
	output      string
	concurrency int
	maxRetries  int
	timeout     int
	minRate     float64
	noFallback  bool
	logLevel    string
	logStderr   bool
	logDir      string
	metricsFile string
	status      bool
	noSummary   bool

	mode     string
	manifest string
}

func newRootCmd(o *options, stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "dumptree",
		Short: "把单文档代码转储还原为磁盘上的目录树",
		Long: `dumptree 读取一份包含多个源文件的文本转储（通常是 LLM 的输出或 Markdown 导出），
按边界清单、路径发现或流式分隔符协议把每个文件写入输出目录。
任何路径在落盘前都经过路径守卫校验，绝不会写出输出根目录。

退出码：0 成功；1 成功率低于阈值；2 输入错误；3 配置错误；4 后端不可达；5 清单结构非法。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", config.ErrConfig, err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "配置文件（YAML/JSON）；缺省读取 ./dumptree.yaml（若存在）")
	pf.StringVar(&o.llm, "llm", "", "provider 名称（覆盖配置）")
	pf.StringVarP(&o.output, "output", "o", "", "输出根目录（覆盖配置）")
	pf.IntVar(&o.concurrency, "concurrency", 0, "并发度 1..16（覆盖配置）")
	pf.IntVar(&o.maxRetries, "max-retries", 0, "后端调用最大重试次数 0..10（覆盖配置）")
	pf.IntVar(&o.timeout, "timeout", 0, "后端请求超时秒数 10..600（覆盖配置）")
	pf.Float64Var(&o.minRate, "min-success-rate", 0, "成功率阈值 0..1（覆盖配置）")
	pf.BoolVar(&o.noFallback, "no-fallback", false, "关闭启发式回退规则")
	pf.StringVar(&o.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&o.logStderr, "log-stderr", false, "日志同时输出到 stderr")
	pf.StringVar(&o.logDir, "log-dir", defaultLogsDir, "轮转日志目录")
	pf.StringVar(&o.metricsFile, "metrics-file", "", "运行结束时以 textfile 格式导出指标")
	pf.BoolVar(&o.status, "status", true, "终端状态提示（stderr）")
	pf.BoolVar(&o.noSummary, "no-summary", false, "不写入 "+summaryFile)

	root.AddCommand(
		newExtractCmd(o),
		newStreamCmd(o),
		newSliceCmd(o),
		newCheckCmd(o),
		newCleanCmd(o),
		newInitConfigCmd(),
		newWatchCmd(o),
	)
	return root
}
