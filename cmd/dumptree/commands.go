package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"dumptree/internal/config"
	"dumptree/internal/pipeline"
	"dumptree/pkg/contract"
)

func newExtractCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [document...]",
		Short: "按清单/边界标注/路径发现提取文件",
		Long: `从文档中提取文件并写入输出目录。

模式：
  manifest  使用 --manifest 给出的边界清单切片，不访问后端
  boundary  请后端标注边界清单后切片
  discover  请后端列出路径并逐个提取内容（默认）

示例：
  dumptree extract dump.md
  dumptree extract --mode manifest --manifest bounds.json dump.md
  cat dump.md | dumptree extract -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Inputs = args
			}
			if cfg.Mode == string(pipeline.ModeStream) {
				return fmt.Errorf("%w: use the stream command for mode stream", config.ErrConfig)
			}
			return execute(cmd.Context(), cmd, o, cfg)
		},
	}
	cmd.Flags().StringVarP(&o.mode, "mode", "m", "", "manifest|boundary|discover（覆盖配置）")
	cmd.Flags().StringVar(&o.manifest, "manifest", "", "边界清单文件（manifest 模式）")
	return cmd
}

func newStreamCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stream [document...]",
		Short: "以分隔符协议流式提取，文件在闭合时即写入",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Inputs = args
			}
			cfg.Mode = string(pipeline.ModeStream)
			return execute(cmd.Context(), cmd, o, cfg)
		},
	}
}

func newSliceCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "slice <document> <manifest.json>",
		Short: "离线按边界清单切片（等价于 extract --mode manifest）",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			cfg.Inputs = []string{args[0]}
			cfg.Mode = string(pipeline.ModeManifest)
			cfg.Manifest = args[1]
			return execute(cmd.Context(), cmd, o, cfg)
		},
	}
}

func newCheckCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "检查后端连通性并列出可用模型",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			llm, err := config.NewLLM(cfg)
			if err != nil {
				return err
			}
			p, ok := llm.(contract.Pinger)
			if !ok {
				cmd.Printf("provider %s (%s) 不支持连通性检查\n", cfg.LLM, cfg.Provider[cfg.LLM].Client)
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(cfg.TimeoutSeconds)*time.Second)
			defer cancel()
			models, err := p.Ping(ctx)
			if err != nil {
				return &exitError{code: exitBackend, err: fmt.Errorf("backend %s unreachable: %w", cfg.LLM, err)}
			}
			cmd.Printf("provider %s 可用，模型 %d 个\n", cfg.LLM, len(models))
			for _, m := range models {
				cmd.Println("  " + m)
			}
			return nil
		},
	}
}

func newCleanCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "删除输出根目录",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			removed, err := cleanOutput(cfg.OutputDir)
			if err != nil {
				return err
			}
			if !removed {
				cmd.Printf("%s 不存在，无需清理\n", cfg.OutputDir)
				return nil
			}
			cmd.Printf("已删除 %s\n", cfg.OutputDir)
			return nil
		},
	}
}

// cleanOutput 确认目标是目录后递归删除；拒绝文件系统根、工作目录及其祖先。
func cleanOutput(dir string) (bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	if filepath.Dir(abs) == abs {
		return false, fmt.Errorf("%w: refusing to remove %s", config.ErrConfig, abs)
	}
	if wd, err := os.Getwd(); err == nil {
		if rel, err := filepath.Rel(abs, wd); err == nil && !startsWithParent(rel) {
			return false, fmt.Errorf("%w: refusing to remove %s (contains the working directory)", config.ErrConfig, abs)
		}
	}
	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%w: %s is not a directory", contract.ErrInvalidInput, abs)
	}
	return true, os.RemoveAll(abs)
}

func startsWithParent(rel string) bool {
	return rel == ".." || len(rel) >= 3 && rel[:2] == ".." && os.IsPathSeparator(rel[2])
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "生成 dumptree.yaml 与 .env 模板（已存在则跳过）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("%w: %w", config.ErrConfig, err)
			}
			written, err := config.WriteTemplates(dir)
			if err != nil {
				return fmt.Errorf("%w: %w", config.ErrConfig, err)
			}
			if len(written) == 0 {
				cmd.Println("配置模板已存在，未做修改")
			}
			for _, p := range written {
				cmd.Println("已生成 " + p)
			}
			return nil
		},
	}
}
