package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dumptree/internal/config"
	"dumptree/internal/diag"
	rfs "dumptree/plugins/reader/filesystem"
)

const watchDebounce = 500 * time.Millisecond

func newWatchCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "监视目录，提取每个新放入的转储文档",
		Long: `监视目录中新建或写入完成的文档（扩展名按 reader 配置过滤），
每个文档提取到 <output>/<文档名去扩展名>/ 下。Ctrl-C 结束。`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, o)
			if err != nil {
				return err
			}
			dir := args[0]
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%w: %s is not a directory", config.ErrConfig, dir)
			}
			// 以占位输入完成一次校验，尽早暴露配置错误
			probe := cfg
			probe.Inputs = []string{dir}
			if err := config.Validate(probe); err != nil {
				return err
			}
			allow := rfs.New(readerOptions(cfg)).Allowed

			rt := newRuntime(cmd, o, cfg.Logging.Level)
			defer rt.close(o)
			cmd.Printf("监视 %s（Ctrl-C 结束）\n", dir)
			err = watchDir(cmd.Context(), dir, watchDebounce, rt.logger, func(path string) {
				if !allow(filepath.Base(path)) {
					return
				}
				one := cfg
				one.Inputs = []string{path}
				stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				one.OutputDir = filepath.Join(cfg.OutputDir, stem)
				if err := executeWith(cmd.Context(), cmd.OutOrStdout(), rt, one); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&o.mode, "mode", "m", "", "提取模式（覆盖配置）")
	return cmd
}

// watchDir 在 dir 上监听创建/写入事件；同一路径在 debounce 内无新事件后调用 handle。
// handle 在监听协程中串行执行。返回 ctx 的错误或监听器错误。
func watchDir(ctx context.Context, dir string, debounce time.Duration, logger *diag.Logger, handle func(path string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	pending := map[string]time.Time{}
	tick := time.NewTicker(debounce / 5)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					delete(pending, ev.Name)
				}
				continue
			}
			pending[ev.Name] = time.Now()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.ErrorWith("watch", "watcher error", err, nil, "")
		case now := <-tick.C:
			for p, at := range pending {
				if now.Sub(at) < debounce {
					continue
				}
				delete(pending, p)
				if fi, err := os.Stat(p); err != nil || !fi.Mode().IsRegular() {
					continue
				}
				logger.DebugStart("watch", "document settled", p, zap.Duration("debounce", debounce))
				handle(p)
			}
		}
	}
}

// readerOptions 以配置中的 reader 选项构造过滤器；解析失败时使用默认值。
func readerOptions(cfg config.Config) *rfs.Options {
	var o rfs.Options
	if v, ok := cfg.Options.Reader["extensions"].([]any); ok {
		for _, e := range v {
			if s, ok := e.(string); ok {
				o.Extensions = append(o.Extensions, s)
			}
		}
	}
	return &o
}
