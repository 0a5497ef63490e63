package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"dumptree/pkg/contract"
)

var (
	headStyle = lipgloss.NewStyle().Bold(true)
	kindStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
)

// Render 输出汇总的终端表示：一行总览加失败明细表。
func Render(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s | 模式 %s | 文件 %d/%d (%.0f%%) | 新建目录 %d | 输出 %s\n",
		headStyle.Render("[summary]"), s.Document, s.Mode,
		len(s.CreatedFiles), s.Requested, s.SuccessRate()*100, len(s.CreatedDirs), s.OutputRoot)
	if n := s.Origins[contract.OriginFallback]; n > 0 {
		fmt.Fprintf(&b, "回退规则提取 %d 个文件\n", n)
	}
	if s.Interrupted {
		b.WriteString("运行被中断，仅报告已提交的文件\n")
	}
	if len(s.Failures) == 0 {
		return b.String()
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("PATH", "KIND", "REASON").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headStyle
			}
			if col == 1 {
				return kindStyle
			}
			return lipgloss.NewStyle()
		})
	for _, f := range s.Failures {
		t.Row(f.Path, string(f.Kind), f.Reason)
	}
	b.WriteString(t.String())
	b.WriteByte('\n')
	return b.String()
}
