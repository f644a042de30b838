// Package cli 命令行输出。
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/apk-analysis/dex-image-go/internal/dex"
	"github.com/apk-analysis/dex-image-go/internal/domain"
	"github.com/apk-analysis/dex-image-go/internal/render"
	"github.com/fatih/color"
)

// Reporter 输出批处理结果和段信息
type Reporter struct {
	w       io.Writer
	verbose bool
}

// NewReporter 创建 Reporter
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// SetVerbose 显示每个容器的 DEX 条目
func (r *Reporter) SetVerbose(verbose bool) {
	r.verbose = verbose
}

// PrintBatch 输出批处理报告
func (r *Reporter) PrintBatch(report *render.BatchReport) {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.w, "\n【批处理】%s\n", report.Dir)

	if len(report.Results) == 0 {
		fmt.Fprintln(r.w, "  未发现 APK")
		return
	}

	fmt.Fprintln(r.w, strings.Repeat("-", 90))
	fmt.Fprintf(r.w, "  %-36s %-10s %-6s %-12s %s\n", "APK", "状态", "DEX", "尺寸", "输出 / 原因")
	fmt.Fprintln(r.w, strings.Repeat("-", 90))

	for _, res := range report.Results {
		fmt.Fprintf(r.w, "  %-36s ", truncate(res.APKName, 36))
		statusColor(res.Status).Fprintf(r.w, "%-10s", res.Status)

		size := "-"
		if res.Status == domain.RenderStatusRendered {
			size = fmt.Sprintf("%dx%d", res.Width, res.Height)
		}
		detail := res.OutputPath
		if detail == "" {
			detail = res.Error
		}
		fmt.Fprintf(r.w, " %-6d %-12s %s\n", len(res.DexEntries), size, detail)

		if r.verbose {
			gray := color.New(color.FgHiBlack)
			for _, name := range res.DexEntries {
				gray.Fprintf(r.w, "       - %s\n", name)
			}
		}
	}
	fmt.Fprintln(r.w, strings.Repeat("-", 90))

	s := report.Summary
	fmt.Fprintf(r.w, "  共 %d 个: ", s.Containers)
	color.New(color.FgGreen).Fprintf(r.w, "成功 %d", s.Rendered)
	fmt.Fprint(r.w, ", ")
	color.New(color.FgHiBlack).Fprintf(r.w, "跳过 %d", s.Skipped)
	fmt.Fprint(r.w, ", ")
	color.New(color.FgRed).Fprintf(r.w, "失败 %d", s.Failed)
	if s.Cancelled > 0 {
		fmt.Fprint(r.w, ", ")
		color.New(color.FgYellow).Fprintf(r.w, "取消 %d", s.Cancelled)
	}
	fmt.Fprintf(r.w, "  (%d 个 DEX, %s, %dms)\n", s.DexEntries, formatSize(s.DexBytes), report.DurationMs)

	if r.verbose && len(s.SectionBytes) > 0 {
		fmt.Fprintln(r.w, "  段字节数:")
		for _, name := range dex.SectionNames() {
			fmt.Fprintf(r.w, "    %-12s %s\n", name, formatSize(s.SectionBytes[name]))
		}
	}
}

// PrintSections 输出单个 DEX 的段信息
func (r *Reporter) PrintSections(name string, infos []dex.SectionInfo) {
	yellow := color.New(color.FgYellow, color.Bold)
	yellow.Fprintf(r.w, "\n【段信息】%s\n", name)

	fmt.Fprintln(r.w, strings.Repeat("-", 76))
	fmt.Fprintf(r.w, "  %-12s %-12s %-12s %-12s %-8s %-8s\n", "名称", "偏移", "声明大小", "长度", "熵", "占比")
	fmt.Fprintln(r.w, strings.Repeat("-", 76))
	for _, info := range infos {
		row := fmt.Sprintf("  %-12s 0x%08X   %-12d %-12d %-8d %-8d\n",
			info.Name, info.Offset, info.DeclaredSize, info.Length, info.Entropy, info.Proportion)
		if info.Length == 0 {
			color.New(color.FgHiBlack).Fprint(r.w, row)
			continue
		}
		fmt.Fprint(r.w, row)
	}
	fmt.Fprintln(r.w, strings.Repeat("-", 76))
}

// PrintError 红色错误信息
func (r *Reporter) PrintError(err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(r.w, "\n错误: %v\n\n", err)
}

func statusColor(status domain.RenderStatus) *color.Color {
	switch status {
	case domain.RenderStatusRendered:
		return color.New(color.FgGreen)
	case domain.RenderStatusSkipped:
		return color.New(color.FgHiBlack)
	case domain.RenderStatusCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
