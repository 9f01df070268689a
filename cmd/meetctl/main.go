// meetctl meetflow 服务的运维命令行工具
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/z-wentao/meetflow/pkg/apiclient"
	"github.com/z-wentao/meetflow/pkg/processing"
)

var (
	serverAddr string
	timeout    time.Duration
	jsonOutput bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	defaultServer := os.Getenv("MEETFLOW_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:5000"
	}

	root := &cobra.Command{
		Use:   "meetctl",
		Short: "meetflow 运维工具",
		Long: `查询上传进度、触发会议处理、查看会议纪要。

示例:
  meetctl status 3f1c...            # 查询上传进度
  meetctl process weekly-2025-03-14 # 重跑单个会议
  meetctl scan                      # 扫描并处理缺少转录的会议
  meetctl minutes weekly-2025-03-14 -o json`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&serverAddr, "server", defaultServer, "meetflow API 地址（也可用 MEETFLOW_SERVER）")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "请求超时")
	root.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "输出 JSON")

	root.AddCommand(newStatusCommand())
	root.AddCommand(newUploadsCommand())
	root.AddCommand(newProcessCommand())
	root.AddCommand(newScanCommand())
	root.AddCommand(newMinutesCommand())

	return root
}

func client() *apiclient.Client {
	return apiclient.NewClient(serverAddr)
}

func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, timeout)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload-id>",
		Short: "查询上传进度",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			job, err := client().UploadStatus(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, job)
			}

			fmt.Fprintf(out, "📤 %s\n", job.ID)
			fmt.Fprintf(out, "   文件: %s\n", job.Filename)
			fmt.Fprintf(out, "   状态: %s (%d%%)\n", job.Status, job.Percent)
			if job.RemoteFileID != "" {
				fmt.Fprintf(out, "   远程文件: %s\n", job.RemoteFileID)
			}
			if job.Error != "" {
				fmt.Fprintf(out, "   错误: %s\n", job.Error)
			}
			return nil
		},
	}
}

func newUploadsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "uploads",
		Short: "列出上传任务",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			jobs, err := client().ListUploads(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, "📭 没有上传任务")
				return nil
			}
			for _, job := range jobs {
				fmt.Fprintf(out, "%-36s  %-12s %3d%%  %s\n", job.ID, job.Status, job.Percent, job.Filename)
			}
			return nil
		},
	}
}

func newProcessCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "process <meeting-id>",
		Short: "重跑单个会议的处理",
		Long:  "只有转录缺失、为空或为占位文本的会议可以重跑。",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			resp, err := client().ProcessMeeting(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ 已调度处理: 会议 %s (文件 %s)\n", resp.MeetingID, resp.FileID)
			return nil
		},
	}
}

func newScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "扫描并处理缺少有效转录的会议",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			results, err := client().ScanPending(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "✅ 所有会议都已有转录")
				return nil
			}
			for _, r := range results {
				if r.Status == processing.ScanStarted {
					fmt.Fprintf(out, "▶️  %s\n", r.MeetingID)
				} else {
					fmt.Fprintf(out, "❌ %s: %s\n", r.MeetingID, r.Error)
				}
			}
			return nil
		},
	}
}

func newMinutesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "minutes <meeting-id>",
		Short: "查看会议纪要",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()

			resp, err := client().Minutes(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, resp)
			}

			fmt.Fprintf(out, "📝 会议 %s\n", resp.MeetingID)
			if resp.Summary != "" {
				fmt.Fprintf(out, "   摘要: %s\n", resp.Summary)
			}
			fmt.Fprintf(out, "   转录: %d 字符\n", len([]rune(resp.Transcript)))
			if resp.Minutes != nil {
				fmt.Fprintln(out, "   纪要:")
				return printJSON(out, resp.Minutes)
			}
			return nil
		},
	}
}
