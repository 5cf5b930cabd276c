package main

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/LouYuanbo1/snapsite/internal/domain/model"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/es"
	"github.com/spf13/cobra"
)

type historyFlags struct {
	clear   bool
	index   bool
	session string
	limit   int
}

func newHistoryCmd(a *app) *cobra.Command {
	f := &historyFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看或清空最近处理的页面",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if f.index {
				return a.indexHistory(cmd.Context(), out, f)
			}
			if f.clear {
				if err := a.state.ClearRecentPages(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "最近页面已清空")
				return nil
			}
			pages, err := a.state.LoadRecentPages(cmd.Context())
			if err != nil {
				return err
			}
			if len(pages) == 0 {
				fmt.Fprintln(out, "暂无记录")
				return nil
			}
			for _, p := range pages {
				fmt.Fprintln(out, formatPageLine(p))
			}
			return nil
		}),
	}
	fl := cmd.Flags()
	fl.BoolVar(&f.clear, "clear", false, "清空持久化的最近页面")
	fl.BoolVar(&f.index, "index", false, "从Elasticsearch查询,而不是本地记录")
	fl.StringVar(&f.session, "session", "", "只列出该会话的页面(配合--index)")
	fl.IntVar(&f.limit, "limit", 50, "最多列出的页面数(配合--index)")
	cmd.MarkFlagsMutuallyExclusive("clear", "index")
	return cmd
}

// indexHistory 未指定会话时只统计索引中的文档数
func (a *app) indexHistory(ctx context.Context, out io.Writer, f *historyFlags) error {
	client, err := es.InitTypedEsClient[*model.PageDoc](a.cfg, a.logger)
	if err != nil {
		return err
	}
	if f.session == "" {
		n, err := client.CountDocs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "索引%s中共%d条页面记录\n", model.PageIndex, n)
		return nil
	}

	docs, total, err := client.SearchByField(ctx, "session_id", f.session, 0, f.limit)
	if err != nil {
		return err
	}
	slices.SortFunc(docs, func(x, y *model.PageDoc) int {
		return y.CrawledAt.Compare(x.CrawledAt)
	})
	for _, d := range docs {
		fmt.Fprintln(out, formatPageLine(d.PageResult()))
	}
	fmt.Fprintf(out, "会话%s共%d条页面记录\n", f.session, total)
	return nil
}

func newLogsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "打印最近一次警告/错误时保存的日志尾部",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			lines, err := a.state.LoadLogTail(cmd.Context())
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		}),
	}
}
