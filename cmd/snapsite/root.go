package main

import (
	"errors"
	"fmt"

	"github.com/LouYuanbo1/snapsite/internal/config"
	"github.com/LouYuanbo1/snapsite/internal/infra/persistence/sqlite"
	"github.com/LouYuanbo1/snapsite/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version 构建时通过 -ldflags "-X main.Version=..." 注入
var Version = "0.1.0"

// app 各子命令共享的配置、状态库与logger
type app struct {
	cfgFile string
	cfgJSON string
	cfg     *config.Config
	state   sqlite.StateStore
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           config.AppName,
		Short:         "单站点广度优先截图爬虫",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "配置文件路径(默认查找 ./snapsite.* 与XDG配置目录)")
	pf.StringVar(&a.cfgJSON, "config-json", "", "直接传入JSON配置,不读取配置文件")
	root.AddCommand(newCrawlCmd(a), newHistoryCmd(a), newLogsCmd(a), newVersionCmd())
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	state, err := sqlite.InitStateStore(cfg.Storage.StateDB)
	if err != nil {
		return err
	}
	ring := observability.NewLogRing(cfg.Logger.RingSize, cfg.Logger.PersistTail, state)
	ring.Restore(cmd.Context())
	observability.InitializeLogger(cfg.Logger, ring)

	a.cfg = cfg
	a.state = state
	a.logger = observability.GetLogger()
	a.logger.Debug("配置已加载", zap.String("storage", cfg.Storage.Dir), zap.String("stateDB", cfg.Storage.StateDB))
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.cfgJSON == "" {
		return config.Load(config.NewViper(), a.cfgFile)
	}
	if a.cfgFile != "" {
		return nil, errors.New("--config 与 --config-json 不能同时使用")
	}
	return config.ParseConfig([]byte(a.cfgJSON))
}

// runE 命令结束时(包括出错)关闭状态库
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer a.close()
		return fn(cmd, args)
	}
}

func (a *app) close() {
	if a.state == nil {
		return
	}
	if err := a.state.Close(); err != nil {
		a.logger.Warn("关闭状态库失败", zap.Error(err))
	}
	a.state = nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "打印版本号",
		// 不需要配置与状态库
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", config.AppName, Version)
		},
	}
}
