package cmd

import (
	"fmt"
	"os"

	"AtmoMix/config"
	"AtmoMix/logger"
	"AtmoMix/server"

	"github.com/spf13/cobra"
)

// appConfig 由根命令在子命令执行前加载
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "atmomix",
	Short: "AtmoMix 氛围混音服务",
	Long:  `AtmoMix 管理由多个循环音频图层组成的氛围，支持氛围之间的交叉淡入淡出切换。`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		appConfig = config.Load()
		logger.InitLogger(logger.Config{
			Level:      logger.LogLevel(appConfig.LogLevel),
			OutputPath: appConfig.LogFile,
			MaxSize:    appConfig.LogMaxSize,
			MaxBackups: appConfig.LogMaxBackups,
			MaxAge:     appConfig.LogMaxAge,
			Compress:   true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	Run: func(cmd *cobra.Command, args []string) {
		// 不带子命令时直接启动服务
		if err := server.Start(appConfig); err != nil {
			logger.Fatal("服务异常退出", logger.ErrorField(err))
		}
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
