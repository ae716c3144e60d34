package cmd

import (
	"AtmoMix/logger"
	"AtmoMix/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 AtmoMix 服务器",
	Long:  `启动 HTTP API 与 WebSocket 事件推送服务，收到 SIGINT/SIGTERM 后保存未写入的成员修改并退出。`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := server.Start(appConfig); err != nil {
			logger.Fatal("服务异常退出", logger.ErrorField(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
