package cmd

import (
	"fmt"
	"log"

	"AtmoMix/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "迁移数据表",
	Long:  `连接 MySQL 并通过 GORM AutoMigrate 创建或更新音频、氛围、成员与分类表。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("数据库: %s:%s/%s\n", appConfig.DBHost, appConfig.DBPort, appConfig.DBName)

		if err := db.ConnectGormDB(appConfig); err != nil {
			log.Fatalf("无法连接到数据库: %v", err)
		}
		defer db.CloseGormDB()

		if err := db.Migrate(); err != nil {
			log.Fatalf("迁移失败: %v", err)
		}
		fmt.Println("迁移完成。")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
