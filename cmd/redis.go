package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"AtmoMix/cache"
	"AtmoMix/core/relay"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作，并检查通知转发频道是否可以发布。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", appConfig.RedisHost, appConfig.RedisPort, appConfig.RedisDB)

		if err := cache.ConnectRedis(appConfig); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		fmt.Println("开始测试Redis基本操作...")
		if err := cache.TestRedis(ctx); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if appConfig.RedisEventsChannel != "" {
			client, err := relay.Connect(ctx, appConfig)
			if err != nil {
				log.Fatalf("通知转发连接失败: %v", err)
			}
			receivers, err := client.Publish(ctx, appConfig.RedisEventsChannel, `{"type":"ping"}`).Result()
			client.Close()
			if err != nil {
				log.Fatalf("发布到 %s 失败: %v", appConfig.RedisEventsChannel, err)
			}
			fmt.Printf("通知频道 %s 可用，当前订阅者: %d\n", appConfig.RedisEventsChannel, receivers)
		}

		if err := cache.CloseRedis(); err != nil {
			log.Printf("关闭Redis连接时发生错误: %v", err)
		}
		fmt.Println("Redis测试完成，连接已关闭。")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
