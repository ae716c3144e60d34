package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"

	"AtmoMix/cache"
	"AtmoMix/core/atmosphere"
	"AtmoMix/db"
	"AtmoMix/logger"
	"AtmoMix/repository"

	"github.com/spf13/cobra"
)

var showMissing bool

var atmosphereCmd = &cobra.Command{
	Use:     "atmosphere",
	Aliases: []string{"atmo"},
	Short:   "氛围管理",
	Long:    `列出氛围、检查缺失的音频引用、复制或删除氛围。`,
}

var atmosphereListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出全部氛围及成员数",
	Run: func(cmd *cobra.Command, args []string) {
		withService(func(ctx context.Context, service *atmosphere.Service) {
			summaries, err := service.Summaries(ctx)
			if err != nil {
				log.Fatalf("获取氛围列表失败: %v", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\t名称\t分类\t成员\t缺失")
			for _, s := range summaries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", s.ID, s.Name, s.Category, s.SoundsCount, s.MissingCount)
			}
			w.Flush()
			fmt.Printf("\n共 %d 个氛围\n", len(summaries))
		})
	},
}

var atmosphereIntegrityCmd = &cobra.Command{
	Use:   "integrity [id]",
	Short: "检查氛围引用的音频文件是否存在",
	Long:  `不带参数时检查全部氛围，只输出存在缺失的氛围。`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withService(func(ctx context.Context, service *atmosphere.Service) {
			if len(args) == 1 {
				id := parseID(args[0])
				integrity, err := service.ComputeIntegrity(ctx, id)
				if err != nil {
					log.Fatalf("检查失败: %v", err)
				}
				if len(integrity.MissingIDs) == 0 {
					fmt.Printf("氛围 %d 完整\n", id)
					return
				}
				fmt.Printf("氛围 %d 缺失 %d 个音频: %v\n", id, len(integrity.MissingIDs), integrity.MissingIDs)
				return
			}

			all, err := service.ComputeAllIntegrities(ctx)
			if err != nil {
				log.Fatalf("检查失败: %v", err)
			}
			broken := 0
			for id, integrity := range all {
				if len(integrity.MissingIDs) == 0 {
					continue
				}
				broken++
				if showMissing {
					fmt.Printf("氛围 %d 缺失: %v\n", id, integrity.MissingIDs)
				} else {
					fmt.Printf("氛围 %d 缺失 %d 个音频\n", id, len(integrity.MissingIDs))
				}
			}
			fmt.Printf("\n检查 %d 个氛围，%d 个存在缺失\n", len(all), broken)
		})
	},
}

var atmosphereDuplicateCmd = &cobra.Command{
	Use:   "duplicate <id>",
	Short: "复制氛围及其成员",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withService(func(ctx context.Context, service *atmosphere.Service) {
			newID, err := service.DuplicateAtmosphere(ctx, parseID(args[0]))
			if err != nil {
				log.Fatalf("复制失败: %v", err)
			}
			fmt.Printf("已复制为氛围 %d\n", newID)
		})
	},
}

var atmosphereDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "删除氛围及其成员",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withService(func(ctx context.Context, service *atmosphere.Service) {
			id := parseID(args[0])
			if err := service.DeleteAtmosphere(ctx, id); err != nil {
				log.Fatalf("删除失败: %v", err)
			}
			fmt.Printf("氛围 %d 已删除\n", id)
		})
	},
}

// withService 连接数据库（以及可选的 Redis 缓存）后执行 fn
func withService(fn func(ctx context.Context, service *atmosphere.Service)) {
	if err := db.ConnectGormDB(appConfig); err != nil {
		log.Fatalf("无法连接到数据库: %v", err)
	}
	defer db.CloseGormDB()

	// 删除和复制需要同步失效缓存
	var detailCache atmosphere.DetailCache
	if err := cache.ConnectRedis(appConfig); err != nil {
		logger.Warn("Redis 不可用，跳过缓存", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		detailCache = cache.NewAtmosphereCache(cache.RedisClient, appConfig.AtmosphereCacheTTL)
	}

	service := atmosphere.NewService(
		repository.NewGormAtmosphereRepository(db.GormDB),
		repository.NewGormAudioFileRepository(db.GormDB),
		detailCache,
	)
	fn(context.Background(), service)
}

func parseID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		log.Fatalf("无效的氛围 ID: %s", raw)
	}
	return id
}

func init() {
	rootCmd.AddCommand(atmosphereCmd)
	atmosphereCmd.AddCommand(atmosphereListCmd, atmosphereIntegrityCmd, atmosphereDuplicateCmd, atmosphereDeleteCmd)

	atmosphereIntegrityCmd.Flags().BoolVarP(&showMissing, "verbose", "v", false, "输出缺失的音频 ID")

	atmosphereCmd.Example = `  # 列出全部氛围
  atmomix atmosphere list

  # 检查单个氛围
  atmomix atmosphere integrity 12

  # 复制 / 删除
  atmomix atmosphere duplicate 12
  atmomix atmosphere delete 13`
}
