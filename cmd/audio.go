package cmd

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"

	"AtmoMix/db"
	"AtmoMix/model"
	"AtmoMix/repository"
	"AtmoMix/storage"

	"github.com/spf13/cobra"
)

var (
	audioPrefix   string
	audioRegister bool
	audioStats    bool
)

var audioCmd = &cobra.Command{
	Use:   "audio",
	Short: "音频来源管理",
	Long:  `列出本地目录或 MinIO 存储桶中的音频文件，可选择登记到 audio_files 表供氛围引用。`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		fmt.Printf("音频来源: %s\n", appConfig.AudioSource)
		source, err := storage.NewAudioSource(ctx, appConfig)
		if err != nil {
			log.Fatalf("无法初始化音频来源: %v", err)
		}
		lister, ok := source.(storage.Lister)
		if !ok {
			log.Fatalf("音频来源 %s 不支持列出文件", appConfig.AudioSource)
		}

		objects, err := lister.List(ctx, audioPrefix)
		if err != nil {
			log.Fatalf("列出音频失败: %v", err)
		}

		if audioStats {
			stats := storage.Summarize(objects)
			fmt.Printf("文件数: %d\n", stats.TotalObjects)
			fmt.Printf("总大小: %s\n", storage.FormatSize(stats.TotalSize))
			if !stats.LastModified.IsZero() {
				fmt.Printf("最近修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
			}
			for contentType, n := range stats.ByType {
				fmt.Printf("  %s: %d\n", contentType, n)
			}
		} else {
			for _, obj := range objects {
				fmt.Printf("%-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04"))
			}
		}

		if !audioRegister {
			return
		}

		if err := db.ConnectGormDB(appConfig); err != nil {
			log.Fatalf("无法连接到数据库: %v", err)
		}
		defer db.CloseGormDB()

		repo := repository.NewGormAudioFileRepository(db.GormDB)
		registered := 0
		for _, obj := range objects {
			file := &model.AudioFile{
				FilePath: obj.Key,
				Title:    titleFromKey(obj.Key),
			}
			if err := repo.Register(ctx, file); err != nil {
				log.Printf("登记 %s 失败: %v", obj.Key, err)
				continue
			}
			registered++
		}
		fmt.Printf("\n已登记 %d/%d 个音频文件\n", registered, len(objects))
	},
}

// titleFromKey 以文件名（去掉扩展名）作为默认标题
func titleFromKey(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

func init() {
	rootCmd.AddCommand(audioCmd)

	audioCmd.Flags().StringVarP(&audioPrefix, "prefix", "p", "", "只处理该前缀（目录）下的文件")
	audioCmd.Flags().BoolVarP(&audioRegister, "register", "r", false, "登记到数据库，已存在的路径只更新标题")
	audioCmd.Flags().BoolVarP(&audioStats, "stats", "s", false, "只显示统计信息")

	audioCmd.Example = `  # 列出全部音频
  atmomix audio

  # 统计 nature/ 下的文件
  atmomix audio -p nature/ -s

  # 登记到数据库
  atmomix audio -r`
}
