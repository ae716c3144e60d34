package cmd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"AtmoMix/core/auth"

	"github.com/spf13/cobra"
)

var (
	tokenUsername string
	tokenPassword string
	hashOnly      bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "签发访问令牌",
	Long:  `校验管理员密码后签发 JWT，用于调用 API 和订阅事件流。使用 --hash 生成 ADMIN_PASSWORD_HASH。`,
	Run: func(cmd *cobra.Command, args []string) {
		password := tokenPassword
		if password == "" {
			fmt.Print("密码: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				log.Fatalf("读取密码失败: %v", err)
			}
			password = strings.TrimSpace(line)
		}

		if hashOnly {
			hash, err := auth.HashPassword(password)
			if err != nil {
				log.Fatalf("生成哈希失败: %v", err)
			}
			fmt.Println(hash)
			return
		}

		if err := auth.VerifyAdmin(password, appConfig.AdminPasswordHash); err != nil {
			log.Fatalf("密码校验失败: %v", err)
		}

		tokens, err := auth.NewTokenService(appConfig.JWTSecret, appConfig.TokenTTL)
		if err != nil {
			log.Fatalf("初始化令牌服务失败: %v", err)
		}
		token, err := tokens.GenerateToken(tokenUsername)
		if err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		fmt.Println(token)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVarP(&tokenUsername, "user", "u", "admin", "令牌中的用户名")
	tokenCmd.Flags().StringVarP(&tokenPassword, "password", "p", "", "管理员密码，不指定时从标准输入读取")
	tokenCmd.Flags().BoolVar(&hashOnly, "hash", false, "只输出密码的 bcrypt 哈希")
}
