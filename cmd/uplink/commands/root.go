package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"uplink/pkg/app"
	"uplink/pkg/config"
)

var (
	cfgFile string
	// 全局应用实例，供子命令使用
	UP *app.App
)

var rootCmd = &cobra.Command{
	Use:   "uplink",
	Short: "Uplink: remote attachment orchestration for markdown documents",
	// 【关键】PersistentPreRunE 会在所有子命令执行前运行
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		UP, err = app.NewApp(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to initialize uplink: %w\n(Is your config.yaml valid?)", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if UP != nil {
			UP.Close()
		}
	},
}

// Execute 是入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// 在初始化时，加载配置
	cobra.OnInitialize(initConfig)

	// 1. 定义全局参数 --config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.uplink/config.yaml)")

	// 2. 常用配置项同时开放为 flag，yaml 和命令行二选一
	rootCmd.PersistentFlags().String("vault", "", "Vault root directory (local attachment store)")
	rootCmd.PersistentFlags().String("provider", "", "Storage provider id (s3, webdav, githost)")

	if err := viper.BindPFlag("vault.root", rootCmd.PersistentFlags().Lookup("vault")); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("provider.id", rootCmd.PersistentFlags().Lookup("provider")); err != nil {
		fmt.Println("Failed to bind flag:", err)
		os.Exit(1)
	}
}

// initConfig 读取配置文件和环境变量
func initConfig() {
	if err := config.Load(cfgFile); err != nil {
		fmt.Println("Config error:", err)
		os.Exit(1)
	}
}
