package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	setDefaults(viper.GetViper())

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 否则按优先级搜索
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .uplink
		viper.AddConfigPath(".uplink")
		// 3. 用户主目录下的 .uplink
		viper.AddConfigPath(filepath.Join(home, ".uplink"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (UPLINK_PROVIDER_ID 等)
	viper.SetEnvPrefix("UPLINK")
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 如果只是没找到配置文件，但可能有环境变量，不一定算错
		// 但如果是配置文件格式错，那就是错
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("⚠️  No config file found, using defaults/env vars")
		} else {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	} else {
		fmt.Println("🔧 Using config file:", viper.ConfigFileUsed())
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	// 提供商默认值
	v.SetDefault("provider.id", "s3")

	// 上传行为默认值
	v.SetDefault("upload.extensions", []string{
		"png", "jpg", "jpeg", "gif", "webp", "svg", "bmp", "ico", "avif",
	})
	v.SetDefault("upload.delete_local", false)
	v.SetDefault("upload.skip_duplicates", true)
	v.SetDefault("upload.max_concurrent", 3)

	// 去重缓存默认值
	v.SetDefault("dedup.capacity", 512)
	v.SetDefault("dedup.ttl_seconds", 3600)

	// vault 默认值
	v.SetDefault("vault.attachment_dir", "attachments")

	// 历史记录默认值
	wd, _ := os.Getwd()
	v.SetDefault("history.driver", "sqlite")
	v.SetDefault("history.dsn", filepath.Join(wd, ".uplink", "history.db"))

	// 调试默认值
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.log_level", "info")
}
