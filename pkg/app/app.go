// pkg/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"uplink/pkg/buffer"
	"uplink/pkg/config"
	"uplink/pkg/engine"
	"uplink/pkg/history"
	"uplink/pkg/logging"
	"uplink/pkg/provider"
	"uplink/pkg/provider/cached"
	"uplink/pkg/provider/githost"
	"uplink/pkg/provider/s3"
	"uplink/pkg/provider/webdav"
	"uplink/pkg/vault"
)

// App 是整个应用程序的依赖容器 (Dependency Container)
// 它持有所有“单例”服务
type App struct {
	Settings *config.Settings
	Registry *provider.Registry
	Vault    *vault.Vault
	History  *history.Repository // 可为 nil
	Logger   *zap.Logger

	histDB *history.DB
}

// NewApp 是工厂函数，负责组装这一台机器
// 它遵循 Viper 的配置，但不知道具体的 CLI 命令
func NewApp(ctx context.Context) (*App, error) {
	settings := config.NewSettings(viper.GetViper())

	// 1. 日志
	dbg := settings.Debug()
	logCfg := logging.Config{Level: dbg.LogLevel, Format: "console"}
	if dbg.Enabled {
		logCfg.Level = "debug"
	}
	if err := logging.Init(logCfg); err != nil {
		return nil, fmt.Errorf("failed to init logging: %w", err)
	}
	log := logging.L()

	// 2. 注册所有后端工厂 (Lazy：选中谁才真正建连接)
	registry := provider.NewRegistry()
	registry.Register(s3.ID, wrapCached(s3.New, log))
	registry.Register(webdav.ID, wrapCached(webdav.New, log))
	registry.Register(githost.ID, wrapCached(githost.New, log))

	// 3. vault (可选：没配根目录就只支持纯远端操作)
	var vlt *vault.Vault
	if root := viper.GetString("vault.root"); root != "" {
		v, err := vault.New(root, viper.GetString("vault.attachment_dir"))
		if err != nil {
			return nil, fmt.Errorf("failed to open vault: %w", err)
		}
		vlt = v
	}

	// 4. 历史库 (旁路：开不起来只告警，不拦启动)
	app := &App{
		Settings: settings,
		Registry: registry,
		Vault:    vlt,
		Logger:   log,
	}
	hdb, err := history.Open(ctx, history.Config{
		Driver: viper.GetString("history.driver"),
		DSN:    viper.GetString("history.dsn"),
	})
	if err != nil {
		log.Warn("history database unavailable, transfers will not be logged", zap.Error(err))
	} else {
		app.histDB = hdb
		app.History = history.NewRepository(hdb)
	}

	return app, nil
}

// wrapCached 给后端工厂套上可选的 Redis 查重缓存装饰器
// 没配 redis_url 或连不上时退化为裸后端。
func wrapCached(factory provider.Factory, log *zap.Logger) provider.Factory {
	return func(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
		p, err := factory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		redisURL := cfg["redis_url"]
		if redisURL == "" {
			return p, nil
		}
		cp, err := cached.New(p, cached.Config{RedisURL: redisURL, TTL: 24 * time.Hour}, log)
		if err != nil {
			log.Warn("redis cache unavailable, falling back to direct provider", zap.Error(err))
			return p, nil
		}
		return cp, nil
	}
}

// NewEngine 为一块缓冲区组装编排引擎
// CLI 每次命令建一个；编辑器宿主则一个文档一个。
func (a *App) NewEngine(buf buffer.Buffer) (*engine.Engine, error) {
	return engine.New(engine.Options{
		Settings:      a.Settings,
		Registry:      a.Registry,
		Mutator:       buffer.NewMutator(buf, a.Logger),
		Vault:         a.Vault,
		History:       a.History,
		Logger:        a.Logger,
		Debug:         a.Settings.Debug(),
		MaxConcurrent: a.Settings.MaxConcurrent(),
		DedupCapacity: a.Settings.DedupCapacity(),
		DedupTTL:      a.Settings.DedupTTL(),
	})
}

// Close 释放容器持有的资源
func (a *App) Close() {
	a.Registry.Invalidate()
	if a.histDB != nil {
		_ = a.histDB.Close()
	}
	_ = logging.Sync()
}
