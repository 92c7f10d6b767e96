package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"uplink/pkg/provider"
)

// DebugConfig 显式的调试配置
// 构造时注入，不再依赖任何隐式全局开关。
type DebugConfig struct {
	Enabled  bool
	LogLevel string
}

// Settings 是核心各组件读取配置的唯一入口
// 内部包一个 viper 实例；所有读取都是即时的，配置变更后下次读取即生效，
// 同时通过 Subscribe 把「配置变了」广播给关心的人 (注册表要借此失效实例)。
type Settings struct {
	v *viper.Viper

	mu   sync.Mutex
	subs []func()
}

// NewSettings 基于一个已加载的 viper 实例创建 Settings
func NewSettings(v *viper.Viper) *Settings {
	setDefaults(v)
	return &Settings{v: v}
}

// Default 返回基于全局 viper 的 Settings (CLI 用)
func Default() *Settings {
	return NewSettings(viper.GetViper())
}

// ProviderID 当前选中的存储提供商
func (s *Settings) ProviderID() string {
	return s.v.GetString("provider.id")
}

// ProviderConfig 当前提供商的配置键值对
// 取 provider.<id> 小节，例如 provider.s3.bucket。
func (s *Settings) ProviderConfig() provider.Config {
	raw := s.v.GetStringMapString("provider." + s.ProviderID())
	cfg := make(provider.Config, len(raw))
	for k, val := range raw {
		cfg[k] = val
	}
	return cfg
}

// AutoUploadExtensions 粘贴/拖入时自动上传的扩展名集合 (小写，不带点)
func (s *Settings) AutoUploadExtensions() map[string]bool {
	out := make(map[string]bool)
	for _, e := range s.v.GetStringSlice("upload.extensions") {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out[e] = true
		}
	}
	return out
}

// DeleteLocalAfterUpload 上传成功后是否删除本地源文件
func (s *Settings) DeleteLocalAfterUpload() bool {
	return s.v.GetBool("upload.delete_local")
}

// SkipDuplicates 是否启用内容去重 (命中远端已有对象时跳过上传)
func (s *Settings) SkipDuplicates() bool {
	return s.v.GetBool("upload.skip_duplicates")
}

// MaxConcurrent 并发闸门宽度
func (s *Settings) MaxConcurrent() int {
	n := s.v.GetInt("upload.max_concurrent")
	if n < 1 {
		n = 1
	}
	return n
}

// DedupCapacity 去重缓存容量
func (s *Settings) DedupCapacity() int {
	return s.v.GetInt("dedup.capacity")
}

// DedupTTL 去重缓存条目存活时间
func (s *Settings) DedupTTL() time.Duration {
	return time.Duration(s.v.GetInt("dedup.ttl_seconds")) * time.Second
}

// Debug 调试配置
func (s *Settings) Debug() DebugConfig {
	return DebugConfig{
		Enabled:  s.v.GetBool("debug.enabled"),
		LogLevel: s.v.GetString("debug.log_level"),
	}
}

// Subscribe 注册配置变更回调
func (s *Settings) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Set 写入配置并广播变更
func (s *Settings) Set(key string, value any) {
	s.v.Set(key, value)
	s.notify()
}

func (s *Settings) notify() {
	s.mu.Lock()
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
