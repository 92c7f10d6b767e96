// Package provider 定义远端存储后端的统一契约。
//
// 每个后端 (S3 兼容、WebDAV、Git 托管) 都实现同一个接口，
// 引擎通过配置选中的标识符从注册表拿实例，从不关心具体的网络协议。
package provider

import (
	"context"

	"uplink/pkg/types"
)

// Config 是后端专属的不透明 key->value 配置
// 所有权在配置协作者手里；引擎和闸门从不窥探内容，只有后端自己解读。
type Config map[string]string

// ProgressFunc 上传/下载过程中的字节进度回调
type ProgressFunc func(loaded, total int64)

// Provider 是单个存储后端的统一契约
//
// 错误约定 (见 Result)：
//   - 缺必填字段 -> CheckConfig 本地同步报出，不发任何网络请求
//   - 传输/HTTP 失败 -> Result.Error 携带状态码，绝不 panic 穿越边界
//   - 删除时对象不存在 -> 视为成功 (目标状态「对象不在」已经达成)
//   - ExistsByPrefix 未命中 -> Success=true 且 Data 为零值 (与失败区分开)
type Provider interface {
	// CheckConfig 本地校验配置完整性，不发网络请求
	CheckConfig(ctx context.Context) types.Result[string]

	// Upload 上传二进制内容到 key，进度通过 onProgress 回调 (可为 nil)
	Upload(ctx context.Context, blob []byte, key string, onProgress ProgressFunc) types.Result[types.Remote]

	// Delete 删除远端对象
	Delete(ctx context.Context, key string) types.Result[string]

	// ExistsByPrefix 查找共享前缀的既有对象 (去重钩子)
	ExistsByPrefix(ctx context.Context, prefix string) types.Result[types.Remote]

	// PublicURL 计算 key 的公开访问地址 (纯函数，不发请求)
	PublicURL(key string) string

	// Dispose 释放连接等资源
	Dispose()
}

// Found 判断 ExistsByPrefix 的结果是否真的命中
func Found(r types.Result[types.Remote]) bool {
	return r.Success && r.Data.Key != ""
}

// RequireFields 是各后端 CheckConfig 的公共工具
// 返回第一个缺失的字段名，全齐则返回 ""。
func RequireFields(cfg Config, fields ...string) string {
	for _, f := range fields {
		if cfg[f] == "" {
			return f
		}
	}
	return ""
}
