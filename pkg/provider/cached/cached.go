// Package cached 是一个装饰器，为底层的 provider.Provider 添加 Redis 查重缓存层。
//
// 进程内的 LRU 去重缓存只活一个会话；Redis 层让多个编辑器实例 / 多次重启
// 共享「这个前缀已经传过了」的事实，省掉一次远端列表调用。
package cached

import (
	"context"
	"time"

	"uplink/pkg/provider"
	"uplink/pkg/types"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// record 是缓存在 Redis 里的命中记录，CBOR 编码 (比 JSON 紧凑，零歧义)
type record struct {
	URL string `cbor:"u"`
	Key string `cbor:"k"`
}

// Config Redis 连接配置
type Config struct {
	RedisURL string        // 标准连接字符串: redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration // 缓存过期时间 (例如 24h)
}

// Provider 装饰底层后端，缓存 ExistsByPrefix 的命中结果
// 其余操作透传；Upload/Delete 成功时顺带维护缓存一致性。
type Provider struct {
	backend provider.Provider
	client  *redis.Client
	ttl     time.Duration
	log     *zap.Logger
}

// New 构造装饰器。Fail-fast：连不上 Redis 直接报错，调用方自行降级为裸后端。
func New(backend provider.Provider, cfg Config, log *zap.Logger) (*Provider, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{backend: backend, client: client, ttl: cfg.TTL, log: log}, nil
}

// cacheKey 加前缀防止和别的应用撞 key
func (p *Provider) cacheKey(prefix string) string {
	return "uplink:exists:" + prefix
}

// ExistsByPrefix 先查 Redis，再穿透到底层后端
//
// 架构决策：缓存故障降级。Redis 挂了不能让整条链路跟着挂，
// 打一条 Warning 之后退化为直查后端。
func (p *Provider) ExistsByPrefix(ctx context.Context, prefix string) types.Result[types.Remote] {
	key := p.cacheKey(prefix)

	raw, err := p.client.Get(ctx, key).Bytes()
	if err == nil {
		var rec record
		if cbor.Unmarshal(raw, &rec) == nil && rec.Key != "" {
			// Cache Hit：一次网络列表调用都不用发
			return types.Ok(types.Remote{URL: rec.URL, Key: rec.Key})
		}
	} else if err != redis.Nil {
		p.log.Warn("redis get failed, falling through to backend", zap.Error(err))
	}

	res := p.backend.ExistsByPrefix(ctx, prefix)

	// 回填：只缓存真命中。异步写，不阻塞结算路径。
	if provider.Found(res) {
		rec := record{URL: res.Data.URL, Key: res.Data.Key}
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if raw, err := cbor.Marshal(rec); err == nil {
				p.client.Set(fillCtx, key, raw, p.ttl)
			}
		}()
	}
	return res
}

// Upload 透传，成功后把「这个 key 已存在」写进缓存
func (p *Provider) Upload(ctx context.Context, blob []byte, key string, onProgress provider.ProgressFunc) types.Result[types.Remote] {
	res := p.backend.Upload(ctx, blob, key, onProgress)
	if res.Success {
		if raw, err := cbor.Marshal(record{URL: res.Data.URL, Key: res.Data.Key}); err == nil {
			// 这里的 Set 失败可以忽略，不影响主流程
			p.client.Set(ctx, p.cacheKey(prefixOf(key)), raw, p.ttl)
		}
	}
	return res
}

// Delete 透传，成功后把失效的缓存条目清掉
func (p *Provider) Delete(ctx context.Context, key string) types.Result[string] {
	res := p.backend.Delete(ctx, key)
	if res.Success {
		p.client.Del(ctx, p.cacheKey(prefixOf(key)))
	}
	return res
}

// CheckConfig / PublicURL 纯透传
func (p *Provider) CheckConfig(ctx context.Context) types.Result[string] {
	return p.backend.CheckConfig(ctx)
}

func (p *Provider) PublicURL(key string) string {
	return p.backend.PublicURL(key)
}

// Dispose 关 Redis 连接，再关底层后端
func (p *Provider) Dispose() {
	_ = p.client.Close()
	p.backend.Dispose()
}

// prefixOf 从完整 key 还原去重前缀 (去掉扩展名)
// key 的约定是 <hash>.<ext>，见 engine 的 key 派生逻辑。
func prefixOf(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			return key[:i]
		}
		if key[i] == '/' {
			break
		}
	}
	return key
}
