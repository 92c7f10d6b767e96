// Package cache 提供一个带可选 TTL 的泛型 LRU 缓存。
// 它在系统里有两个完全不同的用途：去重查询 (dedup) 和临时二进制对象缓存，
// 所以契约必须保持对值类型的泛型。
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry 在外层包一个过期时间戳
// 底层 lru 库只管容量淘汰，TTL 由我们在读取时惰性检查。
type entry[V any] struct {
	value    V
	expireAt time.Time // 零值表示永不过期
}

// LruTtl 是一个有界 key -> value 缓存
// 容量和统一 TTL 在构造时固定；TTL 为 0 表示不过期。
type LruTtl[V any] struct {
	inner *lru.Cache[string, entry[V]]
	ttl   time.Duration

	// now 可注入，测试里用来模拟时间流逝
	now func() time.Time
}

// NewLruTtl 构造缓存。capacity 必须 > 0。
func NewLruTtl[V any](capacity int, ttl time.Duration) (*LruTtl[V], error) {
	inner, err := lru.New[string, entry[V]](capacity)
	if err != nil {
		// lru.New 只在容量非正时报错
		return nil, err
	}
	return &LruTtl[V]{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
	}, nil
}

// Get 读取并把 key 提升为最近使用
// 已过期的条目视为不存在，并顺手清掉，保持 LRU 记账干净。
func (c *LruTtl[V]) Get(key string) (V, bool) {
	var zero V
	e, ok := c.inner.Get(key)
	if !ok {
		return zero, false
	}
	if !e.expireAt.IsZero() && c.now().After(e.expireAt) {
		// 过期 -> 惰性清除
		c.inner.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set 写入 (覆盖旧值并提升)
// 超出容量时，底层会淘汰恰好一个最久未使用的条目。
func (c *LruTtl[V]) Set(key string, value V) {
	e := entry[V]{value: value}
	if c.ttl > 0 {
		e.expireAt = c.now().Add(c.ttl)
	}
	c.inner.Add(key, e)
}

// Delete 删除指定 key，key 不存在时是 no-op
func (c *LruTtl[V]) Delete(key string) {
	c.inner.Remove(key)
}

// Clear 清空全部条目 (provider/配置切换时调用)
func (c *LruTtl[V]) Clear() {
	c.inner.Purge()
}

// Size 返回当前条目数
// 注意：可能包含尚未被惰性清除的过期条目。
func (c *LruTtl[V]) Size() int {
	return c.inner.Len()
}
