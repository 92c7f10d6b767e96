package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory 按配置构造一个后端实例
// 构造只做结构性检查 (URL 解析失败之类)；字段完整性留给 CheckConfig。
type Factory func(ctx context.Context, cfg Config) (Provider, error)

// Registry 把配置选中的后端标识符映射到构造函数
//
// 每个标识符至多持有一个活实例：懒初始化，配置变更时统一失效。
// 注册表被所有并发结算的任务共享，内部必须带锁。
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	live      map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		live:      make(map[string]Provider),
	}
}

// Register 登记一个后端。重复登记同名后端时后者覆盖前者。
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// Get 返回 id 对应的活实例，没有就用 cfg 现场构造一个
func (r *Registry) Get(ctx context.Context, id string, cfg Config) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.live[id]; ok {
		return p, nil
	}

	f, ok := r.factories[id]
	if !ok {
		return nil, fmt.Errorf("unknown storage provider %q (registered: %v)", id, r.idsLocked())
	}
	p, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init provider %q: %w", id, err)
	}
	r.live[id] = p
	return p, nil
}

// Invalidate 废弃所有活实例 (配置变更 / 引擎关闭时调用)
// 下一次 Get 会用新配置重新构造。
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.live {
		p.Dispose()
		delete(r.live, id)
	}
}

// IDs 返回所有已登记的后端标识符 (排序后，方便报错和测试)
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idsLocked()
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
