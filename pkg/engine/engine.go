// Package engine 是上传/下载/删除编排的核心。
//
// 它把各协作者 (闸门、注册表、占位符、进度、vault、历史) 粘成一条流水线：
// 批量提交 -> 同步插占位符 -> 闸门限流 -> 后端传输 -> 占位符结算。
// 任何单项的失败都不影响同批其他项，也绝不让进程挂掉。
package engine

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"uplink/pkg/buffer"
	"uplink/pkg/cache"
	"uplink/pkg/config"
	"uplink/pkg/gate"
	"uplink/pkg/history"
	"uplink/pkg/progress"
	"uplink/pkg/provider"
	"uplink/pkg/types"
	"uplink/pkg/vault"
)

// ConfigSource 是引擎消费的配置协作者视图
// *config.Settings 即满足；测试里用假实现。
type ConfigSource interface {
	ProviderID() string
	ProviderConfig() provider.Config
	AutoUploadExtensions() map[string]bool
	DeleteLocalAfterUpload() bool
	SkipDuplicates() bool
	Subscribe(fn func())
}

// Settlement 是一个工作项的终局
type Settlement struct {
	ID       types.ItemID
	Kind     types.Kind
	Status   types.Status
	Remote   types.Remote
	Bytes    int64
	Duration time.Duration
	DedupHit bool
	Error    string
}

// Options 构造引擎所需的一切
// Debug 显式传入，核心不读任何隐式全局开关。
type Options struct {
	Settings ConfigSource
	Registry *provider.Registry
	Mutator  *buffer.Mutator
	Vault    *vault.Vault
	History  *history.Repository // 可为 nil，历史是旁路
	Logger   *zap.Logger
	Debug    config.DebugConfig

	MaxConcurrent    int
	DedupCapacity    int
	DedupTTL         time.Duration
	DebounceInterval time.Duration
	HTTPClient       *http.Client // 下载用，nil 则用带超时的默认值
}

// Engine 编排引擎，一个编辑器实例持有一个
type Engine struct {
	settings ConfigSource
	registry *provider.Registry
	mutator  *buffer.Mutator
	vault    *vault.Vault
	hist     *history.Repository
	log      *zap.Logger
	debug    config.DebugConfig

	gate     *gate.Gate
	progress *progress.Aggregator
	dedup    *cache.LruTtl[types.Remote]
	blobs    *cache.LruTtl[[]byte] // 最近下载过的远端内容，按 URL 缓存
	flight   singleflight.Group    // 同前缀并发上传合并
	debounce time.Duration
	httpc    *http.Client

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New 构造引擎并挂上配置变更监听
func New(opts Options) (*Engine, error) {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 3
	}
	if opts.DedupCapacity < 1 {
		opts.DedupCapacity = 512
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = time.Hour
	}
	if opts.DebounceInterval <= 0 {
		opts.DebounceInterval = progress.DefaultDebounceInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	dedup, err := cache.NewLruTtl[types.Remote](opts.DedupCapacity, opts.DedupTTL)
	if err != nil {
		return nil, err
	}
	// 同一个缓存类型的第二个用途：短期缓存下载内容，反复下载同一链接不重复拉流量
	blobs, err := cache.NewLruTtl[[]byte](32, 10*time.Minute)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		settings: opts.Settings,
		registry: opts.Registry,
		mutator:  opts.Mutator,
		vault:    opts.Vault,
		hist:     opts.History,
		log:      opts.Logger,
		debug:    opts.Debug,
		gate:     gate.New(opts.MaxConcurrent),
		progress: progress.NewAggregator(),
		dedup:    dedup,
		blobs:    blobs,
		debounce: opts.DebounceInterval,
		httpc:    opts.HTTPClient,
	}

	// 配置一变，活着的后端实例和去重缓存都不再可信
	opts.Settings.Subscribe(func() {
		e.registry.Invalidate()
		e.dedup.Clear()
		e.blobs.Clear()
		e.log.Info("config changed, provider instances invalidated")
	})

	return e, nil
}

// Progress 暴露进度聚合器 (状态表面订阅它的快照)
func (e *Engine) Progress() *progress.Aggregator { return e.progress }

// Submit 提交一批工作项
//
// 返回前已为每个异步项同步插好占位符 (可见性约定)；
// 结算通过返回的 channel 逐项送出，全部结算后关闭。
func (e *Engine) Submit(ctx context.Context, items []types.WorkItem) <-chan Settlement {
	out := make(chan Settlement, len(items))

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		for _, it := range items {
			out <- Settlement{ID: it.ID, Kind: it.Kind, Status: types.StatusAborted, Error: gate.ErrAborted.Error()}
		}
		close(out)
		return out
	}

	var batch sync.WaitGroup
	for _, it := range items {
		it := it
		if it.Kind == types.KindText {
			// 纯文本不走闸门，直接落进缓冲区
			e.mutator.InsertText(it.Text)
			out <- Settlement{ID: it.ID, Kind: it.Kind, Status: types.StatusSucceeded}
			continue
		}
		e.mutator.Insert(it.Name, it.ID, statusGlyph(it.Kind))

		batch.Add(1)
		e.wg.Add(1)
		go func() {
			defer batch.Done()
			defer e.wg.Done()
			out <- e.process(ctx, it)
		}()
	}
	e.mu.Unlock()

	go func() {
		batch.Wait()
		close(out)
	}()
	return out
}

// process 单项全流程：闸门 -> 处理 -> 结算记录
func (e *Engine) process(ctx context.Context, it types.WorkItem) Settlement {
	start := time.Now()
	s := Settlement{ID: it.ID, Kind: it.Kind}

	err := e.gate.Run(ctx, func(ctx context.Context) error {
		switch it.Kind {
		case types.KindFile:
			s = e.runUpload(ctx, it)
		case types.KindDelete:
			s = e.runDelete(ctx, it)
		case types.KindDownload:
			s = e.runDownload(ctx, it)
		}
		return nil
	})
	if err != nil {
		// 没被闸门放行：排队中被 abort 或调用方取消
		s.Status = types.StatusAborted
		s.Error = err.Error()
		e.mutator.ResolveError(it.ID, it.Name, "⏹", "aborted")
	}
	s.Duration = time.Since(start)

	e.record(ctx, s)
	return s
}

// record 旁路落历史，失败只打日志
func (e *Engine) record(ctx context.Context, s Settlement) {
	if e.hist == nil {
		return
	}
	err := e.hist.Record(ctx, history.Entry{
		ItemID:   s.ID,
		Kind:     s.Kind,
		Status:   s.Status,
		Key:      s.Remote.Key,
		URL:      s.Remote.URL,
		Bytes:    s.Bytes,
		Duration: s.Duration,
		Error:    s.Error,
		Meta:     map[string]any{"dedup_hit": s.DedupHit, "provider": e.settings.ProviderID()},
	})
	if err != nil {
		e.log.Warn("history record failed", zap.Error(err))
	}
}

// Abort 关闸：排队项立即以 Aborted 结算，已放行的照常跑完
func (e *Engine) Abort() {
	e.gate.Abort()
	e.log.Info("engine aborted, queued items rejected")
}

// Reset 重新开闸
func (e *Engine) Reset() {
	e.gate.Reset()
}

// Close 关停引擎：先关闸拒绝排队项，再等在途项跑完才返回
// (调用方关编辑器时需要确定性的落盘时机，所以选择阻塞等 drain。)
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.gate.Abort()
	e.wg.Wait()
}

// CheckProvider 校验当前配置的后端能否开工 (CLI check 命令用)
func (e *Engine) CheckProvider(ctx context.Context) types.Result[string] {
	p, err := e.registry.Get(ctx, e.settings.ProviderID(), e.settings.ProviderConfig())
	if err != nil {
		return types.Fail[string](err.Error())
	}
	return p.CheckConfig(ctx)
}

// statusGlyph 各类工作项占位符里的初始状态文案
func statusGlyph(k types.Kind) string {
	switch k {
	case types.KindDelete:
		return "🗑 deleting..."
	case types.KindDownload:
		return "⬇️ 0%"
	default:
		return "⏳ 0%"
	}
}
