// Package progress 跟踪每个在途操作的字节进度，并做跨操作聚合。
//
// 速度用指数加权滑动平均 (EWMA) 平滑，避免回调时间抖动导致的数字乱跳：
//
//	newSpeed = 0.7*oldSpeed + 0.3*instantSpeed
package progress

import (
	"sync"
	"time"

	"uplink/pkg/types"
)

// EWMA 系数
const (
	ewmaOld     = 0.7
	ewmaInstant = 0.3
)

// Record 是单个操作的进度快照
// 只被自己 id 的进度回调修改；Settled 时销毁。
type Record struct {
	ID          types.ItemID
	Kind        types.Kind
	TotalBytes  int64
	LoadedBytes int64
	StartTime   time.Time
	LastUpdated time.Time
	SpeedBps    float64 // 平滑后的字节/秒
	EtaSeconds  float64 // 速度为 0 时报 0
	Percent     float64 // 0..100，单调不减
}

// Aggregator 管理所有活跃操作的进度记录
// 并发结算的任务会交错调用 get/set，所以内部必须有锁。
type Aggregator struct {
	mu      sync.Mutex
	records map[types.ItemID]*Record

	now func() time.Time // 测试注入
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		records: make(map[types.ItemID]*Record),
		now:     time.Now,
	}
}

// Start 注册一个新操作
func (a *Aggregator) Start(id types.ItemID, kind types.Kind, totalBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	a.records[id] = &Record{
		ID:          id,
		Kind:        kind,
		TotalBytes:  totalBytes,
		StartTime:   now,
		LastUpdated: now,
	}
}

// Update 推进某个操作的已加载字节数
// 对未注册/已结束的 id 调用是 no-op (迟到的回调不该炸)。
func (a *Aggregator) Update(id types.ItemID, loadedBytes int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[id]
	if !ok {
		return
	}

	now := a.now()
	elapsed := now.Sub(r.LastUpdated).Seconds()
	delta := loadedBytes - r.LoadedBytes

	// 平滑速度。elapsed 为 0 时 (同一毫秒内两次回调) 跳过本次采样，
	// 避免除零把速度打飞。
	if elapsed > 0 && delta >= 0 {
		instant := float64(delta) / elapsed
		if r.SpeedBps == 0 {
			r.SpeedBps = instant
		} else {
			r.SpeedBps = ewmaOld*r.SpeedBps + ewmaInstant*instant
		}
	}

	if loadedBytes > r.LoadedBytes {
		r.LoadedBytes = loadedBytes
	}
	r.LastUpdated = now

	// Percent 单调不减
	if r.TotalBytes > 0 {
		p := float64(r.LoadedBytes) / float64(r.TotalBytes) * 100
		if p > 100 {
			p = 100
		}
		if p > r.Percent {
			r.Percent = p
		}
	}

	// ETA
	if r.SpeedBps > 0 {
		remaining := r.TotalBytes - r.LoadedBytes
		if remaining < 0 {
			remaining = 0
		}
		r.EtaSeconds = float64(remaining) / r.SpeedBps
	} else {
		r.EtaSeconds = 0
	}
}

// Finish 销毁记录 (操作已结算)
func (a *Aggregator) Finish(id types.ItemID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, id)
}

// Snapshot 返回单个记录的拷贝
func (a *Aggregator) Snapshot(id types.ItemID) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[id]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Aggregate 聚合同类操作：字节求和，速度取均值
// 没有活跃记录时返回零值 Record。
func (a *Aggregator) Aggregate(kind types.Kind) Record {
	a.mu.Lock()
	defer a.mu.Unlock()

	agg := Record{Kind: kind}
	count := 0
	for _, r := range a.records {
		if r.Kind != kind {
			continue
		}
		agg.TotalBytes += r.TotalBytes
		agg.LoadedBytes += r.LoadedBytes
		agg.SpeedBps += r.SpeedBps
		count++
	}
	if count == 0 {
		return agg
	}

	agg.SpeedBps /= float64(count)
	if agg.TotalBytes > 0 {
		agg.Percent = float64(agg.LoadedBytes) / float64(agg.TotalBytes) * 100
	}
	if agg.SpeedBps > 0 {
		agg.EtaSeconds = float64(agg.TotalBytes-agg.LoadedBytes) / agg.SpeedBps
	}
	return agg
}

// ActiveCount 返回指定类型的活跃操作数
func (a *Aggregator) ActiveCount(kind types.Kind) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, r := range a.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}
