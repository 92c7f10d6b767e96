package progress

import (
	"sync"
	"time"
)

// DefaultDebounceInterval 是进度回调 -> 缓冲区改写的默认合并窗口
// 后端一秒可能回调几十次进度，而缓冲区改写是整个链路里最贵的一步。
const DefaultDebounceInterval = 100 * time.Millisecond

// Debouncer 把一串密集调用合并为每个窗口至多一次执行
//
// 语义：窗口内第一次调用立即执行 (leading edge)，窗口内后续调用
// 只保留最后一个，窗口结束时补执行一次 (trailing edge)。
type Debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	pending func()      // 窗口内最后一次提交的函数
	timer   *time.Timer // 非 nil 表示窗口开着
	stopped bool
}

func NewDebouncer(interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	return &Debouncer{interval: interval}
}

// Call 提交一次执行请求
func (d *Debouncer) Call(fn func()) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}

	if d.timer == nil {
		// 窗口未开：立即执行，并打开窗口
		d.timer = time.AfterFunc(d.interval, d.onWindowEnd)
		d.mu.Unlock()
		fn()
		return
	}

	// 窗口开着：只记住最后一个
	d.pending = fn
	d.mu.Unlock()
}

// onWindowEnd 窗口到期：有积压就补执行并续开窗口，没有就关窗
func (d *Debouncer) onWindowEnd() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	if fn == nil || d.stopped {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	d.timer = time.AfterFunc(d.interval, d.onWindowEnd)
	d.mu.Unlock()
	fn()
}

// Flush 立即执行积压的调用 (如果有)，常在操作结算前调用
// 保证最终状态不会被窗口吞掉。
func (d *Debouncer) Flush() {
	d.mu.Lock()
	fn := d.pending
	d.pending = nil
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Stop 停止去抖器，之后的 Call 全部丢弃
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
