// Package gate 实现有界并发准入 (Bounded Concurrency Admission)。
//
// 它本质上是一个带 FIFO 等待队列和协作式中止的计数信号量：
//   - Run 在有空位之前挂起调用者 (不阻塞其他调用者)
//   - Abort 永久关闭闸门：排队中的全部拒绝，之后的 Run 直接拒绝
//   - 已经获准运行的任务不受 Abort 影响，允许跑完并自行写结果
package gate

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrAborted 是闸门关闭后所有排队/后续调用者收到的终态错误
// 它是不可重试的：重试属于用户重新提交，不是闸门的职责。
var ErrAborted = errors.New("gate aborted")

// Gate 是按到达顺序 (FIFO) 放行的并发闸门
// 每个引擎实例构造一个，按引用传递；不需要全局单例。
type Gate struct {
	max int64

	mu sync.Mutex // 保护下面三个字段在 Reset/Abort 之间的一致性

	// sem 的等待者按到达顺序被唤醒，这正是我们要的 FIFO 语义
	sem *semaphore.Weighted

	// abortCtx 被 cancel 即表示闸门已中止 (level-triggered)
	// 用 context 而不是 bool，排队中的 Acquire 才能被立刻打断。
	abortCtx context.Context
	abort    context.CancelFunc
}

// New 构造一个最多同时放行 maxConcurrent 个任务的闸门
func New(maxConcurrent int) *Gate {
	g := &Gate{max: int64(maxConcurrent)}
	g.arm()
	return g
}

// arm 初始化/复位内部状态 (调用方负责持锁或保证独占)
func (g *Gate) arm() {
	g.sem = semaphore.NewWeighted(g.max)
	g.abortCtx, g.abort = context.WithCancel(context.Background())
}

// snapshot 拿到当前代 (generation) 的 sem 和 abortCtx
func (g *Gate) snapshot() (*semaphore.Weighted, context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sem, g.abortCtx
}

// Run 等待空位后执行 task，并返回它的结果
//
// 挂起点恰好两个：等闸门空位、等 task 自己返回。
// 注意：一旦获准，task 使用调用者自己的 ctx 运行——Abort 不会取消在途任务。
func (g *Gate) Run(ctx context.Context, task func(ctx context.Context) error) error {
	sem, abortCtx := g.snapshot()

	// 快速路径：闸门已关，直接拒绝，不入队
	if abortCtx.Err() != nil {
		return ErrAborted
	}

	// 排队等待。waitCtx 在「调用者取消」或「闸门中止」任一发生时失效。
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	stop := context.AfterFunc(abortCtx, cancelWait)
	defer stop()

	if err := sem.Acquire(waitCtx, 1); err != nil {
		// 区分两种打断：闸门中止 vs 调用者自己的 ctx
		if abortCtx.Err() != nil {
			return ErrAborted
		}
		return err
	}
	defer sem.Release(1)

	return task(ctx)
}

// Abort 立即且永久关闭闸门
//
// 效果是 level-triggered 的：所有排队中的调用者收到 ErrAborted，
// 之后的每次 Run 也直接收到 ErrAborted。已获准的任务继续运行到结束。
// 重复调用是 no-op。
func (g *Gate) Abort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.abort()
}

// Reset 清除中止标志，恢复到初始状态
// 只允许在两个独立会话之间调用，绝不能在还有任务在途时调用。
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.arm()
}

// Aborted 返回闸门当前是否处于中止态
func (g *Gate) Aborted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.abortCtx.Err() != nil
}
