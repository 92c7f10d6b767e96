package buffer

import (
	"strings"
	"sync"

	"uplink/pkg/types"

	"go.uber.org/zap"
)

// 占位符的文本约定：
//
//	[displayName](status)<!--id-->
//
// displayName + 状态串 + 标记，紧挨在一起插入。标记是唯一的锚点：
// 从插入到解决 (resolve) 之间，周围的文本可能被任意改动，
// 定位永远从标记出发往回做括号配对，而不是记偏移量。
//
// 不变量 (replace-once)：同一个 id 的标记在缓冲区里至多存在一个，
// 被替换恰好一次；引擎绝不为已解决的 id 重新插入标记。

// Mutator 实现占位符协议
// 它是整个系统里最棘手的正确性面：没有结构锚点，只有子串搜索。
//
// 引擎的工作 goroutine 和进度回调会并发调用这里，mu 把每次
// "快照 -> 定位 -> 改写" 串成原子操作；绕过 Mutator 直接改缓冲区
// 会破坏这个保证。
type Mutator struct {
	mu  sync.Mutex
	buf Buffer
	log *zap.Logger
}

func NewMutator(buf Buffer, log *zap.Logger) *Mutator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mutator{buf: buf, log: log}
}

// Insert 在当前光标处插入占位符
func (m *Mutator) Insert(displayName string, id types.ItemID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.InsertAtCursor("[" + displayName + "](" + status + ")" + Marker(id.String()))
}

// InsertText 在当前光标处插入纯文本 (不走占位符协议)
func (m *Mutator) InsertText(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.InsertAtCursor(text)
}

// span 是一次定位的结果
type span struct {
	full      int // '[' 的位置 (整个占位符的起点)
	statusBeg int // '(' 之后第一个字符
	statusEnd int // ')' 的位置
	markerEnd int // 标记结束位置 (整个占位符的终点)
	hasShape  bool
}

// locate 从标记出发，往回配对括号，还原占位符的完整区间
//
// 结构被用户改坏时 hasShape=false，此时只报告标记本身的区间。
func (m *Mutator) locate(text string, id types.ItemID) (span, bool) {
	mBeg, mEnd := findMarker(text, id.String())
	if mBeg < 0 {
		return span{}, false
	}

	s := span{markerEnd: mEnd, full: mBeg, statusBeg: mBeg, statusEnd: mBeg}

	// 标记前面应该紧跟 ')'
	if mBeg == 0 || text[mBeg-1] != ')' {
		return s, true // 标记还在，但形状没了
	}

	// 1. 往回找配对的 '('
	depth := 1
	i := mBeg - 2
	for i >= 0 && depth > 0 {
		switch text[i] {
		case ')':
			depth++
		case '(':
			depth--
		}
		if depth == 0 {
			break
		}
		i--
	}
	if depth != 0 {
		return s, true
	}
	open := i // '(' 的位置

	// 2. '(' 前面应该紧跟 ']'，再往回找配对的 '['
	if open == 0 || text[open-1] != ']' {
		return s, true
	}
	depth = 1
	j := open - 2
	for j >= 0 && depth > 0 {
		switch text[j] {
		case ']':
			depth++
		case '[':
			depth--
		}
		if depth == 0 {
			break
		}
		j--
	}
	if depth != 0 {
		return s, true
	}

	s.full = j
	s.statusBeg = open + 1
	s.statusEnd = mBeg - 1
	s.hasShape = true
	return s, true
}

// UpdateStatus 只改写状态段，其余一个字符都不动
// 标记已经不在时返回 false。
func (m *Mutator) UpdateStatus(id types.ItemID, newStatus string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	text := m.buf.GetText()
	s, ok := m.locate(text, id)
	if !ok {
		return false
	}
	if !s.hasShape {
		// 形状被改坏就不碰状态 (标记还在，之后 resolve 仍能兜底)
		return false
	}
	m.buf.ReplaceSpan(s.statusBeg, s.statusEnd, newStatus)
	return true
}

// Resolve 用最终内容替换整个 name+status+marker 区间
//
// 图片前缀 '!' 的推断同时看两边：原始上下文里有没有 '!'，
// 以及解析后内容指向的扩展名是不是图片。
//
// 标记丢失 (用户并发编辑/切走了文档) 时，兜底把最终内容追加到文末
// 并返回 false——丢数据比插错位置严重得多。
func (m *Mutator) Resolve(id types.ItemID, finalMarkdown string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(id, finalMarkdown)
}

func (m *Mutator) resolveLocked(id types.ItemID, finalMarkdown string) bool {
	text := m.buf.GetText()
	s, ok := m.locate(text, id)
	if !ok {
		// MarkerLost：追加到文末，绝不静默丢弃
		m.log.Warn("placeholder marker lost, appending at end of document",
			zap.String("id", id.String()))
		tail := "\n" + finalMarkdown + "\n"
		m.buf.ReplaceSpan(len(text), len(text), tail)
		return false
	}

	beg := s.full
	if beg > 0 && text[beg-1] == '!' {
		beg-- // 原始上下文里的 '!' 一并吃进替换区间，避免出现 "!!"
	}

	// 扩展名是图片 -> 带 '!' 嵌入；不是图片 -> 哪怕原来有 '!' 也去掉
	// (上传前以为是图片、落地后扩展名变了的场景)
	out := finalMarkdown
	if !strings.HasPrefix(out, "!") && isImageMarkdown(out) {
		out = "!" + out
	}

	m.buf.ReplaceSpan(beg, s.markerEnd, out)
	return true
}

// ResolveError 把占位符替换为可见的错误标记
// 失败不重试：重试是用户重新提交的事。
func (m *Mutator) ResolveError(id types.ItemID, name, glyph, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(id, "["+name+"]("+glyph+" "+msg+")")
}

// isImageMarkdown 判断一段最终内容是否是指向图片的链接
func isImageMarkdown(md string) bool {
	// 取最后一个 (...) 里的目标
	open := strings.LastIndexByte(md, '(')
	close_ := strings.LastIndexByte(md, ')')
	if open < 0 || close_ <= open {
		return false
	}
	target := md[open+1 : close_]
	if sp := strings.IndexAny(target, " \t"); sp >= 0 {
		target = target[:sp]
	}
	dot := strings.LastIndexByte(target, '.')
	if dot < 0 {
		return false
	}
	return types.IsImageExtension(target[dot+1:])
}
