// Package buffer 定义引擎对宿主编辑器缓冲区的最小读写契约，
// 并实现占位符协议 (Placeholder Protocol)。
//
// 引擎从不假设结构化文档模型：它唯一的锚点是一个不透明的文本标记。
package buffer

import "strings"

// Buffer 是宿主编辑器暴露给引擎的最小接口
// 所有区间都是字节偏移，[start, end)。
type Buffer interface {
	GetText() string
	ReplaceSpan(start, end int, text string)
	InsertAtCursor(text string)
	GetSelection() string
}

// TextBuffer 是 Buffer 的内存实现
// CLI 驱动和测试都用它；真正的编辑器宿主自行实现 Buffer 接口。
type TextBuffer struct {
	text   string
	cursor int // -1 表示"光标在末尾"
	selBeg int
	selEnd int
}

func NewTextBuffer(initial string) *TextBuffer {
	return &TextBuffer{text: initial, cursor: -1}
}

func (b *TextBuffer) GetText() string { return b.text }

func (b *TextBuffer) ReplaceSpan(start, end int, text string) {
	if start < 0 {
		start = 0
	}
	if end > len(b.text) {
		end = len(b.text)
	}
	if start > end {
		return
	}
	b.text = b.text[:start] + text + b.text[end:]
	// 光标在被改区间之后时要跟着平移
	if b.cursor >= 0 && b.cursor >= end {
		b.cursor += len(text) - (end - start)
	}
}

func (b *TextBuffer) InsertAtCursor(text string) {
	at := b.cursor
	if at < 0 || at > len(b.text) {
		at = len(b.text)
	}
	b.text = b.text[:at] + text + b.text[at:]
	if b.cursor >= 0 {
		b.cursor = at + len(text)
	}
}

func (b *TextBuffer) GetSelection() string {
	if b.selBeg < 0 || b.selEnd > len(b.text) || b.selBeg >= b.selEnd {
		return ""
	}
	return b.text[b.selBeg:b.selEnd]
}

// SetCursor 移动光标 (字节偏移)，传 -1 回到"末尾"语义
func (b *TextBuffer) SetCursor(at int) { b.cursor = at }

// SetSelection 设置选区 [beg, end)
func (b *TextBuffer) SetSelection(beg, end int) {
	b.selBeg, b.selEnd = beg, end
}

// -----------------------------------------------------------------------------
// 标记 (Marker)
// -----------------------------------------------------------------------------

// Marker 生成 id 对应的不透明标记文本
// 形如 <!--id-->：HTML 注释在几乎所有 markdown 渲染器里都是不可见的。
func Marker(id string) string {
	return "<!--" + id + "-->"
}

// findMarker 在 text 里定位标记，返回 [start, end)；找不到返回 (-1, -1)
func findMarker(text, id string) (int, int) {
	m := Marker(id)
	i := strings.Index(text, m)
	if i < 0 {
		return -1, -1
	}
	return i, i + len(m)
}
