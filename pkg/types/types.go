// pkg/types/types.go
package types

import "strings"

// ItemID 是工作项的唯一标识符
// 它是引擎在缓冲区里定位一个未完成操作的唯一把手 (Handle)，
// 在一个批次的生命周期内不可重复使用。
type ItemID string

func (id ItemID) String() string { return string(id) }
func (id ItemID) IsZero() bool   { return id == "" }

// Kind 区分工作项的种类
type Kind string

const (
	KindText     Kind = "text"     // 纯文本插入
	KindFile     Kind = "file"     // 本地文件上传
	KindDelete   Kind = "delete"   // 远端对象删除
	KindDownload Kind = "download" // 远端文件下载回本地
)

// Status 是工作项的结算状态 (Settlement)
// 状态机: Queued -> Admitted -> Succeeded | Failed | Aborted
type Status string

const (
	StatusQueued    Status = "queued"
	StatusAdmitted  Status = "admitted"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Settled 判断是否已达到终态
func (s Status) Settled() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

// WorkItem 是提交给引擎的一个逻辑传输/删除请求 (Tagged Union)
// 只有与 Kind 对应的 payload 字段有意义，其余保持零值。
type WorkItem struct {
	ID   ItemID
	Kind Kind

	// Name 是缓冲区里的显示名 (例如 "photo.png" 或粘贴内容的摘要)
	Name string

	// --- KindText ---
	Text string // 直接插入的字面文本

	// --- KindFile ---
	Data      []byte // 二进制内容
	Extension string // 推断出的扩展名 (不带点，例如 "png")
	LocalPath string // 可选：vault 相对路径，上传成功后用于删除/改写本地源文件

	// --- KindDelete ---
	RemoteLink   string // 文档里的完整远端链接
	RemoteKey    string // 远端对象 Key
	SelectedText string // 删除时用户选中的原始文本

	// --- KindDownload ---
	RemoteURL string // 待下载的远端地址
}

// Result 是所有 Provider 操作和引擎结算的统一返回值
// 约定：错误永远不以 panic/throw 穿越引擎边界，而是折叠进 Error 字段。
type Result[T any] struct {
	Success bool
	Data    T
	Error   string
}

// Ok 构造成功结果
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail 构造失败结果
func Fail[T any](msg string) Result[T] {
	return Result[T]{Success: false, Error: msg}
}

// Remote 是上传/查重成功后拿到的远端定位信息
type Remote struct {
	URL string // 可公开访问的 URL
	Key string // 后端存储里的对象 Key
}

// ImageExtensions 是会被渲染为图片链接 (带 ! 前缀) 的扩展名集合
var ImageExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true,
	"webp": true, "bmp": true, "svg": true, "avif": true,
}

// IsImageExtension 判断扩展名是否属于图片
// 输入兼容 "png" / ".png" / "PNG" 三种写法。
func IsImageExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return ImageExtensions[ext]
}
