package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"uplink/pkg/buffer"
	"uplink/pkg/config"
	"uplink/pkg/provider"
	"uplink/pkg/types"
	"uplink/pkg/vault"
)

// ---------------------------------------------------------
// 测试替身
// ---------------------------------------------------------

type fakeSettings struct {
	providerID  string
	exts        map[string]bool
	deleteLocal bool
	skipDup     bool
	subs        []func()
}

func (f *fakeSettings) ProviderID() string                 { return f.providerID }
func (f *fakeSettings) ProviderConfig() provider.Config    { return provider.Config{} }
func (f *fakeSettings) AutoUploadExtensions() map[string]bool { return f.exts }
func (f *fakeSettings) DeleteLocalAfterUpload() bool       { return f.deleteLocal }
func (f *fakeSettings) SkipDuplicates() bool               { return f.skipDup }
func (f *fakeSettings) Subscribe(fn func())                { f.subs = append(f.subs, fn) }

type fakeProvider struct {
	mu       sync.Mutex
	uploads  int
	deleted  []string
	existing map[string]types.Remote // 去重前缀 -> 远端对象

	block      chan struct{} // 非 nil 时 Upload 阻塞到它被关闭
	failUpload bool
	failDelete bool
}

func (f *fakeProvider) CheckConfig(ctx context.Context) types.Result[string] {
	return types.Ok("ok")
}

func (f *fakeProvider) Upload(ctx context.Context, blob []byte, key string, onProgress provider.ProgressFunc) types.Result[types.Remote] {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.uploads++
	fail := f.failUpload
	f.mu.Unlock()
	if fail {
		return types.Fail[types.Remote]("upload failed: HTTP 500")
	}
	if onProgress != nil {
		total := int64(len(blob))
		onProgress(total/2, total)
		onProgress(total, total)
	}
	return types.Ok(types.Remote{URL: "https://cdn.example.com/" + key, Key: key})
}

func (f *fakeProvider) Delete(ctx context.Context, key string) types.Result[string] {
	f.mu.Lock()
	f.deleted = append(f.deleted, key)
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return types.Fail[string]("delete failed: HTTP 403")
	}
	return types.Ok("deleted")
}

func (f *fakeProvider) ExistsByPrefix(ctx context.Context, prefix string) types.Result[types.Remote] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.existing[prefix]; ok {
		return types.Ok(r)
	}
	return types.Ok(types.Remote{})
}

func (f *fakeProvider) PublicURL(key string) string { return "https://cdn.example.com/" + key }
func (f *fakeProvider) Dispose()                    {}

func (f *fakeProvider) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// ---------------------------------------------------------
// 脚手架
// ---------------------------------------------------------

type harness struct {
	engine   *Engine
	buf      *buffer.TextBuffer
	provider *fakeProvider
	settings *fakeSettings
	vault    *vault.Vault
}

func newHarness(t *testing.T, mutate func(*fakeSettings, *Options)) *harness {
	t.Helper()

	fp := &fakeProvider{existing: map[string]types.Remote{}}
	reg := provider.NewRegistry()
	reg.Register("fake", func(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
		return fp, nil
	})

	fs := &fakeSettings{
		providerID: "fake",
		exts:       map[string]bool{"png": true, "jpg": true},
		skipDup:    true,
	}

	buf := buffer.NewTextBuffer("")
	v, err := vault.New(t.TempDir(), "attachments")
	require.NoError(t, err)

	opts := Options{
		Settings:         fs,
		Registry:         reg,
		Mutator:          buffer.NewMutator(buf, zap.NewNop()),
		Vault:            v,
		Logger:           zap.NewNop(),
		Debug:            config.DebugConfig{},
		MaxConcurrent:    2,
		DebounceInterval: time.Millisecond,
	}
	if mutate != nil {
		mutate(fs, &opts)
	}

	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	return &harness{engine: e, buf: buf, provider: fp, settings: fs, vault: v}
}

func collect(t *testing.T, ch <-chan Settlement) map[types.ItemID]Settlement {
	t.Helper()
	out := map[types.ItemID]Settlement{}
	for s := range ch {
		out[s.ID] = s
	}
	return out
}

func fileItem(id, name string, data []byte) types.WorkItem {
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		ext = name[i+1:]
	}
	return types.WorkItem{ID: types.ItemID(id), Kind: types.KindFile, Name: name, Data: data, Extension: ext}
}

// ---------------------------------------------------------
// 上传
// ---------------------------------------------------------

func TestUploadResolvesPlaceholder(t *testing.T) {
	h := newHarness(t, nil)

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("u1", "cat.png", []byte("cat-bytes")),
	}))

	s := got["u1"]
	require.Equal(t, types.StatusSucceeded, s.Status)
	assert.False(t, s.DedupHit)
	assert.Contains(t, s.Remote.URL, "https://cdn.example.com/")

	text := h.buf.GetText()
	assert.Contains(t, text, "![cat.png]("+s.Remote.URL+")") // 图片扩展名带 !
	assert.NotContains(t, text, "<!--u1-->")
	assert.NotContains(t, text, "⏳")

	// 结算后进度记录销毁
	_, ok := h.engine.Progress().Snapshot("u1")
	assert.False(t, ok)
}

func TestDedupSameContentUploadsOnce(t *testing.T) {
	h := newHarness(t, nil)

	data := []byte("identical-bytes")
	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("d1", "a.png", data),
		fileItem("d2", "b.png", data),
	}))

	require.Equal(t, types.StatusSucceeded, got["d1"].Status)
	require.Equal(t, types.StatusSucceeded, got["d2"].Status)

	// 同内容恰好传一次，两个结算指向同一个 URL
	assert.Equal(t, 1, h.provider.uploadCount())
	assert.Equal(t, got["d1"].Remote.URL, got["d2"].Remote.URL)
	assert.True(t, got["d1"].DedupHit != got["d2"].DedupHit, "恰有一个是命中方")
}

func TestDedupRemoteHitSkipsUpload(t *testing.T) {
	h := newHarness(t, nil)

	data := []byte("already-there")
	_, prefix := deriveKey(data, "png")
	h.provider.existing[prefix] = types.Remote{URL: "https://cdn.example.com/old.png", Key: "old.png"}

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("r1", "x.png", data),
	}))

	s := got["r1"]
	require.Equal(t, types.StatusSucceeded, s.Status)
	assert.True(t, s.DedupHit)
	assert.Equal(t, "https://cdn.example.com/old.png", s.Remote.URL)
	assert.Equal(t, 0, h.provider.uploadCount())
}

func TestDedupDisabledUploadsBoth(t *testing.T) {
	h := newHarness(t, func(fs *fakeSettings, _ *Options) { fs.skipDup = false })

	data := []byte("dup-ok")
	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("n1", "a.png", data),
		fileItem("n2", "b.png", data),
	}))

	require.Equal(t, types.StatusSucceeded, got["n1"].Status)
	require.Equal(t, types.StatusSucceeded, got["n2"].Status)
	assert.Equal(t, 2, h.provider.uploadCount())
}

func TestUploadFailureRendersErrorPlaceholder(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.failUpload = true

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("f1", "bad.png", []byte("x")),
	}))

	s := got["f1"]
	require.Equal(t, types.StatusFailed, s.Status)
	assert.Contains(t, s.Error, "500")

	text := h.buf.GetText()
	assert.Contains(t, text, "⚠️")
	assert.NotContains(t, text, "<!--f1-->")
}

func TestUnsupportedExtensionSavedAsAttachment(t *testing.T) {
	h := newHarness(t, nil)

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("a1", "notes.pdf", []byte("pdf-bytes")),
	}))

	s := got["a1"]
	require.Equal(t, types.StatusSucceeded, s.Status)
	assert.Equal(t, 0, h.provider.uploadCount())
	assert.Equal(t, "attachments/notes.pdf", s.Remote.Key)

	data, err := h.vault.Read("attachments/notes.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf-bytes"), data)
	assert.Contains(t, h.buf.GetText(), "[notes.pdf](attachments/notes.pdf)")
}

func TestUnsupportedExtensionWithoutVaultFails(t *testing.T) {
	h := newHarness(t, func(_ *fakeSettings, o *Options) { o.Vault = nil })

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("a2", "notes.pdf", []byte("pdf-bytes")),
	}))

	// 无处落附件就明确失败，而不是偷偷改走上传
	s := got["a2"]
	require.Equal(t, types.StatusFailed, s.Status)
	assert.Contains(t, s.Error, "no vault configured")
	assert.Equal(t, 0, h.provider.uploadCount())
	assert.Contains(t, h.buf.GetText(), "⚠️")
}

func TestDeleteLocalAfterUpload(t *testing.T) {
	h := newHarness(t, func(fs *fakeSettings, _ *Options) { fs.deleteLocal = true })

	mustPut := func(rel string, data []byte) {
		_, err := h.vault.WriteAttachment(rel, data)
		require.NoError(t, err)
	}
	mustPut("src.png", []byte("local-bytes"))
	require.True(t, h.vault.Exists("attachments/src.png"))

	it := fileItem("l1", "src.png", []byte("local-bytes"))
	it.LocalPath = "attachments/src.png"
	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{it}))

	require.Equal(t, types.StatusSucceeded, got["l1"].Status)
	assert.False(t, h.vault.Exists("attachments/src.png"))
}

func TestDeleteLocalAfterUploadOnDedupHit(t *testing.T) {
	h := newHarness(t, func(fs *fakeSettings, _ *Options) { fs.deleteLocal = true })

	data := []byte("same-bytes")
	for _, rel := range []string{"one.png", "two.png"} {
		_, err := h.vault.WriteAttachment(rel, data)
		require.NoError(t, err)
	}

	// 两份同内容：第二份去重命中，但本地源文件同样要删
	it1 := fileItem("dl1", "one.png", data)
	it1.LocalPath = "attachments/one.png"
	it2 := fileItem("dl2", "two.png", data)
	it2.LocalPath = "attachments/two.png"
	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{it1, it2}))

	require.Equal(t, types.StatusSucceeded, got["dl1"].Status)
	require.Equal(t, types.StatusSucceeded, got["dl2"].Status)
	assert.Equal(t, 1, h.provider.uploadCount())
	assert.False(t, h.vault.Exists("attachments/one.png"))
	assert.False(t, h.vault.Exists("attachments/two.png"))
}

// ---------------------------------------------------------
// 批次独立性与闸门
// ---------------------------------------------------------

func TestBatchItemsSettleIndependently(t *testing.T) {
	h := newHarness(t, nil)

	items := []types.WorkItem{
		fileItem("b1", "ok.png", []byte("one")),
		fileItem("b2", "boom.png", []byte("two")),
		{ID: "b3", Kind: types.KindText, Text: "hello"},
	}
	// 后端全面 500：两个上传项失败，但不拖累同批的文本项
	h.provider.failUpload = true
	got := collect(t, h.engine.Submit(context.Background(), items))
	require.Equal(t, types.StatusSucceeded, got["b3"].Status)
	assert.Contains(t, h.buf.GetText(), "hello")
	assert.Equal(t, types.StatusFailed, got["b1"].Status)
	assert.Equal(t, types.StatusFailed, got["b2"].Status)
}

func TestAbortRejectsQueuedKeepsInFlight(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(_ *fakeSettings, o *Options) { o.MaxConcurrent = 1 })
	h.provider.block = release
	h.settings.skipDup = false

	ch := h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("g1", "a.png", []byte("one")),
		fileItem("g2", "b.png", []byte("two")),
		fileItem("g3", "c.png", []byte("three")),
	})

	// 等 g1 进入后端传输
	require.Eventually(t, func() bool {
		return strings.Contains(h.buf.GetText(), "<!--g3-->")
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	h.engine.Abort()
	close(release)

	got := collect(t, ch)
	succeeded, aborted := 0, 0
	for _, s := range got {
		switch s.Status {
		case types.StatusSucceeded:
			succeeded++
		case types.StatusAborted:
			aborted++
		}
	}
	// 已放行的照常结算，排队中的全部被拒
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, aborted)

	// abort 后新提交立即被拒
	got2 := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("g4", "d.png", []byte("four")),
	}))
	assert.Equal(t, types.StatusAborted, got2["g4"].Status)

	// Reset 重新开闸
	h.engine.Reset()
	got3 := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("g5", "e.png", []byte("five")),
	}))
	assert.Equal(t, types.StatusSucceeded, got3["g5"].Status)
}

func TestCloseDrainsInFlight(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, nil)
	h.provider.block = release

	ch := h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("c1", "a.png", []byte("one")),
	})

	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(release)
	}()
	go func() {
		h.engine.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drain in-flight work")
	}
	got := collect(t, ch)
	assert.Equal(t, types.StatusSucceeded, got["c1"].Status)

	// 关停后的提交直接按 Aborted 结算
	got2 := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("c2", "b.png", []byte("two")),
	}))
	assert.Equal(t, types.StatusAborted, got2["c2"].Status)
}

// ---------------------------------------------------------
// 删除与下载
// ---------------------------------------------------------

func TestDeleteRemovesLinkFromBuffer(t *testing.T) {
	h := newHarness(t, nil)

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		{ID: "x1", Kind: types.KindDelete, Name: "old.png",
			RemoteLink: "https://cdn.example.com/abc123.png"},
	}))

	s := got["x1"]
	require.Equal(t, types.StatusSucceeded, s.Status)
	assert.Equal(t, []string{"abc123.png"}, h.provider.deleted)
	// 链接没了，显示文字还在
	assert.Equal(t, "old.png", h.buf.GetText())
	assert.NotContains(t, h.buf.GetText(), "<!--")
}

func TestDeleteKeepsSelectedText(t *testing.T) {
	h := newHarness(t, nil)

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		{ID: "x3", Kind: types.KindDelete, Name: "old.png",
			SelectedText: "架构图",
			RemoteKey:    "abc123.png"},
	}))

	require.Equal(t, types.StatusSucceeded, got["x3"].Status)
	assert.Equal(t, "架构图", h.buf.GetText())
}

func TestDeleteFailureSurfacesError(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.failDelete = true

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		{ID: "x2", Kind: types.KindDelete, Name: "old.png", RemoteKey: "k.png"},
	}))

	require.Equal(t, types.StatusFailed, got["x2"].Status)
	assert.Contains(t, got["x2"].Error, "403")
	assert.Contains(t, h.buf.GetText(), "⚠️")
}

func TestDownloadWritesAttachmentAndRewritesLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote-image-bytes"))
	}))
	defer srv.Close()

	h := newHarness(t, nil)

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		{ID: "dl1", Kind: types.KindDownload, Name: "pic.png",
			RemoteURL: srv.URL + "/pic.png"},
	}))

	s := got["dl1"]
	require.Equal(t, types.StatusSucceeded, s.Status)
	assert.Equal(t, "attachments/pic.png", s.Remote.Key)

	data, err := h.vault.Read("attachments/pic.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote-image-bytes"), data)
	assert.Contains(t, h.buf.GetText(), "![pic.png](attachments/pic.png)")
}

func TestDownloadRepeatHitsBlobCache(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte("cached-bytes"))
	}))
	defer srv.Close()

	h := newHarness(t, nil)

	url := srv.URL + "/pic.png"
	for i, id := range []string{"bc1", "bc2"} {
		got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
			{ID: types.ItemID(id), Kind: types.KindDownload, Name: fmt.Sprintf("p%d.png", i), RemoteURL: url},
		}))
		require.Equal(t, types.StatusSucceeded, got[types.ItemID(id)].Status)
	}

	// 第二次下载同一 URL 用缓存副本，不再打到服务器
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.True(t, h.vault.Exists("attachments/p0.png"))
	assert.True(t, h.vault.Exists("attachments/p1.png"))
}

func TestDownloadHTTPErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := newHarness(t, nil)

	got := collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		{ID: "dl2", Kind: types.KindDownload, Name: "gone.png",
			RemoteURL: srv.URL + "/gone.png"},
	}))

	require.Equal(t, types.StatusFailed, got["dl2"].Status)
	assert.Contains(t, got["dl2"].Error, "404")
}

// ---------------------------------------------------------
// 配置变更
// ---------------------------------------------------------

func TestConfigChangeInvalidatesDedupCache(t *testing.T) {
	h := newHarness(t, nil)

	data := []byte("cached-content")
	collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("cc1", "a.png", data),
	}))
	require.Equal(t, 1, h.provider.uploadCount())

	// 广播配置变更：缓存清空，下次同内容要重新查远端
	require.NotEmpty(t, h.settings.subs)
	for _, fn := range h.settings.subs {
		fn()
	}

	collect(t, h.engine.Submit(context.Background(), []types.WorkItem{
		fileItem("cc2", "b.png", data),
	}))
	// 缓存失效但远端没有 -> 重新上传
	assert.Equal(t, 2, h.provider.uploadCount())
}
