package e2e

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"uplink/pkg/buffer"
	"uplink/pkg/config"
	"uplink/pkg/engine"
	"uplink/pkg/provider"
	"uplink/pkg/provider/webdav"
	"uplink/pkg/scan"
	"uplink/pkg/types"
	"uplink/pkg/vault"
)

// fakeDAV 内存 WebDAV 服务器，只认上传链路用到的四个动词
type fakeDAV struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

func newFakeDAV() *fakeDAV {
	return &fakeDAV{files: make(map[string][]byte), dirs: make(map[string]bool)}
}

func (f *fakeDAV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		// 下载链路走公开地址，不带认证
		if data, ok := f.files[r.URL.Path]; ok {
			w.Write(data)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.files[r.URL.Path] = body
		w.WriteHeader(http.StatusCreated)

	case http.MethodDelete:
		if _, ok := f.files[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.files, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)

	case "MKCOL":
		if f.dirs[r.URL.Path] {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.dirs[r.URL.Path] = true
		w.WriteHeader(http.StatusCreated)

	case "PROPFIND":
		w.WriteHeader(http.StatusMultiStatus)
		fmt.Fprint(w, `<?xml version="1.0"?><d:multistatus xmlns:d="DAV:">`)
		fmt.Fprintf(w, `<d:response><d:href>%s</d:href></d:response>`, r.URL.Path)
		for p := range f.files {
			fmt.Fprintf(w, `<d:response><d:href>%s</d:href></d:response>`, p)
		}
		fmt.Fprint(w, `</d:multistatus>`)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeDAV) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// stack 把一次端到端运行需要的所有部件组装起来
type stack struct {
	engine   *engine.Engine
	buf      *buffer.TextBuffer
	vault    *vault.Vault
	settings *config.Settings
}

func newStack(t *testing.T, srvURL, doc string) *stack {
	t.Helper()

	v := viper.New()
	v.Set("provider.id", "webdav")
	v.Set("provider.webdav.url", srvURL+"/dav")
	v.Set("provider.webdav.username", "e2e")
	v.Set("provider.webdav.password", "e2e")
	v.Set("provider.webdav.public_url", srvURL+"/dav")
	settings := config.NewSettings(v)

	reg := provider.NewRegistry()
	reg.Register(webdav.ID, webdav.New)

	vlt, err := vault.New(t.TempDir(), "attachments")
	require.NoError(t, err)

	buf := buffer.NewTextBuffer(doc)
	eng, err := engine.New(engine.Options{
		Settings:      settings,
		Registry:      reg,
		Mutator:       buffer.NewMutator(buf, zap.NewNop()),
		Vault:         vlt,
		Logger:        zap.NewNop(),
		MaxConcurrent: 2,
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	return &stack{engine: eng, buf: buf, vault: vlt, settings: settings}
}

// TestDocumentWorkflow 覆盖完整链路：
// 扫描文档本地链接 -> 并发上传 (同内容去重) -> 链接原位改写 -> 删除 -> 下载回库
func TestDocumentWorkflow(t *testing.T) {
	dav := newFakeDAV()
	srv := httptest.NewServer(dav)
	defer srv.Close()

	// 1. 准备 vault：两张图，内容完全相同
	doc := "# 周报\n\n![图一](assets/a.png)\n\n正文\n\n![图二](assets/b.png)\n"
	st := newStack(t, srv.URL, doc)
	sameBytes := []byte("identical-image-bytes")
	for _, rel := range []string{"assets/a.png", "assets/b.png"} {
		p := filepath.Join(st.vault.Root(), filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, sameBytes, 0644))
	}

	// 2. 扫描候选并上传 (从后往前改写，前面的偏移量不受影响)
	candidates := scan.OutboundCandidates(st.buf.GetText(), map[string]bool{"png": true})
	require.Len(t, candidates, 2)

	var settlements []engine.Settlement
	for i := len(candidates) - 1; i >= 0; i-- {
		c := candidates[i]
		data, err := st.vault.Read(c.Target)
		require.NoError(t, err)

		st.buf.ReplaceSpan(c.Start, c.End, "")
		st.buf.SetCursor(c.Start)
		for s := range st.engine.Submit(context.Background(), []types.WorkItem{{
			ID:        types.ItemID(fmt.Sprintf("e2e-%d", i)),
			Kind:      types.KindFile,
			Name:      filepath.Base(c.Target),
			Data:      data,
			Extension: "png",
			LocalPath: c.Target,
		}}) {
			settlements = append(settlements, s)
		}
	}

	// 3. 结算校验：全部成功，同内容只占一个远端对象
	require.Len(t, settlements, 2)
	for _, s := range settlements {
		require.Equal(t, types.StatusSucceeded, s.Status, s.Error)
	}
	assert.Equal(t, 1, dav.count(), "相同内容只该上传一份")
	assert.Equal(t, settlements[0].Remote.URL, settlements[1].Remote.URL)

	// 4. 文档校验：本地链接全部变成远端链接，占位符无残留
	text := st.buf.GetText()
	assert.NotContains(t, text, "assets/a.png")
	assert.NotContains(t, text, "assets/b.png")
	assert.NotContains(t, text, "<!--")
	assert.Equal(t, 2, strings.Count(text, settlements[0].Remote.URL))
	assert.Contains(t, text, "正文") // 周围文本原样保留

	// 5. 删除：远端对象清掉，文档里链接退化成纯文本
	remote := settlements[0].Remote
	for s := range st.engine.Submit(context.Background(), []types.WorkItem{{
		ID:         "e2e-del",
		Kind:       types.KindDelete,
		Name:       "图一",
		RemoteLink: remote.URL,
	}}) {
		require.Equal(t, types.StatusSucceeded, s.Status, s.Error)
	}
	assert.Equal(t, 0, dav.count())
	assert.Contains(t, st.buf.GetText(), "图一")
	assert.NotContains(t, st.buf.GetText(), "<!--e2e-del-->")

	// 6. 删除后上传同内容：缓存已失效，重新上传而不是假命中
	for s := range st.engine.Submit(context.Background(), []types.WorkItem{{
		ID:        "e2e-reup",
		Kind:      types.KindFile,
		Name:      "c.png",
		Data:      sameBytes,
		Extension: "png",
	}}) {
		require.Equal(t, types.StatusSucceeded, s.Status, s.Error)
		assert.False(t, s.DedupHit)
	}
	assert.Equal(t, 1, dav.count())

	// 7. 下载回库：远端文件落进附件目录
	for s := range st.engine.Submit(context.Background(), []types.WorkItem{{
		ID:        "e2e-dl",
		Kind:      types.KindDownload,
		Name:      "back.png",
		RemoteURL: remote.URL,
	}}) {
		require.Equal(t, types.StatusSucceeded, s.Status, s.Error)
		assert.Equal(t, "attachments/back.png", s.Remote.Key)
	}
	data, err := st.vault.Read("attachments/back.png")
	require.NoError(t, err)
	assert.Equal(t, sameBytes, data)
}
