// Package webdav 实现 WebDAV 后端 (Nextcloud / 坚果云 / 群晖等)。
//
// 协议面很窄：PUT 上传、DELETE 删除、MKCOL 建目录、PROPFIND 列目录。
// 没有引第三方 WebDAV 客户端库——需要的就这四个动词，net/http 足够。
package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"path"
	"strings"
	"sync"
	"time"

	"uplink/pkg/provider"
	"uplink/pkg/types"
)

// ID 是注册表里的后端标识符
const ID = "webdav"

// 配置字段：
//
//	url        必填，远端基础地址 (含要写入的目录)
//	username   必填
//	password   必填
//	public_url 可选，公开访问的基础地址 (不设则复用 url)

// Provider 实现 provider.Provider
type Provider struct {
	cfg    provider.Config
	client *http.Client

	// mkcolDone 记住已经确认存在的目录，避免每次上传都发 MKCOL
	// 引擎的并发上传共用同一个实例，读写都在 mkcolMu 下
	mkcolMu   sync.Mutex
	mkcolDone map[string]bool
}

func New(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	return &Provider{
		cfg: cfg,
		client: &http.Client{
			// 超时是后端层面的关注点，闸门不管超时
			Timeout: 60 * time.Second,
		},
		mkcolDone: make(map[string]bool),
	}, nil
}

func (p *Provider) CheckConfig(ctx context.Context) types.Result[string] {
	if missing := provider.RequireFields(p.cfg, "url", "username", "password"); missing != "" {
		return types.Fail[string]("webdav: missing required field: " + missing)
	}
	return types.Ok("webdav: config ok (" + p.cfg["url"] + ")")
}

// remoteURL 拼出 key 的完整远端地址
func (p *Provider) remoteURL(key string) string {
	return strings.TrimSuffix(p.cfg["url"], "/") + "/" + strings.TrimPrefix(key, "/")
}

// do 发一个带 Basic Auth 的请求
func (p *Provider) do(ctx context.Context, method, url string, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(p.cfg["username"], p.cfg["password"])
	for k, v := range header {
		req.Header[k] = v
	}
	return p.client.Do(req)
}

// ensureDir 逐级 MKCOL，已存在 (405) 视为成功
func (p *Provider) ensureDir(ctx context.Context, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}
	p.mkcolMu.Lock()
	done := p.mkcolDone[dir]
	p.mkcolMu.Unlock()
	if done {
		return nil
	}
	if parent := path.Dir(dir); parent != dir {
		if err := p.ensureDir(ctx, parent); err != nil {
			return err
		}
	}

	resp, err := p.do(ctx, "MKCOL", p.remoteURL(dir)+"/", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// 201 新建成功；405 已存在；其余都算失败
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusMethodNotAllowed {
		return fmt.Errorf("MKCOL %s: HTTP %d", dir, resp.StatusCode)
	}
	p.mkcolMu.Lock()
	p.mkcolDone[dir] = true
	p.mkcolMu.Unlock()
	return nil
}

// Upload PUT 上传
func (p *Provider) Upload(ctx context.Context, blob []byte, key string, onProgress provider.ProgressFunc) types.Result[types.Remote] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[types.Remote](r.Error)
	}

	if dir := path.Dir(key); dir != "." {
		if err := p.ensureDir(ctx, dir); err != nil {
			return types.Fail[types.Remote](fmt.Sprintf("webdav mkcol failed: %v", err))
		}
	}

	total := int64(len(blob))
	body := &progressReader{inner: bytes.NewReader(blob), total: total, report: onProgress}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.remoteURL(key), body)
	if err != nil {
		return types.Fail[types.Remote](err.Error())
	}
	req.SetBasicAuth(p.cfg["username"], p.cfg["password"])
	req.ContentLength = total
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("webdav put failed: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return types.Fail[types.Remote](fmt.Sprintf("webdav put failed: HTTP %d", resp.StatusCode))
	}

	if onProgress != nil {
		onProgress(total, total)
	}
	return types.Ok(types.Remote{URL: p.PublicURL(key), Key: key})
}

// Delete 删除；404 视为成功 (想要的终态已经达成)
func (p *Provider) Delete(ctx context.Context, key string) types.Result[string] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[string](r.Error)
	}

	resp, err := p.do(ctx, http.MethodDelete, p.remoteURL(key), nil, nil)
	if err != nil {
		return types.Fail[string](fmt.Sprintf("webdav delete failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode < 300 {
		return types.Ok(key)
	}
	return types.Fail[string](fmt.Sprintf("webdav delete failed: HTTP %d", resp.StatusCode))
}

// multistatus 是 PROPFIND 响应里我们关心的最小子集
type multistatus struct {
	XMLName   xml.Name `xml:"multistatus"`
	Responses []struct {
		Href string `xml:"href"`
	} `xml:"response"`
}

// ExistsByPrefix PROPFIND Depth:1 列出前缀所在目录，找同前缀的既有对象
func (p *Provider) ExistsByPrefix(ctx context.Context, prefix string) types.Result[types.Remote] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[types.Remote](r.Error)
	}

	dir := path.Dir(prefix)
	base := path.Base(prefix)

	url := p.remoteURL("")
	if dir != "." {
		url = p.remoteURL(dir) + "/"
	}

	header := http.Header{}
	header.Set("Depth", "1")
	header.Set("Content-Type", "application/xml")
	body := strings.NewReader(`<?xml version="1.0"?><d:propfind xmlns:d="DAV:"><d:prop><d:displayname/></d:prop></d:propfind>`)

	resp, err := p.do(ctx, "PROPFIND", url, body, header)
	if err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("webdav propfind failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.Ok(types.Remote{}) // 目录都不存在 -> 未命中
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return types.Fail[types.Remote](fmt.Sprintf("webdav propfind failed: HTTP %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("webdav propfind read failed: %v", err))
	}

	var ms multistatus
	if err := xml.Unmarshal(raw, &ms); err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("webdav propfind parse failed: %v", err))
	}

	for _, r := range ms.Responses {
		href := r.Href
		if unescaped, err := neturl.PathUnescape(href); err == nil {
			href = unescaped
		}
		name := path.Base(strings.TrimSuffix(href, "/"))
		if name != base && strings.HasPrefix(name, base) {
			key := name
			if dir != "." {
				key = dir + "/" + name
			}
			return types.Ok(types.Remote{URL: p.PublicURL(key), Key: key})
		}
	}
	return types.Ok(types.Remote{})
}

// PublicURL 计算公开访问地址
func (p *Provider) PublicURL(key string) string {
	base := p.cfg["public_url"]
	if base == "" {
		base = p.cfg["url"]
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}

// Dispose 关闭空闲连接
func (p *Provider) Dispose() {
	p.client.CloseIdleConnections()
}
