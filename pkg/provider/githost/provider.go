// Package githost 实现基于 Git 托管平台内容 API 的后端 (GitHub 风格)。
//
// 对象以文件形式提交进仓库，公开访问走 raw 或 jsDelivr CDN。
// 所有操作都是内容 API 的 REST 调用，没有本地 git 依赖。
package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"uplink/pkg/provider"
	"uplink/pkg/types"
)

// ID 是注册表里的后端标识符
const ID = "githost"

// 配置字段：
//
//	token     必填，带 repo 写权限的访问令牌
//	owner     必填
//	repo      必填
//	branch    可选，默认 "main"
//	cdn       可选，"jsdelivr" (默认) 或 "raw"
//	api_base  可选，API 基础地址 (默认 GitHub 官方；自建 Gitea 之类可覆盖)

// Provider 实现 provider.Provider
type Provider struct {
	cfg    provider.Config
	client *http.Client
}

func New(ctx context.Context, cfg provider.Config) (provider.Provider, error) {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (p *Provider) CheckConfig(ctx context.Context) types.Result[string] {
	if missing := provider.RequireFields(p.cfg, "token", "owner", "repo"); missing != "" {
		return types.Fail[string]("githost: missing required field: " + missing)
	}
	return types.Ok("githost: config ok (" + p.cfg["owner"] + "/" + p.cfg["repo"] + ")")
}

func (p *Provider) apiBase() string {
	if b := p.cfg["api_base"]; b != "" {
		return strings.TrimSuffix(b, "/")
	}
	return "https://api.github.com"
}

func (p *Provider) branch() string {
	if b := p.cfg["branch"]; b != "" {
		return b
	}
	return "main"
}

// contentsURL 拼内容 API 的地址
func (p *Provider) contentsURL(path string) string {
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		p.apiBase(), p.cfg["owner"], p.cfg["repo"], strings.TrimPrefix(path, "/"))
}

// request 发一个带令牌的 JSON 请求
func (p *Provider) request(ctx context.Context, method, url string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg["token"])
	req.Header.Set("Accept", "application/vnd.github+json")
	return p.client.Do(req)
}

// fileInfo 是内容 API 返回的文件条目 (只取我们关心的字段)
type fileInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
	SHA  string `json:"sha"`
}

// Upload 用 PUT contents API 提交文件
func (p *Provider) Upload(ctx context.Context, blob []byte, key string, onProgress provider.ProgressFunc) types.Result[types.Remote] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[types.Remote](r.Error)
	}

	total := int64(len(blob))
	if onProgress != nil {
		onProgress(0, total)
	}

	payload := map[string]string{
		"message": "uplink: add " + key,
		"content": base64.StdEncoding.EncodeToString(blob),
		"branch":  p.branch(),
	}
	resp, err := p.request(ctx, http.MethodPut, p.contentsURL(key), payload)
	if err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("githost put failed: %v", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		// ok
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// 同名文件已存在。key 是内容哈希派生的，同 key 即同内容，幂等成功。
	default:
		return types.Fail[types.Remote](fmt.Sprintf("githost put failed: HTTP %d", resp.StatusCode))
	}

	if onProgress != nil {
		onProgress(total, total)
	}
	return types.Ok(types.Remote{URL: p.PublicURL(key), Key: key})
}

// lookupSHA 查文件当前的 blob sha (删除时必须带)
func (p *Provider) lookupSHA(ctx context.Context, key string) (string, int, error) {
	resp, err := p.request(ctx, http.MethodGet, p.contentsURL(key)+"?ref="+p.branch(), nil)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, nil
	}
	var info fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", resp.StatusCode, err
	}
	return info.SHA, resp.StatusCode, nil
}

// Delete 先查 sha 再删；文件本来就不在 -> 成功
func (p *Provider) Delete(ctx context.Context, key string) types.Result[string] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[string](r.Error)
	}

	sha, status, err := p.lookupSHA(ctx, key)
	if err != nil {
		return types.Fail[string](fmt.Sprintf("githost lookup failed: %v", err))
	}
	if status == http.StatusNotFound {
		return types.Ok(key) // 目标状态已达成
	}
	if sha == "" {
		return types.Fail[string](fmt.Sprintf("githost lookup failed: HTTP %d", status))
	}

	payload := map[string]string{
		"message": "uplink: remove " + key,
		"sha":     sha,
		"branch":  p.branch(),
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.contentsURL(key), mustJSON(payload))
	if err != nil {
		return types.Fail[string](err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg["token"])
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.Fail[string](fmt.Sprintf("githost delete failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return types.Ok(key)
	}
	return types.Fail[string](fmt.Sprintf("githost delete failed: HTTP %d", resp.StatusCode))
}

// ExistsByPrefix 列出前缀所在目录，找同前缀的文件
func (p *Provider) ExistsByPrefix(ctx context.Context, prefix string) types.Result[types.Remote] {
	if r := p.CheckConfig(ctx); !r.Success {
		return types.Fail[types.Remote](r.Error)
	}

	dir := ""
	base := prefix
	if i := strings.LastIndexByte(prefix, '/'); i >= 0 {
		dir, base = prefix[:i], prefix[i+1:]
	}

	resp, err := p.request(ctx, http.MethodGet, p.contentsURL(dir)+"?ref="+p.branch(), nil)
	if err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("githost list failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return types.Ok(types.Remote{})
	}
	if resp.StatusCode != http.StatusOK {
		return types.Fail[types.Remote](fmt.Sprintf("githost list failed: HTTP %d", resp.StatusCode))
	}

	var entries []fileInfo
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return types.Fail[types.Remote](fmt.Sprintf("githost list parse failed: %v", err))
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name, base) {
			return types.Ok(types.Remote{URL: p.PublicURL(e.Path), Key: e.Path})
		}
	}
	return types.Ok(types.Remote{})
}

// PublicURL 按 CDN 选项构造公开地址
func (p *Provider) PublicURL(key string) string {
	key = strings.TrimPrefix(key, "/")
	if p.cfg["cdn"] == "raw" {
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s",
			p.cfg["owner"], p.cfg["repo"], p.branch(), key)
	}
	return fmt.Sprintf("https://cdn.jsdelivr.net/gh/%s/%s@%s/%s",
		p.cfg["owner"], p.cfg["repo"], p.branch(), key)
}

func (p *Provider) Dispose() {
	p.client.CloseIdleConnections()
}

func mustJSON(v any) io.Reader {
	raw, _ := json.Marshal(v)
	return bytes.NewReader(raw)
}
