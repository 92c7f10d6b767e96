package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"uplink/pkg/progress"
	"uplink/pkg/provider"
	"uplink/pkg/types"
)

// deriveKey 由内容哈希推导对象 Key
// 去重约定：key = <sha256 hex>.<ext>，去重前缀 = key 去掉扩展名。
// 同内容必然同 key，所以上传天然幂等。
func deriveKey(data []byte, ext string) (key, prefix string) {
	sum := sha256.Sum256(data)
	prefix = hex.EncodeToString(sum[:])
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return prefix, prefix
	}
	return prefix + "." + ext, prefix
}

// keyFromLink 从文档里的远端链接反推对象 Key (最后一段路径)
func keyFromLink(link string) string {
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		return strings.TrimPrefix(path.Base(u.Path), "/")
	}
	return path.Base(link)
}

// prefixFromKey 去掉 Key 的扩展名，得到去重前缀
func prefixFromKey(key string) string {
	base := key
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

func mdLink(name, target string) string {
	return "[" + name + "](" + target + ")"
}

// currentProvider 按配置拿后端实例并做本地配置校验
func (e *Engine) currentProvider(ctx context.Context) (provider.Provider, string) {
	p, err := e.registry.Get(ctx, e.settings.ProviderID(), e.settings.ProviderConfig())
	if err != nil {
		return nil, err.Error()
	}
	if chk := p.CheckConfig(ctx); !chk.Success {
		return nil, chk.Error
	}
	return p, ""
}

// runUpload 文件上传全流程：兜底 -> 去重 -> 传输 -> 占位符结算
func (e *Engine) runUpload(ctx context.Context, it types.WorkItem) Settlement {
	s := Settlement{ID: it.ID, Kind: it.Kind, Bytes: int64(len(it.Data))}
	ext := strings.ToLower(strings.TrimPrefix(it.Extension, "."))

	// 扩展名不在自动上传名单里：存为本地附件 (not-supported 兜底)
	// 没有 vault 时兜底无处可落，直接判失败，绝不偷偷改走上传
	if !e.settings.AutoUploadExtensions()[ext] {
		if e.vault == nil {
			return e.settleError(s, it, "⚠️",
				fmt.Sprintf("extension %q not enabled for upload and no vault configured", ext))
		}
		rel, err := e.vault.WriteAttachment(it.Name, it.Data)
		if err != nil {
			return e.settleError(s, it, "⚠️", err.Error())
		}
		e.mutator.Resolve(it.ID, mdLink(it.Name, rel))
		s.Status = types.StatusSucceeded
		s.Remote = types.Remote{Key: rel}
		return s
	}

	p, errMsg := e.currentProvider(ctx)
	if p == nil {
		return e.settleError(s, it, "⚠️", errMsg)
	}

	key, prefix := deriveKey(it.Data, ext)

	// 去重：本地缓存 -> (同前缀并发合并) 远端前缀查询 -> 真上传
	// 同批里两份相同内容只发一次传输，靠 singleflight 按前缀合并。
	if e.settings.SkipDuplicates() {
		if remote, ok := e.dedup.Get(prefix); ok {
			return e.settleUploadHit(s, it, remote, true)
		}

		uploaded := false
		v, err, _ := e.flight.Do(prefix, func() (any, error) {
			// 前一班 flight 可能刚把结果放进缓存
			if remote, ok := e.dedup.Get(prefix); ok {
				return remote, nil
			}
			if res := p.ExistsByPrefix(ctx, prefix); provider.Found(res) {
				e.dedup.Set(prefix, res.Data)
				return res.Data, nil
			}
			uploaded = true
			res := e.transfer(ctx, p, it, key)
			if !res.Success {
				return nil, errors.New(res.Error)
			}
			e.dedup.Set(prefix, res.Data)
			return res.Data, nil
		})
		if err != nil {
			return e.settleError(s, it, "⚠️", err.Error())
		}
		// fn 只在第一个调用者身上执行；uploaded=false 的都是去重命中
		return e.settleUploadHit(s, it, v.(types.Remote), !uploaded)
	}

	res := e.transfer(ctx, p, it, key)
	if !res.Success {
		return e.settleError(s, it, "⚠️", res.Error)
	}
	e.dedup.Set(prefix, res.Data)
	return e.settleUploadHit(s, it, res.Data, false)
}

// transfer 带进度上报的真·上传
func (e *Engine) transfer(ctx context.Context, p provider.Provider, it types.WorkItem, key string) types.Result[types.Remote] {
	e.progress.Start(it.ID, it.Kind, int64(len(it.Data)))
	defer e.progress.Finish(it.ID)
	deb := progress.NewDebouncer(e.debounce)
	defer deb.Stop()

	return p.Upload(ctx, it.Data, key, func(loaded, _ int64) {
		e.progress.Update(it.ID, loaded)
		deb.Call(func() {
			if rec, ok := e.progress.Snapshot(it.ID); ok {
				e.mutator.UpdateStatus(it.ID, fmt.Sprintf("⏳ %d%%", int(rec.Percent)))
			}
		})
	})
}

// settleUploadHit 以既有/新建的远端对象结算一次上传
// 去重命中的条目同样算 "远端落定"，删本地源文件对它们一样生效。
func (e *Engine) settleUploadHit(s Settlement, it types.WorkItem, remote types.Remote, hit bool) Settlement {
	e.mutator.Resolve(it.ID, mdLink(it.Name, remote.URL))
	s.Status = types.StatusSucceeded
	s.Remote = remote
	s.DedupHit = hit

	// 远端落定后才动本地源文件
	if e.settings.DeleteLocalAfterUpload() && it.LocalPath != "" && e.vault != nil {
		if err := e.vault.Remove(it.LocalPath); err != nil {
			e.log.Warn("delete local source failed",
				zap.String("path", it.LocalPath), zap.Error(err))
		}
	}
	if e.debug.Enabled {
		e.log.Debug("upload settled",
			zap.String("id", it.ID.String()),
			zap.String("key", remote.Key),
			zap.Bool("dedup_hit", hit))
	}
	return s
}

// runDelete 删除远端对象，占位符退化为纯文本 (显示文字保留)
// 对象本来就不存在时后端会报成功，这里无需特判。
func (e *Engine) runDelete(ctx context.Context, it types.WorkItem) Settlement {
	s := Settlement{ID: it.ID, Kind: it.Kind}

	p, errMsg := e.currentProvider(ctx)
	if p == nil {
		return e.settleError(s, it, "⚠️", errMsg)
	}

	key := it.RemoteKey
	if key == "" {
		key = keyFromLink(it.RemoteLink)
	}

	res := p.Delete(ctx, key)
	if !res.Success {
		return e.settleError(s, it, "⚠️", res.Error)
	}

	e.dedup.Delete(prefixFromKey(key))

	// 链接退化成纯文本：选区文字优先，没有就用显示名
	display := it.SelectedText
	if display == "" {
		display = it.Name
	}
	e.mutator.Resolve(it.ID, display)
	s.Status = types.StatusSucceeded
	s.Remote = types.Remote{Key: key}
	return s
}

// runDownload 拉远端文件进 vault，并把链接改写为本地附件路径
func (e *Engine) runDownload(ctx context.Context, it types.WorkItem) Settlement {
	s := Settlement{ID: it.ID, Kind: it.Kind}
	if e.vault == nil {
		return e.settleError(s, it, "⚠️", "no vault configured")
	}

	// 刚下载过的内容直接用缓存副本
	if data, ok := e.blobs.Get(it.RemoteURL); ok {
		return e.settleDownload(s, it, data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, it.RemoteURL, nil)
	if err != nil {
		return e.settleError(s, it, "⚠️", err.Error())
	}
	resp, err := e.httpc.Do(req)
	if err != nil {
		return e.settleError(s, it, "⚠️", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return e.settleError(s, it, "⚠️", fmt.Sprintf("download failed: HTTP %d", resp.StatusCode))
	}

	e.progress.Start(it.ID, it.Kind, resp.ContentLength)
	defer e.progress.Finish(it.ID)
	deb := progress.NewDebouncer(e.debounce)
	defer deb.Stop()

	data, err := e.readAll(it.ID, resp.Body, deb)
	if err != nil {
		return e.settleError(s, it, "⚠️", err.Error())
	}
	e.blobs.Set(it.RemoteURL, data)
	return e.settleDownload(s, it, data)
}

// settleDownload 把下载到的内容落进 vault 并改写链接
func (e *Engine) settleDownload(s Settlement, it types.WorkItem, data []byte) Settlement {
	s.Bytes = int64(len(data))

	name := it.Name
	if name == "" {
		name = keyFromLink(it.RemoteURL)
	}
	rel, err := e.vault.WriteAttachment(name, data)
	if err != nil {
		return e.settleError(s, it, "⚠️", err.Error())
	}

	e.mutator.Resolve(it.ID, mdLink(name, rel))
	s.Status = types.StatusSucceeded
	s.Remote = types.Remote{Key: rel, URL: it.RemoteURL}
	return s
}

// readAll 分块读响应体，边读边喂进度
func (e *Engine) readAll(id types.ItemID, r io.Reader, deb *progress.Debouncer) ([]byte, error) {
	var out []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			e.progress.Update(id, int64(len(out)))
			loaded := int64(len(out))
			deb.Call(func() {
				if rec, ok := e.progress.Snapshot(id); ok && rec.TotalBytes > 0 {
					e.mutator.UpdateStatus(id, fmt.Sprintf("⬇️ %d%%", int(rec.Percent)))
				} else {
					e.mutator.UpdateStatus(id, fmt.Sprintf("⬇️ %d KB", loaded/1024))
				}
			})
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// settleError 失败结算：占位符换成可见的错误文案
func (e *Engine) settleError(s Settlement, it types.WorkItem, glyph, msg string) Settlement {
	e.mutator.ResolveError(it.ID, it.Name, glyph, msg)
	s.Status = types.StatusFailed
	s.Error = msg
	e.log.Warn("work item failed",
		zap.String("id", it.ID.String()),
		zap.String("kind", string(it.Kind)),
		zap.String("error", msg))
	return s
}
