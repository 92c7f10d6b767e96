// Package vault 是文档库 (本地文件系统) 协作者的具体实现。
//
// 核心只在两条路径上碰它：File 工作项读/删本地源文件，
// 以及下载 / 不支持上传时的「存为附件」兜底。
package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Vault 以某个根目录为界的文件库
// 所有路径参数都是 vault 相对路径，出界的路径一律拒绝。
type Vault struct {
	root          string
	attachmentDir string // 附件落地目录 (相对 root)

	matcher *Matcher
}

// New 打开 (必要时创建) 一个 vault
func New(root, attachmentDir string) (*Vault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	m, err := NewMatcher(root)
	if err != nil {
		return nil, err
	}
	if attachmentDir == "" {
		attachmentDir = "attachments"
	}
	return &Vault{root: root, attachmentDir: attachmentDir, matcher: m}, nil
}

func (v *Vault) Root() string { return v.root }

// abs 把 vault 相对路径转成绝对路径，并挡住路径逃逸
func (v *Vault) abs(rel string) (string, error) {
	p := filepath.Join(v.root, filepath.FromSlash(rel))
	clean := filepath.Clean(p)
	if clean != v.root && !strings.HasPrefix(clean, v.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes vault: %s", rel)
	}
	return clean, nil
}

// Read 读取二进制内容
func (v *Vault) Read(rel string) ([]byte, error) {
	p, err := v.abs(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Exists 检查文件是否存在
func (v *Vault) Exists(rel string) bool {
	p, err := v.abs(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Remove 删除文件 (上传成功后清理本地源用)
// 文件本来就不在时不算错。
func (v *Vault) Remove(rel string) error {
	p, err := v.abs(rel)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// WriteAttachment 把二进制内容写到附件目录下第一个可用的路径
//
// 命名策略: name.ext, name-1.ext, name-2.ext, ...
// 返回实际落地的 vault 相对路径 (斜杠分隔，可直接进 markdown 链接)。
func (v *Vault) WriteAttachment(name string, data []byte) (string, error) {
	base := name
	ext := ""
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		base, ext = name[:i], name[i:]
	}

	for n := 0; n < 10000; n++ {
		candidate := base + ext
		if n > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
		}
		rel := v.attachmentDir + "/" + candidate

		p, err := v.abs(rel)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(p); err == nil {
			continue // 被占了，试下一个编号
		}

		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return "", err
		}
		// 原子写入：先写临时文件再 Rename，保证要么没有、要么完整
		tmp, err := os.CreateTemp(filepath.Dir(p), "uplink-*")
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return "", err
		}
		tmp.Close()
		if err := os.Rename(tmp.Name(), p); err != nil {
			return "", err
		}
		return rel, nil
	}
	return "", fmt.Errorf("no available attachment path for %s", name)
}

// Candidates 遍历整个 vault，返回扩展名命中且没被忽略规则挡掉的文件
// 扫描文档之外批量上传时用 (uplink scan --all)。
func (v *Vault) Candidates(extensions map[string]bool) ([]string, error) {
	var out []string
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(v.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && v.matcher.Matches(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if v.matcher.Matches(rel) {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(rel), "."))
		if extensions[ext] {
			out = append(out, rel)
		}
		return nil
	})
	return out, err
}
