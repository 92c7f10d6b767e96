// Package scan 从原始文本里提取 markdown / wiki 风格的链接目标。
//
// 这里刻意不做完整的 markdown 解析：我们只需要链接目标，
// 一次从左到右的扫描 + 括号深度计数就够了。
// 失败模式：不配对的括号序列直接跳过落到下一个字符，扫描器永不报错。
package scan

import (
	"net/url"
	"regexp"
	"strings"
)

// Link 是扫描出来的一条链接
// Start/End 是整个匹配 (含括号) 在原文里的字节区间 [Start, End)。
type Link struct {
	Start  int
	End    int
	Target string
}

// bareURLRe 捕捉没写成括号形式的裸 URL (第二遍兜底扫描用)
var bareURLRe = regexp.MustCompile(`https?://[^\s<>()\[\]"']+`)

// FindLinks 单遍扫描提取链接目标
//
// 规则：
//  1. 遇到 '[' 尝试匹配配对的 [...] (链接文本自身可以再嵌套方括号，
//     所以必须做深度计数)，后面必须紧跟配对的 (...)
//  2. includeWiki 打开时，额外识别 [[...]]，做法是直接找下一个 "]]"
func FindLinks(text string, includeWiki bool) []Link {
	var links []Link

	i := 0
	for i < len(text) {
		if text[i] != '[' {
			i++
			continue
		}

		// --- Wiki 风格 [[target]] / [[target|alias]] ---
		if includeWiki && i+1 < len(text) && text[i+1] == '[' {
			rel := strings.Index(text[i+2:], "]]")
			if rel >= 0 {
				inner := text[i+2 : i+2+rel]
				target := inner
				// 别名写法只取 | 前面的目标部分
				if p := strings.IndexByte(inner, '|'); p >= 0 {
					target = inner[:p]
				}
				links = append(links, Link{
					Start:  i,
					End:    i + 2 + rel + 2,
					Target: strings.TrimSpace(target),
				})
				i = i + 2 + rel + 2
				continue
			}
			// 没有闭合的 ]] -> 落到下一个字符
			i++
			continue
		}

		// --- Markdown 风格 [text](target) ---
		// 1. 匹配配对的 [...]
		depth := 1
		j := i + 1
		for j < len(text) && depth > 0 {
			switch text[j] {
			case '[':
				depth++
			case ']':
				depth--
			}
			j++
		}
		if depth != 0 || j >= len(text) || text[j] != '(' {
			// 不配对，或者后面不是 '(' -> 不是链接
			i++
			continue
		}

		// 2. 匹配配对的 (...)
		pdepth := 1
		k := j + 1
		for k < len(text) && pdepth > 0 {
			switch text[k] {
			case '(':
				pdepth++
			case ')':
				pdepth--
			}
			k++
		}
		if pdepth != 0 {
			i++
			continue
		}

		target := text[j+1 : k-1]
		// 去掉可选的 title 部分: (url "title")
		if sp := strings.IndexAny(target, " \t"); sp >= 0 {
			target = target[:sp]
		}
		links = append(links, Link{Start: i, End: k, Target: strings.TrimSpace(target)})
		i = k
	}

	return links
}

// OutboundCandidates 找出「该上传的本地文件引用」
//
// 条件：目标不是 http(s):// 开头，且扩展名在 supported 集合里。
// wiki 链接也算 (本地附件常用 [[f.png]] 写法)。
func OutboundCandidates(text string, supported map[string]bool) []Link {
	var out []Link
	for _, l := range FindLinks(text, true) {
		t := strings.ToLower(l.Target)
		if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
			continue
		}
		if hasSupportedExtension(l.Target, supported) {
			out = append(out, l)
		}
	}
	return out
}

// InboundCandidates 找出「挂在我们公开域名上的远端链接」(下载/删除候选)
//
// 两遍扫描：先扫括号链接，再用裸 URL 正则兜底；按目标值去重。
func InboundCandidates(text string, publicDomain string) []Link {
	seen := make(map[string]bool)
	var out []Link

	appendIfOurs := func(l Link) {
		if seen[l.Target] {
			return
		}
		if !hostMatches(l.Target, publicDomain) {
			return
		}
		seen[l.Target] = true
		out = append(out, l)
	}

	for _, l := range FindLinks(text, true) {
		appendIfOurs(l)
	}
	for _, m := range bareURLRe.FindAllStringIndex(text, -1) {
		appendIfOurs(Link{Start: m[0], End: m[1], Target: text[m[0]:m[1]]})
	}

	return out
}

// hasSupportedExtension 检查目标路径的扩展名是否在集合里
// 集合的 key 统一为不带点的小写形式 ("png")。
func hasSupportedExtension(target string, supported map[string]bool) bool {
	dot := strings.LastIndexByte(target, '.')
	if dot < 0 || dot == len(target)-1 {
		return false
	}
	ext := strings.ToLower(target[dot+1:])
	return supported[ext]
}

// hostMatches 判断链接的主机名是否就是配置的公开域名
// 解析失败的目标直接视为不匹配，不报错。
func hostMatches(target, domain string) bool {
	if domain == "" {
		return false
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return false
	}
	return strings.EqualFold(u.Hostname(), domain)
}
