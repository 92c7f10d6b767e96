package vault

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Matcher 封装了扫描时的忽略逻辑
// 判断 vault 里的某个路径要不要进候选列表。
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 初始化忽略匹配器
// rootPath: vault 根目录（用于查找 .uplinkignore 文件）
func NewMatcher(rootPath string) (*Matcher, error) {
	// 1. 系统级默认忽略规则 (Hardcoded Defaults)
	// 无条件生效，避免把元数据和敏感配置扫进上传候选
	defaultRules := []string{
		// --- 关键系统目录 ---
		".uplink", // 引擎自己的状态目录
		".git",    // Git 仓库数据

		// --- 安全与配置 ---
		"config.yaml", // 防止 Access Key 泄露
		".env",        // 防止环境变量文件泄露

		// --- 常见垃圾文件 ---
		".DS_Store", // macOS
		"Thumbs.db", // Windows
	}

	var ignorer *gitignore.GitIgnore
	var err error

	// 2. 用户自定义规则: .uplinkignore (gitignore 语法)
	ignoreFilePath := filepath.Join(rootPath, ".uplinkignore")

	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		// 文件内容和默认规则合并编译
		ignorer, err = gitignore.CompileIgnoreFileAndLines(ignoreFilePath, defaultRules...)
	} else {
		ignorer = gitignore.CompileIgnoreLines(defaultRules...)
	}

	if err != nil {
		return nil, err
	}

	return &Matcher{ignorer: ignorer}, nil
}

// Matches 检查给定路径是否命中忽略规则
// path: 相对 vault 根目录的相对路径 (例如 "assets/a.png")
func (m *Matcher) Matches(path string) bool {
	return m.ignorer.MatchesPath(path)
}
