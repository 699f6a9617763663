package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rules 描述路由分类表与安装清单，来自 RulesPath 指向的 YAML 文件。
// 模式均为正则表达式字符串，按声明顺序匹配，首个命中生效；
// 解析后整个结构只读，运行期不再变更。
type Rules struct {
	// NetworkFirst 优先级最高：认证/会话/实时数据端点必须先走网络。
	NetworkFirst []string `yaml:"network_first"`
	// CacheFirst 覆盖字体、图片、脚本等按扩展名或 CDN 域名识别的静态资产。
	CacheFirst []string `yaml:"cache_first"`
	// CrossOriginAllow 列出允许持久化的跨源地址（字体/资产 CDN）。
	CrossOriginAllow []string `yaml:"cross_origin_allow"`
	// Manifest 是安装阶段预热静态分区的固定 URL 列表（相对应用域）。
	Manifest []string `yaml:"manifest"`
}

// LoadRules 读取 YAML 规则文件；path 为空时返回内置默认表。
func LoadRules(path string) (*Rules, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRules(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取规则文件失败: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("解析规则文件失败: %w", err)
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// Validate 保证规则表可用：清单不能为空，且根路径必须在列（离线兜底依赖它）。
func (r *Rules) Validate() error {
	if r == nil {
		return fmt.Errorf("规则为空")
	}
	if len(r.Manifest) == 0 {
		return newFieldError("Rules.Manifest", "不能为空")
	}
	hasRoot := false
	for _, entry := range r.Manifest {
		if strings.TrimSpace(entry) == "/" {
			hasRoot = true
			break
		}
	}
	if !hasRoot {
		return newFieldError("Rules.Manifest", "必须包含根路径 /")
	}
	return nil
}

// DefaultRules 返回与 Tasky 应用打包一致的内置规则表。
func DefaultRules() *Rules {
	return &Rules{
		NetworkFirst: []string{
			`cloud\.appwrite\.io`,
			`/v1/(?:account|realtime|databases)`,
			`/session`,
		},
		CacheFirst: []string{
			`\.(?:png|jpe?g|gif|svg|webp|ico)$`,
			`\.(?:css|js|mjs|map)$`,
			`\.(?:woff2?|ttf|otf|eot)$`,
			`fonts\.(?:googleapis|gstatic)\.com`,
			`cdn\.jsdelivr\.net`,
		},
		CrossOriginAllow: []string{
			`fonts\.(?:googleapis|gstatic)\.com`,
			`cdn\.jsdelivr\.net`,
		},
		Manifest: []string{
			"/",
			"/tasks",
			"/notes",
			"/focus",
			"/manifest.webmanifest",
			"/icons/icon-192.png",
			"/icons/icon-512.png",
		},
	}
}
