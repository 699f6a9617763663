package cache

import (
	"fmt"
	"strings"
)

// Names 按 {product}-{purpose}-v{version} 约定生成分区名。
// 激活阶段以 Prefix 识别本产品的分区，版本不匹配的视为陈旧。
type Names struct {
	Product string
	Version string
}

// Static 返回当前版本静态分区名，例如 tasky-static-v1.1.0。
func (n Names) Static() string {
	return fmt.Sprintf("%s-static-v%s", n.Product, n.Version)
}

// Dynamic 返回当前版本动态分区名。
func (n Names) Dynamic() string {
	return fmt.Sprintf("%s-dynamic-v%s", n.Product, n.Version)
}

// Prefix 返回产品命名空间前缀，带尾部连字符。
func (n Names) Prefix() string {
	return n.Product + "-"
}

// Stale 判断一个分区名是否属于本产品但不再是当前版本。
// 无产品前缀的名字（其他程序的目录）永远不会被认定为陈旧。
func (n Names) Stale(name string) bool {
	if !strings.HasPrefix(name, n.Prefix()) {
		return false
	}
	return name != n.Static() && name != n.Dynamic()
}
