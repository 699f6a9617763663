package cache

import "fmt"

// NewStore 按配置的驱动名构建分区存储，CLI 启动时调用一次并整站复用。
func NewStore(driver, basePath string) (Store, error) {
	switch driver {
	case "", "fs":
		return NewFSStore(basePath)
	case "leveldb":
		return NewLevelDBStore(basePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
