package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 origin/策略/命中状态字段，供代理请求日志复用。
func RequestFields(origin, domain, disposition string, navigation, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"origin":      origin,
		"domain":      domain,
		"disposition": disposition,
		"navigation":  navigation,
		"cache_hit":   cacheHit,
	}
}

// LifecycleFields 提供生命周期事件的公共字段（阶段 + 分区名）。
func LifecycleFields(phase, partition string) logrus.Fields {
	return logrus.Fields{
		"action":    "lifecycle",
		"phase":     phase,
		"partition": partition,
	}
}
