package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// JobFields 提供任务类型与缓存键字段，供引擎任务日志复用。
func JobFields(kind, cacheKey string) logrus.Fields {
	return logrus.Fields{
		"action":    "job",
		"job_kind":  kind,
		"cache_key": cacheKey,
	}
}

// RequestFields 提供请求 ID、包文件与命中状态字段，供 HTTP 请求日志复用。
func RequestFields(requestID, packageFile, route string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"package":    packageFile,
		"route":      route,
		"status":     status,
	}
}
