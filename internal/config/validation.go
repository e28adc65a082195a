package config

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
		}
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "不能为负数")
	}
	if strings.TrimSpace(g.PackagesPath) == "" {
		return newFieldError("Global.PackagesPath", "不能为空")
	}
	if strings.TrimSpace(g.CachePath) == "" {
		return newFieldError("Global.CachePath", "不能为空")
	}
	if samePath(g.PackagesPath, g.CachePath) {
		return newFieldError("Global.CachePath", "不能与 PackagesPath 相同")
	}
	if g.MaxConcurrentJobs <= 0 {
		return newFieldError("Global.MaxConcurrentJobs", "必须大于 0")
	}
	if g.ReadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ReadTimeout", "必须大于 0")
	}
	if g.WriteTimeout.DurationValue() <= 0 {
		return newFieldError("Global.WriteTimeout", "必须大于 0")
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
