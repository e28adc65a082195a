package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入，默认使用开发占位符。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// EngineType 标识包引擎类型，供诊断接口与日志输出。
const EngineType = "epm-package-engine"

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("pad-engine %s (%s)", Version, Commit)
}
