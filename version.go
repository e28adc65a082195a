package main

import (
	"fmt"
	"strings"

	"github.com/epm-hub/pad-engine/internal/archive"
	"github.com/epm-hub/pad-engine/internal/version"
)

// printVersion 输出注入的版本、提交信息以及引擎类型与可识别的归档扩展名。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "engine: %s\n", version.EngineType)
	fmt.Fprintf(stdOut, "formats: %s\n", strings.Join(archive.Extensions(), " "))
}
