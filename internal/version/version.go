package version

import "fmt"

// Version/Commit 可在构建时通过 -ldflags 注入。
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full 返回 CLI --version 输出的版本串。
func Full() string {
	return fmt.Sprintf("pixelhub %s (%s)", Version, Commit)
}

// UserAgent 是抓取上游图片时默认携带的 User-Agent。
func UserAgent() string {
	return "pixelhub/" + Version
}
