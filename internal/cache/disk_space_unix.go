//go:build unix

package cache

import "golang.org/x/sys/unix"

// freeDiskSpace 返回 path 所在文件系统对非特权用户可用的字节数。
func freeDiskSpace(path string) (int64, bool) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, false
	}
	return int64(stat.Bavail) * int64(stat.Bsize), true
}
