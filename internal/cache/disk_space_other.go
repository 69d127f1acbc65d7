//go:build !unix

package cache

// freeDiskSpace 在非 unix 平台上不可用，TrimToFreeSpace 因此成为空操作。
func freeDiskSpace(string) (int64, bool) {
	return 0, false
}
