//go:build !unix

package filex

import "os"

// Inode is not tracked on this platform.
func Inode(info os.FileInfo) uint64 {
	return 0
}
