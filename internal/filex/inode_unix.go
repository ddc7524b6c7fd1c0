//go:build unix

package filex

import (
	"os"
	"syscall"
)

// Inode returns the inode number behind info, or 0 if unavailable.
func Inode(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return 0
}
