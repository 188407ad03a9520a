//go:build unix

package tailer

import (
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// linkCount returns the number of hard links of the open file. An unlinked
// file stays readable through its handle but reports zero links.
func linkCount(f afero.File) (uint64, error) {
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok {
		// Not backed by a descriptor (in-memory filesystems): never unlinked.
		return 1, nil
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(fd.Fd()), &st); err != nil {
		return 0, err
	}
	return uint64(st.Nlink), nil
}
