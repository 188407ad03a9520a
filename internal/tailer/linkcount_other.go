//go:build !unix

package tailer

import "github.com/spf13/afero"

// linkCount cannot observe unlink-while-open here; deletion is detected
// through directory events only.
func linkCount(f afero.File) (uint64, error) {
	return 1, nil
}
