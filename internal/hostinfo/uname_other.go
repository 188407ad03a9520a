//go:build !unix

package hostinfo

import (
	"errors"
	"runtime"
)

func systemUname() (sysname, release string, err error) {
	return runtime.GOOS, "", errors.New("uname not supported on " + runtime.GOOS)
}
