// Package hostinfo collects the static description of the machine that is
// attached to every notification.
package hostinfo

import (
	"fmt"
	"os"
)

// Unknown replaces any value that could not be determined.
const Unknown = "UNKNOWN"

// Info describes the local host.
type Info struct {
	Hostname  string `json:"hostname"`
	OSType    string `json:"os_type"`
	OSRelease string `json:"os_release"`
}

var (
	hostname = os.Hostname
	uname    = systemUname
)

// Collect gathers host information. It never fails; missing values are Unknown.
func Collect() Info {
	info := Info{Hostname: Unknown, OSType: Unknown, OSRelease: Unknown}

	if h, err := hostname(); err == nil && h != "" {
		info.Hostname = h
	}
	if sysname, release, err := uname(); err == nil {
		if sysname != "" {
			info.OSType = sysname
		}
		if release != "" {
			info.OSRelease = release
		}
	}

	return info
}

// String renders the info as the block included in notification bodies.
func (i Info) String() string {
	return fmt.Sprintf("Hostname: %s\nOS release: %s\nOS type: %s\n", i.Hostname, i.OSRelease, i.OSType)
}
