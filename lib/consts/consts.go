// Package consts houses some constants needed across surge
package consts

import (
	"fmt"
	"runtime"
)

// Version contains the current semantic version of surge.
const Version = "0.4.0"

// UserAgent returns the default User-Agent header sent with every request.
func UserAgent() string {
	return fmt.Sprintf("surge/%s (https://github.com/liuxd6825/surge)", Version)
}

// FullVersion returns the version with the Go toolchain and platform appended.
func FullVersion() string {
	return fmt.Sprintf("%s (%s, %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
