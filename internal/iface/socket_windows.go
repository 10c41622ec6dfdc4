//go:build windows

package iface

import "golang.org/x/sys/windows"

// setSocketOptions sets SO_REUSEADDR. Windows has no SO_REUSEPORT
// equivalent; SO_REUSEADDR alone is sufficient for multiple listeners on
// the same multicast port, matching the teacher's windows build tag split.
func setSocketOptions(fd uintptr) error {
	return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
}
