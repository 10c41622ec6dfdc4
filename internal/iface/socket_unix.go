//go:build !windows

package iface

import "golang.org/x/sys/unix"

// setSocketOptions sets SO_REUSEADDR and SO_REUSEPORT so multiple mDNS
// responders can share port 5353 on the same host, the same posture the
// teacher's transport takes on unix.
func setSocketOptions(fd uintptr) error {
	if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}
