package iface

import (
	"context"
	"fmt"
	"net"
	"syscall"

	beaconerrors "github.com/joshuafuller/beacon/internal/errors"
)

// listenMulticast opens the shared wildcard socket a family's multicast
// membership is later joined on (spec §4.5: one socket per family, joined
// per interface via Manager.join). SO_REUSEADDR/SO_REUSEPORT are set
// through the platform-specific setSocketOptions so a second beacon
// process on the same host can bind the same port, matching the teacher's
// UDPv4Transport.
func listenMulticast(network string, port int) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: controlSetReuse}
	conn, err := lc.ListenPacket(context.Background(), network, fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, &beaconerrors.NetworkError{Operation: "listen " + network, Err: err}
	}
	return conn, nil
}

func controlSetReuse(_, _ string, c syscall.RawConn) error {
	var setErr error
	err := c.Control(func(fd uintptr) {
		setErr = setSocketOptions(fd)
	})
	if err != nil {
		return err
	}
	return setErr
}
