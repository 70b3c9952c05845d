package transport

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func socketControl(iface *net.Interface) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				sockErr = errors.Wrap(err, "SO_REUSEADDR")
				return
			}
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
				sockErr = errors.Wrap(err, "SO_BROADCAST")
				return
			}
			// Broadcast replies only reach us on the right link when bound
			// to the device.
			if iface != nil {
				if err := unix.BindToDevice(int(fd), iface.Name); err != nil {
					sockErr = errors.Wrap(err, "SO_BINDTODEVICE")
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
