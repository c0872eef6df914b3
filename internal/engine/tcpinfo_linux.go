//go:build linux

package engine

import (
	"net"

	"golang.org/x/sys/unix"
)

// tcpRetransmits reads the kernel's total retransmit counter for the
// connection. Best effort: a closed socket simply reports nothing.
func tcpRetransmits(conn *net.TCPConn) (uint64, bool) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, false
	}
	var info *unix.TCPInfo
	var sockErr error
	controlErr := raw.Control(func(fd uintptr) {
		info, sockErr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	})
	if controlErr != nil || sockErr != nil || info == nil {
		return 0, false
	}
	return uint64(info.Total_retrans), true
}
