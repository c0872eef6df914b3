//go:build !linux

package engine

import "net"

func tcpRetransmits(conn *net.TCPConn) (uint64, bool) {
	return 0, false
}
