package latency

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ProbeICMP measures RTT with ICMP echo requests. It is the fallback for
// endpoints that expose no TCP echo port and requires raw socket privileges.
func ProbeICMP(ctx context.Context, ip net.IP, count int, timeout time.Duration) (*Stats, error) {
	if ip == nil {
		return nil, fmt.Errorf("%w: no IP address", ErrProbeConnection)
	}
	if count <= 0 {
		count = DefaultCount
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	network := "ip4:icmp"
	proto := 1
	echoType := icmp.Type(ipv4.ICMPTypeEcho)
	replyType := icmp.Type(ipv4.ICMPTypeEchoReply)
	if ip.To4() == nil {
		network = "ip6:ipv6-icmp"
		proto = 58
		echoType = icmp.Type(ipv6.ICMPTypeEchoRequest)
		replyType = icmp.Type(ipv6.ICMPTypeEchoReply)
	}

	conn, err := icmp.ListenPacket(network, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProbeConnection, err)
	}
	defer conn.Close()

	id := rand.Intn(0xffff)
	rtts := make([]time.Duration, 0, count)
	failures := 0
	for seq := 1; seq <= count; seq++ {
		if ctx.Err() != nil {
			break
		}
		rtt, ok := icmpPing(conn, ip, id, uint16(seq), echoType, replyType, proto, timeout)
		if !ok {
			failures++
			continue
		}
		rtts = append(rtts, rtt)
	}
	return computeStats(rtts, failures), nil
}

func icmpPing(conn *icmp.PacketConn, ip net.IP, id int, seq uint16, echoType, replyType icmp.Type, proto int, timeout time.Duration) (time.Duration, bool) {
	msg := icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   id,
			Seq:  int(seq),
			Data: []byte("advspeedtest"),
		},
	}
	payload, err := msg.Marshal(nil)
	if err != nil {
		return 0, false
	}
	dst := &net.IPAddr{IP: ip}
	start := time.Now()
	if _, err := conn.WriteTo(payload, dst); err != nil {
		return 0, false
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, false
	}
	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, false
		}
		if ipAddr, ok := peer.(*net.IPAddr); ok && ipAddr.IP != nil && !ipAddr.IP.Equal(ip) {
			continue
		}
		parsed, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}
		if parsed.Type != replyType {
			continue
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok {
			continue
		}
		if echo.ID == id && echo.Seq == int(seq) {
			return time.Since(start), true
		}
	}
}
