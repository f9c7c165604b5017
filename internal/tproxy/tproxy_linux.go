//go:build linux

package tproxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/die-net/socksrelay/internal/proxy"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// ip6tSoOriginalDst is IP6T_SO_ORIGINAL_DST from linux/netfilter_ipv6/ip6_tables.h.
const ip6tSoOriginalDst = 80

// ListenTransparentTCP listens on addr with IP_TRANSPARENT (and
// IPV6_TRANSPARENT for IPv6 sockets) so the socket can accept connections
// steered to it by iptables/nftables TPROXY rules. REDIRECT rules work
// without it.
//
// IP_TRANSPARENT requires CAP_NET_ADMIN.
func ListenTransparentTCP(addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			if network == "tcp6" {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1)
				return
			}
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tproxy %s: %w", addr, err)
	}
	return &proxy.KeepAliveListener{Listener: ln, KeepAliveConfig: keepAliveConfig}, nil
}

// OriginalDst returns the destination the client originally connected to.
//
// Connections NATed by a REDIRECT rule carry it in conntrack, read with
// SO_ORIGINAL_DST. Connections steered by a TPROXY rule keep it as their
// local address.
func OriginalDst(c net.Conn) (netip.AddrPort, bool) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return netip.AddrPort{}, false
	}

	if ap, ok := conntrackDst(tc); ok {
		return ap, true
	}
	return localAddrPort(tc)
}

func conntrackDst(tc *net.TCPConn) (netip.AddrPort, bool) {
	rc, err := tc.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, false
	}
	local, ok := localAddrPort(tc)
	if !ok {
		return netip.AddrPort{}, false
	}

	var (
		ap    netip.AddrPort
		found bool
	)
	_ = rc.Control(func(fd uintptr) {
		if local.Addr().Is4() {
			// The kernel fills a sockaddr_in, which fits in the 16 bytes of
			// an IPv6Mreq.
			mreq, err := unix.GetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IP, unix.SO_ORIGINAL_DST)
			if err != nil {
				return
			}
			raw := mreq.Multiaddr
			port := binary.BigEndian.Uint16(raw[2:4])
			ap = netip.AddrPortFrom(netip.AddrFrom4([4]byte(raw[4:8])), port)
			found = true
			return
		}

		// sockaddr_in6 fits in the IPv6MTUInfo returned for this option.
		info, err := unix.GetsockoptIPv6MTUInfo(int(fd), unix.IPPROTO_IPV6, ip6tSoOriginalDst)
		if err != nil {
			return
		}
		var pb [2]byte
		binary.NativeEndian.PutUint16(pb[:], info.Addr.Port)
		port := binary.BigEndian.Uint16(pb[:])
		ap = netip.AddrPortFrom(netip.AddrFrom16(info.Addr.Addr).Unmap(), port)
		found = true
	})
	return ap, found
}

func localAddrPort(tc *net.TCPConn) (netip.AddrPort, bool) {
	la, ok := tc.LocalAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ap := la.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
}
