//go:build !linux

package tproxy

import (
	"errors"
	"net"
	"net/netip"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = false

var errUnsupported = errors.New("transparent proxy is only supported on linux")

func ListenTransparentTCP(_ string, _ net.KeepAliveConfig) (net.Listener, error) {
	return nil, errUnsupported
}

func OriginalDst(_ net.Conn) (netip.AddrPort, bool) {
	return netip.AddrPort{}, false
}
