//go:build linux

package tproxy

import (
	"errors"
	"net"
	"net/netip"
	"syscall"
	"testing"
)

// Without a REDIRECT or TPROXY rule, the original destination is simply the
// address the client dialed.
func TestOriginalDstUnredirected(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"127.0.0.1:0", "[::1]:0"} {
		t.Run(addr, func(t *testing.T) {
			t.Parallel()

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				t.Skipf("listen %s: %v", addr, err)
			}
			defer ln.Close()

			c, err := net.Dial("tcp", ln.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			s, err := ln.Accept()
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()

			got, ok := OriginalDst(s)
			if !ok {
				t.Fatal("no original destination")
			}
			if got != netip.MustParseAddrPort(ln.Addr().String()) {
				t.Fatalf("got %s want %s", got, ln.Addr())
			}
		})
	}
}

func TestOriginalDstNonTCP(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	if _, ok := OriginalDst(a); ok {
		t.Fatal("expected no destination for a non-TCP conn")
	}
}

func TestListenTransparentTCP(t *testing.T) {
	t.Parallel()

	ln, err := ListenTransparentTCP("127.0.0.1:0", net.KeepAliveConfig{})
	if errors.Is(err, syscall.EPERM) {
		t.Skip("IP_TRANSPARENT needs CAP_NET_ADMIN")
	}
	if err != nil {
		t.Fatal(err)
	}
	_ = ln.Close()
}
