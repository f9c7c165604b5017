package tproxy

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/die-net/socksrelay/internal/dialer"
	"github.com/die-net/socksrelay/internal/proxy"
	"github.com/die-net/socksrelay/internal/relay"
	"github.com/die-net/socksrelay/internal/testutil"
)

func TestServerRelaysToOriginalDst(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	echoAddr := netip.MustParseAddrPort(echoLn.Addr().String())

	d, err := dialer.NewDirectDialer(dialer.Config{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	arena := relay.NewArena()
	srv := NewServer(ctx, proxy.Config{Dialer: d, Arena: arena})
	srv.originalDst = func(net.Conn) (netip.AddrPort, bool) { return echoAddr, true }

	ln, err := proxy.ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() { _ = srv.Serve(ln) }()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))

	testutil.AssertEcho(t, c, c, []byte("redirected"))

	_ = c.Close()
	testutil.WaitFor(t, "pair to close", func() bool { return arena.Len() == 0 })
}

func TestServerWithoutOriginalDst(t *testing.T) {
	t.Parallel()

	srv := NewServer(context.Background(), proxy.Config{})
	srv.originalDst = func(net.Conn) (netip.AddrPort, bool) { return netip.AddrPort{}, false }

	a, b := net.Pipe()
	defer b.Close()
	if err := srv.handle(a, srv.log); err != errNoOriginalDst {
		t.Fatalf("got %v want %v", err, errNoOriginalDst)
	}
	if _, err := b.Write([]byte{1}); err == nil {
		t.Fatal("conn left open")
	}
}
