package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport/shadowsocks"

	"github.com/die-net/socksrelay/internal/aead"
	"github.com/die-net/socksrelay/internal/dialer"
	"github.com/die-net/socksrelay/internal/relay"
	"github.com/die-net/socksrelay/internal/socks5"
	"github.com/die-net/socksrelay/internal/socksaddr"
	"github.com/die-net/socksrelay/internal/testutil"
)

func startShadowsocks(t *testing.T, ctx context.Context, cfg Config, method, password string) string {
	t.Helper()

	m, err := aead.LookupMethod(method)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: false})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	srv := NewShadowsocksServer(ctx, cfg, m, password)
	go func() { _ = srv.Serve(ln) }()

	return ln.Addr().String()
}

// A SOCKS5 listener with an ss:// upstream talking to our own Shadowsocks
// listener: the full client-mode and server-mode path.
func TestSOCKS5ThroughShadowsocks(t *testing.T) {
	t.Parallel()

	for _, method := range aead.MethodNames() {
		t.Run(method, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)

			serverCfg := directConfig(t)
			ssAddr := startShadowsocks(t, ctx, serverCfg, method, "tunnel-pw")

			up, err := dialer.New(dialer.Config{DialTimeout: 2 * time.Second}, "ss://"+method+":tunnel-pw@"+ssAddr)
			if err != nil {
				t.Fatal(err)
			}
			clientCfg := Config{NegotiationTimeout: 2 * time.Second, Dialer: up, Arena: relay.NewArena()}
			socksAddr := startSOCKS5(t, ctx, clientCfg)

			c, err := net.Dial("tcp", socksAddr)
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()
			_ = c.SetDeadline(time.Now().Add(5 * time.Second))
			if err := socks5.ClientDial(c, socks5.Auth{}, echoLn.Addr().String()); err != nil {
				t.Fatal(err)
			}

			testutil.AssertEcho(t, c, c, []byte("hello over shadowsocks"))
			big := bytes.Repeat([]byte("0123456789abcdef"), 4_000)
			testutil.AssertEcho(t, c, c, big)

			// Half-close travels through both relays; the echo server
			// then closes its side, which ends the stream here.
			if err := c.(*net.TCPConn).CloseWrite(); err != nil {
				t.Fatal(err)
			}
			if rest, err := io.ReadAll(c); err != nil || len(rest) != 0 {
				t.Fatalf("got %q, %v after half-close", rest, err)
			}
			_ = c.Close()

			testutil.WaitFor(t, "pairs to close", func() bool {
				return clientCfg.Arena.Len() == 0 && serverCfg.Arena.Len() == 0
			})
		})
	}
}

// An independent Shadowsocks client sends the target header and payload in
// one write to our listener.
func TestShadowsocksServerOutlineClient(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	ssAddr := startShadowsocks(t, ctx, directConfig(t), "chacha20-ietf-poly1305", "outline")

	key, err := shadowsocks.NewEncryptionKey("chacha20-ietf-poly1305", "outline")
	if err != nil {
		t.Fatal(err)
	}

	c, err := net.Dial("tcp", ssAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))

	target, err := socksaddr.ParseHostPort(echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("ping")
	if _, err := shadowsocks.NewWriter(c, key).Write(append(target.Encode(), payload...)); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(payload))
	if _, err := io.ReadFull(shadowsocks.NewReader(c, key), got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestShadowsocksServerWrongPassword(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	ssAddr := startShadowsocks(t, ctx, directConfig(t), aead.DefaultMethod, "right")

	m, err := aead.LookupMethod(aead.DefaultMethod)
	if err != nil {
		t.Fatal(err)
	}
	d, err := dialer.NewShadowsocksDialer(dialer.Config{}, ssAddr, m, "wrong")
	if err != nil {
		t.Fatal(err)
	}
	c, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))

	if n, err := c.Read(make([]byte, 1)); n != 0 || err == nil {
		t.Fatalf("got n=%d err=%v want closed", n, err)
	}
}
