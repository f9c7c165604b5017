package dialer

import (
	"context"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport/shadowsocks"
	"github.com/die-net/socksrelay/internal/aead"
	"github.com/die-net/socksrelay/internal/socksaddr"
	"github.com/die-net/socksrelay/internal/testutil"
)

type ssRequest struct {
	target  socksaddr.Endpoint
	initial []byte
}

// startOutlineServer runs an independent Shadowsocks server that reads the
// target address plus initialLen bytes, reports them and then echoes.
func startOutlineServer(t *testing.T, ctx context.Context, method, password string, initialLen int) (string, <-chan ssRequest) {
	t.Helper()

	key, err := shadowsocks.NewEncryptionKey(method, password)
	if err != nil {
		t.Fatal(err)
	}

	reqs := make(chan ssRequest, 1)
	ln, _ := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		r := shadowsocks.NewReader(c, key)
		target, err := socksaddr.ReadFrom(r)
		if err != nil {
			close(reqs)
			return
		}
		initial := make([]byte, initialLen)
		if _, err := io.ReadFull(r, initial); err != nil {
			close(reqs)
			return
		}
		reqs <- ssRequest{target: target, initial: initial}

		_, _ = io.Copy(shadowsocks.NewWriter(c, key), r)
	})
	t.Cleanup(func() { _ = ln.Close() })

	return ln.Addr().String(), reqs
}

func TestShadowsocksDialContext(t *testing.T) {
	t.Parallel()

	for _, name := range aead.MethodNames() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			server, reqs := startOutlineServer(t, ctx, name, "secret", 0)
			m, err := aead.LookupMethod(name)
			if err != nil {
				t.Fatal(err)
			}
			d, err := NewShadowsocksDialer(Config{DialTimeout: 2 * time.Second}, server, m, "secret")
			if err != nil {
				t.Fatal(err)
			}

			conn, err := d.DialContext(ctx, "tcp", "example.com:443")
			if err != nil {
				t.Fatal(err)
			}
			defer conn.Close()

			testutil.AssertEcho(t, conn, conn, []byte("through the tunnel"))

			req, ok := <-reqs
			if !ok {
				t.Fatal("server failed to read request")
			}
			if req.target.String() != "example.com:443" || !req.target.IsDomain() {
				t.Fatalf("got target %s", req.target)
			}
		})
	}
}

func TestShadowsocksDialCipherInitial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	initial := []byte("GET / HTTP/1.0\r\n\r\n")
	server, reqs := startOutlineServer(t, ctx, "aes-256-gcm", "pw", len(initial))

	m, err := aead.LookupMethod("aes-256-gcm")
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewShadowsocksDialer(Config{}, server, m, "pw")
	if err != nil {
		t.Fatal(err)
	}

	target := socksaddr.FromAddrPort(netip.MustParseAddrPort("192.0.2.7:8080"))
	conn, c, err := d.DialCipher(ctx, target, initial)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if c.Method().Name != "aes-256-gcm" {
		t.Fatalf("got method %s", c.Method().Name)
	}

	req, ok := <-reqs
	if !ok {
		t.Fatal("server failed to read request")
	}
	if req.target != target {
		t.Fatalf("got target %s want %s", req.target, target)
	}
	if string(req.initial) != string(initial) {
		t.Fatalf("got initial %q", req.initial)
	}

	// The returned cipher keeps working for the rest of the stream.
	ac := aead.NewConn(conn, c)
	testutil.AssertEcho(t, ac, ac, []byte("more"))
}

func TestShadowsocksDialUnreachable(t *testing.T) {
	t.Parallel()

	m, err := aead.LookupMethod(aead.DefaultMethod)
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewShadowsocksDialer(Config{DialTimeout: time.Second}, testutil.ClosedPort(t), m, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.DialContext(context.Background(), "tcp", "example.com:80"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := d.DialContext(context.Background(), "udp", "example.com:80"); err == nil {
		t.Fatal("expected error for udp")
	}
}
