package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/die-net/socksrelay/internal/aead"
	"github.com/die-net/socksrelay/internal/socksaddr"
)

// ShadowsocksDialer reaches every target through one Shadowsocks server.
type ShadowsocksDialer struct {
	server   string
	method   aead.Method
	password string
	direct   *DirectDialer
}

// NewShadowsocksDialer returns a dialer for the server at address.
func NewShadowsocksDialer(cfg Config, address string, method aead.Method, password string) (*ShadowsocksDialer, error) {
	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}
	return &ShadowsocksDialer{
		server:   address,
		method:   method,
		password: password,
		direct:   direct,
	}, nil
}

// Server returns the upstream server address.
func (d *ShadowsocksDialer) Server() string { return d.server }

// Method returns the AEAD method used with the server.
func (d *ShadowsocksDialer) Method() aead.Method { return d.method }

// DialCipher connects to the server and writes target followed by initial
// as the first encrypted chunk.
func (d *ShadowsocksDialer) DialCipher(ctx context.Context, target socksaddr.Endpoint, initial []byte) (net.Conn, *aead.Cipher, error) {
	c, err := aead.NewCipher(d.method, d.password)
	if err != nil {
		return nil, nil, err
	}

	conn, err := d.direct.DialContext(ctx, "tcp", d.server)
	if err != nil {
		return nil, nil, fmt.Errorf("shadowsocks server: %w", err)
	}

	hdr := target.AppendTo(make([]byte, 0, target.Len()+len(initial)))
	hdr = append(hdr, initial...)
	wire, err := c.Encrypt(nil, hdr)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
		defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
	}
	if _, err := conn.Write(wire); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("shadowsocks write target %s: %w", target, err)
	}
	return conn, c, nil
}

// DialContext returns a connection that encrypts and decrypts transparently.
func (d *ShadowsocksDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("shadowsocks dial %s %s: unsupported network", network, address)
	}

	target, err := socksaddr.ParseHostPort(address)
	if err != nil {
		return nil, err
	}

	conn, c, err := d.DialCipher(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return aead.NewConn(conn, c), nil
}
