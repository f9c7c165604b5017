package proxy

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestProxyProtocolListener(t *testing.T) {
	t.Parallel()

	inner, err := ListenTCP("tcp", "127.0.0.1:0", net.KeepAliveConfig{Enable: true})
	if err != nil {
		t.Fatal(err)
	}
	ln := ProxyProtocolListener(inner, time.Second)
	defer ln.Close()

	type accepted struct {
		remote string
		data   []byte
		err    error
	}
	result := make(chan accepted, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			result <- accepted{err: err}
			return
		}
		defer c.Close()
		remote := c.RemoteAddr().String()
		data, err := io.ReadAll(c)
		if err == nil {
			_, err = c.Write([]byte("bye"))
		}
		if err == nil {
			err = c.(interface{ CloseWrite() error }).CloseWrite()
		}
		result <- accepted{remote: remote, data: data, err: err}
	}()

	c, err := net.Dial("tcp", inner.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(3 * time.Second))

	if _, err := c.Write([]byte("PROXY TCP4 192.0.2.10 127.0.0.1 40000 1080\r\npayload")); err != nil {
		t.Fatal(err)
	}
	if err := c.(*net.TCPConn).CloseWrite(); err != nil {
		t.Fatal(err)
	}

	reply, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}

	got := <-result
	if got.err != nil {
		t.Fatal(got.err)
	}
	if got.remote != "192.0.2.10:40000" {
		t.Fatalf("got remote %s", got.remote)
	}
	if string(got.data) != "payload" {
		t.Fatalf("got data %q", got.data)
	}
	if string(reply) != "bye" {
		t.Fatalf("got reply %q", reply)
	}
}
