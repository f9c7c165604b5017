package dialer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/die-net/socksrelay/internal/aead"
	"github.com/die-net/socksrelay/internal/socksaddr"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// CipherDialer is a Dialer whose connections carry a Shadowsocks AEAD
// stream. DialCipher returns the raw connection with its cipher context,
// after target and initial have been sent as the first encrypted chunk.
type CipherDialer interface {
	Dialer
	DialCipher(ctx context.Context, target socksaddr.Endpoint, initial []byte) (net.Conn, *aead.Cipher, error)
}

// New parses upstream and constructs the appropriate outbound Dialer.
//
// Supported schemes:
//   - direct://
//   - ss://method:password@host:port
//   - ss://BASE64(method:password)@host:port (SIP002)
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid URL: path should be empty")
	}

	switch u.Scheme {
	case "":
		return nil, errors.New("invalid url: missing scheme")
	case "direct":
		d, err := NewDirectDialer(cfg)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "ss":
		if u.Hostname() == "" || u.Port() == "" {
			return nil, errors.New("invalid url: ss upstream needs host:port")
		}
		method, password, err := parseShadowsocksUserinfo(u.User)
		if err != nil {
			return nil, err
		}
		d, err := NewShadowsocksDialer(cfg, u.Host, method, password)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
}

func parseShadowsocksUserinfo(ui *url.Userinfo) (aead.Method, string, error) {
	if ui == nil {
		return aead.Method{}, "", errors.New("invalid url: ss upstream needs method and password")
	}

	name := ui.Username()
	password, ok := ui.Password()
	if !ok {
		decoded, err := decodeBase64(name)
		if err != nil {
			return aead.Method{}, "", fmt.Errorf("invalid url: userinfo: %w", err)
		}
		name, password, ok = strings.Cut(decoded, ":")
		if !ok {
			return aead.Method{}, "", errors.New("invalid url: userinfo should be method:password")
		}
	}
	if password == "" {
		return aead.Method{}, "", errors.New("invalid url: empty ss password")
	}

	method, err := aead.LookupMethod(name)
	if err != nil {
		return aead.Method{}, "", err
	}
	return method, password, nil
}

func decodeBase64(s string) (string, error) {
	s = strings.TrimRight(s, "=")
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return string(b), nil
		}
	}
	return "", errors.New("not method:password or base64")
}
