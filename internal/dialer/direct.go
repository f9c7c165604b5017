package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// DirectDialer connects to targets itself.
type DirectDialer struct {
	cfg      Config
	resolver *Resolver
}

// NewDirectDialer returns a DirectDialer. A non-empty cfg.DNSServer routes
// name lookups through a Resolver.
func NewDirectDialer(cfg Config) (*DirectDialer, error) {
	d := &DirectDialer{cfg: cfg}
	if cfg.DNSServer != "" {
		r, err := NewResolver(cfg.DNSServer, cfg.DialTimeout, cfg.logger())
		if err != nil {
			return nil, err
		}
		d.resolver = r
	}
	return d, nil
}

func (f *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if f.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.DialTimeout)
		defer cancel()
	}

	conn, err := f.dial(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}

func (f *DirectDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{}

	if f.resolver == nil {
		return dd.DialContext(ctx, network, address)
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return dd.DialContext(ctx, network, address)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}

	addrs, err := f.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, a := range addrs {
		conn, err := dd.DialContext(ctx, network, netip.AddrPortFrom(a, uint16(port)).String())
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
