package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	defaultLookupTimeout = 5 * time.Second
	minCacheTTL          = 5 * time.Second
	maxCacheTTL          = 10 * time.Minute
)

// Resolver looks up A then AAAA records on one DNS server and caches the
// answers for their TTL.
type Resolver struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
	cache  *cache.Cache
	log    *zap.Logger
}

// NewResolver returns a resolver for server ("host" or "host:port"; the
// port defaults to 53).
func NewResolver(server string, timeout time.Duration, log *zap.Logger) (*Resolver, error) {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(strings.Trim(server, "[]"), "53")
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		return nil, fmt.Errorf("invalid dns server %q: %w", server, err)
	}
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Resolver{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
		cache:  cache.New(maxCacheTTL, time.Minute),
		log:    log,
	}, nil
}

// Server returns the server address in "host:port" form.
func (r *Resolver) Server() string { return r.server }

// LookupHost returns the IPv4 addresses of host followed by its IPv6
// addresses. A name with no addresses yields a *net.DNSError with
// IsNotFound set.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	name := dns.Fqdn(strings.ToLower(host))
	if v, ok := r.cache.Get(name); ok {
		return v.([]netip.Addr), nil
	}

	var (
		addrs    []netip.Addr
		ttl      = maxCacheTTL
		firstErr error
	)
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, t, err := r.query(ctx, name, qtype)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(found) > 0 {
			addrs = append(addrs, found...)
			ttl = min(ttl, t)
		}
	}

	if len(addrs) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, Server: r.server, IsNotFound: true}
	}

	r.cache.Set(name, addrs, max(ttl, minCacheTTL))
	if ce := r.log.Check(zap.DebugLevel, "dns resolved"); ce != nil {
		ce.Write(zap.String("host", host), zap.Int("addrs", len(addrs)), zap.Duration("ttl", ttl))
	}
	return addrs, nil
}

func (r *Resolver) query(ctx context.Context, name string, qtype uint16) ([]netip.Addr, time.Duration, error) {
	req := &dns.Msg{MsgHdr: dns.MsgHdr{RecursionDesired: true}}
	req.SetQuestion(name, qtype)

	resp, _, err := r.udp.ExchangeContext(ctx, req, r.server)
	if err == nil && resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, req, r.server)
	}
	if err != nil {
		var ne net.Error
		timeout := errors.As(err, &ne) && ne.Timeout()
		return nil, 0, &net.DNSError{Err: err.Error(), Name: strings.TrimSuffix(name, "."), Server: r.server, IsTimeout: timeout}
	}

	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, 0, nil
	default:
		return nil, 0, &net.DNSError{Err: dns.RcodeToString[resp.Rcode], Name: strings.TrimSuffix(name, "."), Server: r.server}
	}

	var (
		addrs []netip.Addr
		ttl   = maxCacheTTL
	)
	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ip = v.A
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ip = v.AAAA
			}
		}
		a, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addrs = append(addrs, a.Unmap())
		ttl = min(ttl, time.Duration(rr.Header().Ttl)*time.Second)
	}
	return addrs, ttl, nil
}
