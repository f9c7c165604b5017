package socksaddr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// Address type tags.
const (
	AtypIPv4   = txsocks5.ATYPIPv4
	AtypDomain = txsocks5.ATYPDomain
	AtypIPv6   = txsocks5.ATYPIPv6
)

// MaxDomainLen is the longest domain name the one byte length prefix can carry.
const MaxDomainLen = 255

// MaxLen is the longest possible encoded endpoint.
const MaxLen = 1 + 1 + MaxDomainLen + 2

var (
	ErrTruncated          = errors.New("socksaddr: truncated input")
	ErrInvalidAddressType = errors.New("socksaddr: invalid address type")
	ErrEmptyDomain        = errors.New("socksaddr: empty domain")
	ErrDomainTooLong      = errors.New("socksaddr: domain longer than 255 bytes")
)

// Endpoint is an immutable SOCKS5 destination: an IPv4 address, an IPv6
// address or a domain name, plus a port.
type Endpoint struct {
	atyp byte
	addr netip.Addr
	name string
	port uint16
}

// Zero returns the endpoint used in every command reply: 0.0.0.0:0.
func Zero() Endpoint {
	return Endpoint{atyp: AtypIPv4, addr: netip.IPv4Unspecified()}
}

// FromAddrPort returns an IPv4 endpoint for 4-byte addresses and an IPv6
// endpoint for everything else. Zones are dropped.
func FromAddrPort(ap netip.AddrPort) Endpoint {
	a := ap.Addr().WithZone("")
	if a.Is4() {
		return Endpoint{atyp: AtypIPv4, addr: a, port: ap.Port()}
	}
	return Endpoint{atyp: AtypIPv6, addr: a, port: ap.Port()}
}

// Domain returns a domain endpoint. The name is not resolved.
func Domain(name string, port uint16) (Endpoint, error) {
	if name == "" {
		return Endpoint{}, ErrEmptyDomain
	}
	if len(name) > MaxDomainLen {
		return Endpoint{}, ErrDomainTooLong
	}
	return Endpoint{atyp: AtypDomain, name: name, port: port}, nil
}

// Resolve builds an endpoint from a host and port. Numeric IPv4 is tried
// first, then IPv6; anything else becomes a domain endpoint carrying host
// verbatim. DNS resolution is left to the dialer.
func Resolve(host string, port uint16) (Endpoint, error) {
	if a, err := netip.ParseAddr(host); err == nil && a.Is4() {
		return Endpoint{atyp: AtypIPv4, addr: a, port: port}, nil
	}
	if a, err := netip.ParseAddr(host); err == nil && a.Is6() && a.Zone() == "" {
		return Endpoint{atyp: AtypIPv6, addr: a, port: port}, nil
	}
	return Domain(host, port)
}

// ParseHostPort builds an endpoint from a "host:port" dial string.
func ParseHostPort(address string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("socksaddr: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("socksaddr: invalid port %q", portStr)
	}
	return Resolve(host, uint16(port))
}

// Type returns the address type tag.
func (e Endpoint) Type() byte { return e.atyp }

// Addr returns the IP address of an IPv4 or IPv6 endpoint and the invalid
// Addr for a domain endpoint.
func (e Endpoint) Addr() netip.Addr { return e.addr }

// Port returns the port.
func (e Endpoint) Port() uint16 { return e.port }

// IsDomain reports whether e names a host rather than an address.
func (e Endpoint) IsDomain() bool { return e.atyp == AtypDomain }

// Host returns the domain name or the textual IP address.
func (e Endpoint) Host() string {
	if e.atyp == AtypDomain {
		return e.name
	}
	return e.addr.String()
}

// String returns e as a dial string.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host(), strconv.Itoa(int(e.port)))
}

// Len returns the encoded length of e.
func (e Endpoint) Len() int {
	switch e.atyp {
	case AtypIPv4:
		return 1 + net.IPv4len + 2
	case AtypIPv6:
		return 1 + net.IPv6len + 2
	default:
		return 1 + 1 + len(e.name) + 2
	}
}

// AppendTo appends the wire encoding of e to b.
func (e Endpoint) AppendTo(b []byte) []byte {
	b = append(b, e.atyp)
	switch e.atyp {
	case AtypIPv4:
		a4 := e.addr.As4()
		b = append(b, a4[:]...)
	case AtypIPv6:
		a16 := e.addr.As16()
		b = append(b, a16[:]...)
	default:
		b = append(b, byte(len(e.name)))
		b = append(b, e.name...)
	}
	return binary.BigEndian.AppendUint16(b, e.port)
}

// Encode returns the wire encoding of e.
func (e Endpoint) Encode() []byte {
	return e.AppendTo(make([]byte, 0, e.Len()))
}

// Decode parses one endpoint from the front of b and returns it with the
// number of bytes it occupied. On error nothing is consumed: ErrTruncated
// means b is a valid prefix and more bytes are needed.
func Decode(b []byte) (Endpoint, int, error) {
	if len(b) < 1 {
		return Endpoint{}, 0, ErrTruncated
	}

	var e Endpoint
	off := 1
	switch b[0] {
	case AtypIPv4:
		if len(b) < off+net.IPv4len+2 {
			return Endpoint{}, 0, ErrTruncated
		}
		e = Endpoint{atyp: AtypIPv4, addr: netip.AddrFrom4([4]byte(b[off : off+net.IPv4len]))}
		off += net.IPv4len
	case AtypIPv6:
		if len(b) < off+net.IPv6len+2 {
			return Endpoint{}, 0, ErrTruncated
		}
		e = Endpoint{atyp: AtypIPv6, addr: netip.AddrFrom16([16]byte(b[off : off+net.IPv6len]))}
		off += net.IPv6len
	case AtypDomain:
		if len(b) < 2 {
			return Endpoint{}, 0, ErrTruncated
		}
		n := int(b[1])
		if n == 0 {
			return Endpoint{}, 0, ErrEmptyDomain
		}
		off++
		if len(b) < off+n+2 {
			return Endpoint{}, 0, ErrTruncated
		}
		e = Endpoint{atyp: AtypDomain, name: string(b[off : off+n])}
		off += n
	default:
		return Endpoint{}, 0, fmt.Errorf("%w: %#x", ErrInvalidAddressType, b[0])
	}

	e.port = binary.BigEndian.Uint16(b[off:])
	return e, off + 2, nil
}

// ReadFrom reads exactly one encoded endpoint from r.
func ReadFrom(r io.Reader) (Endpoint, error) {
	var buf [MaxLen]byte

	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return Endpoint{}, err
	}

	var need int
	switch buf[0] {
	case AtypIPv4:
		need = 1 + net.IPv4len + 2
	case AtypIPv6:
		need = 1 + net.IPv6len + 2
	case AtypDomain:
		need = 2 + int(buf[1]) + 2
	default:
		return Endpoint{}, fmt.Errorf("%w: %#x", ErrInvalidAddressType, buf[0])
	}

	if _, err := io.ReadFull(r, buf[2:need]); err != nil {
		return Endpoint{}, err
	}

	e, _, err := Decode(buf[:need])
	return e, err
}
