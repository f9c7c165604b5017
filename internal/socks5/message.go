package socks5

import (
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socksrelay/internal/socksaddr"
)

const (
	// Version is the SOCKS protocol version byte.
	Version = txsocks5.Ver

	// UserPassVersion is the RFC 1929 sub-negotiation version byte.
	UserPassVersion = txsocks5.UserPassVer
)

// Authentication methods.
const (
	MethodNone             = txsocks5.MethodNone
	MethodUsernamePassword = txsocks5.MethodUsernamePassword
	MethodNoAcceptable     = txsocks5.MethodUnsupportAll
)

// Commands.
const (
	CmdConnect = txsocks5.CmdConnect
	CmdBind    = txsocks5.CmdBind
	CmdUDP     = txsocks5.CmdUDP
)

// Reply codes.
const (
	RepSuccess             = txsocks5.RepSuccess
	RepServerFailure       = txsocks5.RepServerFailure
	RepNotAllowed          = txsocks5.RepNotAllowed
	RepNetworkUnreachable  = txsocks5.RepNetworkUnreachable
	RepHostUnreachable     = txsocks5.RepHostUnreachable
	RepConnectionRefused   = txsocks5.RepConnectionRefused
	RepTTLExpired          = txsocks5.RepTTLExpired
	RepCommandNotSupported = txsocks5.RepCommandNotSupported
	RepAddressNotSupported = txsocks5.RepAddressNotSupported
)

// ErrNeedMore is returned by decoders when the input is a valid but
// incomplete prefix of a message. Nothing is consumed.
var ErrNeedMore = errors.New("socks5: need more data")

// VersionError reports an unexpected version byte. No reply can be sent.
type VersionError struct {
	Want, Got byte
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("socks5: unsupported version %#x (want %#x)", e.Got, e.Want)
}

// Hello is the method selection message: VER NMETHODS METHODS.
type Hello struct {
	Methods []byte
}

// AuthRequest is the RFC 1929 request: VER ULEN UNAME PLEN PASSWD.
type AuthRequest struct {
	Username string
	Password string
}

// Request is a command request: VER CMD RSV ATYP DST.ADDR DST.PORT.
type Request struct {
	Cmd    byte
	Target socksaddr.Endpoint
}

func decodeHello(b []byte) (Hello, int, error) {
	if len(b) < 1 {
		return Hello{}, 0, ErrNeedMore
	}
	if b[0] != Version {
		return Hello{}, 0, &VersionError{Want: Version, Got: b[0]}
	}
	if len(b) < 2 {
		return Hello{}, 0, ErrNeedMore
	}
	n := 2 + int(b[1])
	if len(b) < n {
		return Hello{}, 0, ErrNeedMore
	}
	return Hello{Methods: append([]byte(nil), b[2:n]...)}, n, nil
}

func decodeAuth(b []byte) (AuthRequest, int, error) {
	if len(b) < 1 {
		return AuthRequest{}, 0, ErrNeedMore
	}
	if b[0] != UserPassVersion {
		return AuthRequest{}, 0, &VersionError{Want: UserPassVersion, Got: b[0]}
	}
	if len(b) < 2 {
		return AuthRequest{}, 0, ErrNeedMore
	}
	ulen := int(b[1])
	if len(b) < 2+ulen+1 {
		return AuthRequest{}, 0, ErrNeedMore
	}
	plen := int(b[2+ulen])
	n := 2 + ulen + 1 + plen
	if len(b) < n {
		return AuthRequest{}, 0, ErrNeedMore
	}
	return AuthRequest{
		Username: string(b[2 : 2+ulen]),
		Password: string(b[3+ulen : n]),
	}, n, nil
}

// decodeRequest returns socksaddr errors other than ErrTruncated unchanged
// so the caller can pick a reply code.
func decodeRequest(b []byte) (Request, int, error) {
	if len(b) < 1 {
		return Request{}, 0, ErrNeedMore
	}
	if b[0] != Version {
		return Request{}, 0, &VersionError{Want: Version, Got: b[0]}
	}
	if len(b) < 4 {
		return Request{}, 0, ErrNeedMore
	}
	ep, n, err := socksaddr.Decode(b[3:])
	if errors.Is(err, socksaddr.ErrTruncated) {
		return Request{}, 0, ErrNeedMore
	}
	if err != nil {
		return Request{Cmd: b[1]}, 0, err
	}
	return Request{Cmd: b[1], Target: ep}, 3 + n, nil
}

func helloReply(method byte) []byte {
	return []byte{Version, method}
}

func authReply(ok bool) []byte {
	status := txsocks5.UserPassStatusFailure
	if ok {
		status = txsocks5.UserPassStatusSuccess
	}
	return []byte{UserPassVersion, status}
}

// commandReply always reports the zero endpoint as the bound address.
func commandReply(rep byte) []byte {
	z := socksaddr.Zero()
	return z.AppendTo([]byte{Version, rep, 0x00})
}
