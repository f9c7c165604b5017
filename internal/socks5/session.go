package socks5

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/die-net/socksrelay/internal/socksaddr"
)

var (
	// ErrNoAcceptableMethod means none of the client's methods is allowed.
	ErrNoAcceptableMethod = errors.New("socks5: no acceptable authentication method")

	// ErrAuthFailed means the client sent the wrong credentials.
	ErrAuthFailed = errors.New("socks5: authentication failed")

	// ErrCommandNotSupported is returned for BIND, UDP ASSOCIATE and unknown commands.
	ErrCommandNotSupported = errors.New("socks5: command not supported")

	// ErrRequestPending is returned when Advance is called while a CONNECT
	// is waiting for Connected or Failed.
	ErrRequestPending = errors.New("socks5: request already pending")

	// ErrHandshakeDone is returned when Advance is called after the session
	// reached Established or Closed.
	ErrHandshakeDone = errors.New("socks5: handshake finished")
)

// State is the position of a Session in the handshake.
type State uint8

const (
	StateAwaitingHello State = iota
	StateAwaitingAuth
	StateAwaitingCommand
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHello:
		return "awaiting-hello"
	case StateAwaitingAuth:
		return "awaiting-auth"
	case StateAwaitingCommand:
		return "awaiting-command"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Auth is the server's authentication policy. A zero Auth accepts clients
// that offer "no authentication"; otherwise clients must send these
// credentials.
type Auth struct {
	Username string
	Password string
}

// Required reports whether username/password authentication is enforced.
func (a Auth) Required() bool {
	return a.Username != "" || a.Password != ""
}

// Step is the outcome of one Advance call.
type Step struct {
	// Consumed is the number of input bytes used.
	Consumed int

	// Reply must be written to the client before anything else happens.
	Reply []byte

	// Close means the client's write side must be shut down after Reply
	// is sent.
	Close bool

	// Request is set once a CONNECT request has been parsed. The caller
	// dials Request.Target and finishes with Connected or Failed.
	Request *Request
}

// Session is the per-connection SOCKS5 handshake state. It performs no I/O
// and is not safe for concurrent use.
type Session struct {
	auth    Auth
	state   State
	method  byte
	pending bool
}

// NewSession returns a session in StateAwaitingHello.
func NewSession(auth Auth) *Session {
	return &Session{auth: auth, method: MethodNoAcceptable}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Method returns the negotiated authentication method, or
// MethodNoAcceptable before negotiation.
func (s *Session) Method() byte { return s.method }

// Advance decodes at most one message from the front of b. An incomplete
// message returns ErrNeedMore with nothing consumed. Any other error is
// fatal to the connection, and the returned Step may still carry a reply
// to send before closing.
func (s *Session) Advance(b []byte) (Step, error) {
	switch s.state {
	case StateAwaitingHello:
		hello, n, err := decodeHello(b)
		if err != nil {
			return s.fail(err)
		}
		s.method = s.selectMethod(hello.Methods)
		step := Step{Consumed: n, Reply: helloReply(s.method)}
		switch s.method {
		case MethodNone:
			s.state = StateAwaitingCommand
		case MethodUsernamePassword:
			s.state = StateAwaitingAuth
		default:
			s.state = StateClosed
			step.Close = true
			return step, ErrNoAcceptableMethod
		}
		return step, nil

	case StateAwaitingAuth:
		req, n, err := decodeAuth(b)
		if err != nil {
			return s.fail(err)
		}
		if !s.checkCredentials(req) {
			s.state = StateClosed
			return Step{Consumed: n, Reply: authReply(false), Close: true}, ErrAuthFailed
		}
		s.state = StateAwaitingCommand
		return Step{Consumed: n, Reply: authReply(true)}, nil

	case StateAwaitingCommand:
		if s.pending {
			return Step{}, ErrRequestPending
		}
		req, n, err := decodeRequest(b)
		switch {
		case errors.Is(err, socksaddr.ErrInvalidAddressType):
			return s.reject(RepAddressNotSupported, err)
		case errors.Is(err, socksaddr.ErrEmptyDomain):
			return s.reject(RepServerFailure, err)
		case err != nil:
			return s.fail(err)
		}
		if req.Cmd != CmdConnect {
			step, _ := s.reject(RepCommandNotSupported, nil)
			step.Consumed = n
			return step, fmt.Errorf("%w: %#x", ErrCommandNotSupported, req.Cmd)
		}
		s.pending = true
		return Step{Consumed: n, Request: &req}, nil

	default:
		return Step{}, ErrHandshakeDone
	}
}

// Connected finishes a pending CONNECT with success and returns the reply.
// The session is Established afterwards.
func (s *Session) Connected() []byte {
	s.pending = false
	s.state = StateEstablished
	return commandReply(RepSuccess)
}

// Failed finishes a pending CONNECT with reply code rep and returns the
// reply. The session is Closed afterwards and the client's write side
// should be shut down once the reply is sent.
func (s *Session) Failed(rep byte) []byte {
	s.pending = false
	s.state = StateClosed
	return commandReply(rep)
}

// fail handles decode errors. ErrNeedMore leaves the session untouched;
// anything else closes it without a reply.
func (s *Session) fail(err error) (Step, error) {
	if errors.Is(err, ErrNeedMore) {
		return Step{}, err
	}
	s.state = StateClosed
	return Step{Close: true}, err
}

func (s *Session) reject(rep byte, err error) (Step, error) {
	s.state = StateClosed
	return Step{Reply: commandReply(rep), Close: true}, err
}

func (s *Session) selectMethod(offered []byte) byte {
	if s.auth.Required() {
		if bytes.IndexByte(offered, MethodUsernamePassword) >= 0 {
			return MethodUsernamePassword
		}
		return MethodNoAcceptable
	}
	if bytes.IndexByte(offered, MethodNone) >= 0 {
		return MethodNone
	}
	return MethodNoAcceptable
}

func (s *Session) checkCredentials(req AuthRequest) bool {
	u := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.auth.Username))
	p := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.auth.Password))
	return u&p == 1
}
