package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socksrelay/internal/socksaddr"
)

// ClientDial performs the client side of the handshake on conn and asks the
// server to CONNECT to address ("host:port").
func ClientDial(conn net.Conn, auth Auth, address string) error {
	target, err := socksaddr.ParseHostPort(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	if err := ClientNegotiate(conn, auth); err != nil {
		return err
	}
	return ClientConnect(conn, target)
}

// ClientNegotiate offers "no authentication" and, when auth carries
// credentials, username/password.
func ClientNegotiate(conn net.Conn, auth Auth) error {
	methods := []byte{MethodNone}
	if auth.Required() {
		methods = append(methods, MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case MethodNone:
		return nil
	case MethodUsernamePassword:
		if !auth.Required() {
			return errors.New("server requires username/password")
		}

		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return ErrAuthFailed
		}
		return nil
	case MethodNoAcceptable:
		return ErrNoAcceptableMethod
	default:
		return fmt.Errorf("unsupported negotiation method: %#x", neg.Method)
	}
}

// ClientConnect sends a CONNECT request for target and waits for the reply.
// A non-success reply is returned as *ReplyError.
func ClientConnect(conn net.Conn, target socksaddr.Endpoint) error {
	var addr []byte
	switch target.Type() {
	case socksaddr.AtypIPv4:
		a4 := target.Addr().As4()
		addr = a4[:]
	case socksaddr.AtypIPv6:
		a16 := target.Addr().As16()
		addr = a16[:]
	default:
		addr = []byte(target.Host())
	}
	port := binary.BigEndian.AppendUint16(nil, target.Port())

	if _, err := txsocks5.NewRequest(CmdConnect, target.Type(), addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != RepSuccess {
		return &ReplyError{Rep: rep.Rep}
	}
	return nil
}
