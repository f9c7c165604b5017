package socks5

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ReplyForDialError picks the CmdAck reply code for an outbound dial error.
func ReplyForDialError(err error) byte {
	if err == nil {
		return RepSuccess
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return RepConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return RepNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return RepHostUnreachable
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return RepNotAllowed
	case errors.Is(err, context.DeadlineExceeded):
		return RepHostUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return RepHostUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return RepHostUnreachable
	}
	return RepServerFailure
}

// ReplyError is a non-success CmdAck received from a SOCKS5 server.
type ReplyError struct {
	Rep byte
}

func (e *ReplyError) Error() string {
	return "socks5: " + ReplyText(e.Rep)
}

// ReplyText describes a reply code.
func ReplyText(rep byte) string {
	switch rep {
	case RepSuccess:
		return "succeeded"
	case RepServerFailure:
		return "general server failure"
	case RepNotAllowed:
		return "connection not allowed by ruleset"
	case RepNetworkUnreachable:
		return "network unreachable"
	case RepHostUnreachable:
		return "host unreachable"
	case RepConnectionRefused:
		return "connection refused"
	case RepTTLExpired:
		return "TTL expired"
	case RepCommandNotSupported:
		return "command not supported"
	case RepAddressNotSupported:
		return "address type not supported"
	default:
		return fmt.Sprintf("reply code %#x", rep)
	}
}
