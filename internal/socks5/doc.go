// Package socks5 implements the server side of the SOCKS5 handshake (RFC 1928)
// with optional username/password authentication (RFC 1929).
//
// The protocol logic is a byte-oriented state machine ([Session]) that never
// performs I/O: each call to [Session.Advance] consumes at most one complete
// message and returns the reply to send. [ServerHandshake] drives a Session
// over a blocking net.Conn until a CONNECT request is ready to be dialed.
//
// Wire constants come from github.com/txthinking/socks5, which also backs the
// client helpers used to talk to SOCKS5 servers.
package socks5
