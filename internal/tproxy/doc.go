// Package tproxy implements the transparent listener for Linux.
//
// It listens with IP_TRANSPARENT and recovers the original destination of
// each redirected TCP connection: from conntrack via SO_ORIGINAL_DST for
// REDIRECT rules, or from the socket's local address for TPROXY rules. The
// destination is then dialed and relayed exactly like a SOCKS5 CONNECT.
//
// On other platforms the listener is stubbed out and returns an error.
package tproxy
