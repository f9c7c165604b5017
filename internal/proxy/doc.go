// Package proxy implements the listener side: the SOCKS5 server, the
// Shadowsocks server, and shared plumbing such as keepalive and PROXY
// protocol listeners, the accept loop and target dialing.
//
// Every accepted connection ends up as a pair in a relay.Arena once its
// target has been dialed.
package proxy
