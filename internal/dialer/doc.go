// Package dialer provides the outbound dialers used by the proxy listeners.
//
// Dialers implement a small interface (DialContext). The direct dialer
// connects to targets itself, optionally resolving names through an
// explicit DNS server. The Shadowsocks dialer connects to a fixed upstream
// server and announces the target in its first encrypted chunk; it also
// implements CipherDialer so the relay can transcode the stream itself.
package dialer
