// Package socksaddr encodes and decodes SOCKS5 address-type-tagged endpoints.
//
// The wire form is [ATYP][ADDR][PORT] with PORT a big-endian uint16. Domain
// addresses carry an additional one byte length prefix. The same encoding is
// used by SOCKS5 requests and replies and by the Shadowsocks target header.
package socksaddr
