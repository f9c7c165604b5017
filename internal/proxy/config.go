package proxy

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/die-net/socksrelay/internal/dialer"
	"github.com/die-net/socksrelay/internal/relay"
	"github.com/die-net/socksrelay/internal/socks5"
)

type Config struct {
	// NegotiationTimeout bounds reading the SOCKS5 handshake or the
	// Shadowsocks target header. The dial is bounded by the Dialer.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	Dialer dialer.Dialer

	// Auth enables username/password authentication on the SOCKS5 listener.
	Auth socks5.Auth

	// Relay is the template for every pair. Cipher and CiphertextSide are
	// filled in per connection.
	Relay relay.Options

	// Arena holds the live pairs of every listener sharing this Config.
	Arena *relay.Arena

	Logger *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) arena() *relay.Arena {
	if c.Arena == nil {
		return relay.NewArena()
	}
	return c.Arena
}
