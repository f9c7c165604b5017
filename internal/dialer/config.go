package dialer

import (
	"net"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// DialTimeout bounds DNS lookup plus TCP connect. Zero means no limit
	// beyond the caller's context.
	DialTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// DNSServer, if set, is a "host[:port]" DNS server used to resolve
	// domain targets instead of the system resolver.
	DNSServer string

	Logger *zap.Logger
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
