package tproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/die-net/socksrelay/internal/proxy"
	"github.com/die-net/socksrelay/internal/relay"
	"github.com/die-net/socksrelay/internal/socksaddr"
)

var errNoOriginalDst = errors.New("original destination unavailable")

type Server struct {
	ctx   context.Context
	cfg   proxy.Config
	arena *relay.Arena
	log   *zap.Logger

	// originalDst is OriginalDst outside of tests.
	originalDst func(net.Conn) (netip.AddrPort, bool)
}

func NewServer(ctx context.Context, cfg proxy.Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Arena == nil {
		cfg.Arena = relay.NewArena()
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{ctx: ctx, cfg: cfg, arena: cfg.Arena, log: log, originalDst: OriginalDst}
}

func (s *Server) Serve(ln net.Listener) error {
	return proxy.Serve(ln, s.log, "tproxy", s.handle)
}

func (s *Server) handle(conn net.Conn, log *zap.Logger) error {
	dst, ok := s.originalDst(conn)
	if !ok {
		_ = conn.Close()
		return errNoOriginalDst
	}
	target := socksaddr.FromAddrPort(dst)

	if ce := log.Check(zap.DebugLevel, "connect"); ce != nil {
		ce.Write(zap.Stringer("target", target))
	}

	peer, opts, err := proxy.DialTarget(s.ctx, s.cfg.Dialer, target, nil, s.cfg.Relay)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("connect %s: %w", target, err)
	}

	opts.Logger = log
	return s.arena.Relay(s.ctx, conn, peer, opts)
}
