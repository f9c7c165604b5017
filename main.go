package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksrelay/internal/aead"
	"github.com/die-net/socksrelay/internal/dialer"
	"github.com/die-net/socksrelay/internal/logging"
	"github.com/die-net/socksrelay/internal/proxy"
	"github.com/die-net/socksrelay/internal/relay"
	"github.com/die-net/socksrelay/internal/socks5"
	"github.com/die-net/socksrelay/internal/tproxy"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	socksListen   string
	socksUsername string
	socksPassword string

	ssListen   string
	ssMethod   string
	ssPassword string

	tproxyListen string

	upstream  string
	dnsServer string

	debugListen        string
	dialTimeout        time.Duration
	negotiationTimeout time.Duration
	tcpKeepAlive       string
	proxyProtocol      bool
	relayBufferSize    int

	logLevel   string
	logFile    string
	logMaxSize int

	configFile string
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := pflag.NewFlagSet("socksrelay", pflag.ContinueOnError)

	fs.StringVar(&o.socksListen, "socks5-listen", "", "SOCKS5 proxy listen address (e.g. 127.0.0.1:1080). Empty disables.")
	fs.StringVar(&o.socksUsername, "socks5-username", "", "Require SOCKS5 username/password authentication with this username")
	fs.StringVar(&o.socksPassword, "socks5-password", "", "Password for --socks5-username")
	fs.StringVar(&o.ssListen, "ss-listen", "", "Shadowsocks server listen address (e.g. 0.0.0.0:8388). Empty disables.")
	fs.StringVar(&o.ssMethod, "ss-method", aead.DefaultMethod, "Shadowsocks server AEAD method: "+strings.Join(aead.MethodNames(), " | "))
	fs.StringVar(&o.ssPassword, "ss-password", "", "Shadowsocks server password")
	fs.StringVar(&o.tproxyListen, "tproxy-listen", "", "Transparent proxy listen address (e.g. 127.0.0.1:1234). Empty disables.")

	fs.StringVar(&o.upstream, "upstream", "direct://", "Upstream: direct:// | ss://method:password@host:port | ss://BASE64(method:password)@host:port")
	fs.StringVar(&o.dnsServer, "dns-server", "", "DNS server (host[:port]) for resolving target names. Empty uses the system resolver.")

	fs.StringVar(&o.debugListen, "debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")
	fs.DurationVar(&o.dialTimeout, "dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
	fs.DurationVar(&o.negotiationTimeout, "negotiation-timeout", 10*time.Second, "Timeout for protocol negotiation to set up connection")
	fs.StringVar(&o.tcpKeepAlive, "tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.BoolVar(&o.proxyProtocol, "proxy-protocol", false, "Require a PROXY protocol header on every SOCKS5 and Shadowsocks connection")
	fs.IntVar(&o.relayBufferSize, "relay-buffer-size", relay.DefaultBufferSize, "Read size for each relayed connection")

	fs.StringVar(&o.logLevel, "log-level", "info", "Log level: debug | info | warn | error")
	fs.StringVar(&o.logFile, "log-file", "", "Also log to this file, rotated by size. Empty disables.")
	fs.IntVar(&o.logMaxSize, "log-max-size", 100, "Rotate --log-file after this many megabytes")

	fs.StringVar(&o.configFile, "config", "", "TOML file of flag values; flags given on the command line win")

	if !tproxy.IsSupported {
		_ = fs.MarkHidden("tproxy-listen")
	}

	fs.SortFlags = false
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if o.configFile != "" {
		if err := applyConfigFile(fs, o.configFile); err != nil {
			return nil, err
		}
	}

	if o.socksListen == "" && o.ssListen == "" && o.tproxyListen == "" {
		return nil, errors.New("no listeners enabled (set at least one of --socks5-listen, --ss-listen, --tproxy-listen)")
	}
	if o.socksPassword != "" && o.socksUsername == "" {
		return nil, errors.New("--socks5-password needs --socks5-username")
	}
	if o.ssListen != "" && o.ssPassword == "" {
		return nil, errors.New("--ss-listen needs --ss-password")
	}
	if o.proxyProtocol && o.tproxyListen != "" {
		return nil, errors.New("--proxy-protocol cannot be used with --tproxy-listen")
	}
	if o.relayBufferSize <= 0 {
		return nil, errors.New("--relay-buffer-size must be > 0")
	}

	return o, nil
}

func run(args []string) error {
	o, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	ka, err := parseTCPKeepAlive(o.tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	ssMethod, err := aead.LookupMethod(o.ssMethod)
	if err != nil {
		return fmt.Errorf("invalid --ss-method: %w", err)
	}

	log, flush, err := logging.New(logging.Options{Level: o.logLevel, File: o.logFile, MaxSizeMB: o.logMaxSize})
	if err != nil {
		return err
	}
	defer flush()

	cfg := proxy.Config{
		NegotiationTimeout: o.negotiationTimeout,
		KeepAlive:          ka,
		Auth:               socks5.Auth{Username: o.socksUsername, Password: o.socksPassword},
		Relay:              relay.Options{BufferSize: o.relayBufferSize},
		Arena:              relay.NewArena(),
		Logger:             log,
	}

	dialCfg := dialer.Config{
		DialTimeout: o.dialTimeout,
		KeepAlive:   cfg.KeepAlive,
		DNSServer:   o.dnsServer,
		Logger:      log,
	}

	cfg.Dialer, err = dialer.New(dialCfg, o.upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: cfg.KeepAlive}
		debugLn, err := lc.Listen(ctx, "tcp", o.debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening", zap.String("addr", o.debugListen))
	}

	listen := func(ln net.Listener, err error) (net.Listener, error) {
		if err != nil {
			return nil, err
		}
		if o.proxyProtocol {
			ln = proxy.ProxyProtocolListener(ln, o.negotiationTimeout)
		}
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})
		return ln, nil
	}

	if o.socksListen != "" {
		ln, err := listen(proxy.ListenTCP("tcp", o.socksListen, cfg.KeepAlive))
		if err != nil {
			return fmt.Errorf("socks5 listen: %w", err)
		}
		s5 := proxy.NewSOCKS5Server(ctx, cfg)

		g.Go(func() error {
			if err := s5.Serve(ln); err != nil {
				return fmt.Errorf("socks5 serve: %w", err)
			}
			return nil
		})
		log.Info("socks5 proxy listening", zap.String("addr", o.socksListen), zap.String("upstream", redactUpstream(o.upstream)))
	}

	if o.ssListen != "" {
		ln, err := listen(proxy.ListenTCP("tcp", o.ssListen, cfg.KeepAlive))
		if err != nil {
			return fmt.Errorf("shadowsocks listen: %w", err)
		}
		ss := proxy.NewShadowsocksServer(ctx, cfg, ssMethod, o.ssPassword)

		g.Go(func() error {
			if err := ss.Serve(ln); err != nil {
				return fmt.Errorf("shadowsocks serve: %w", err)
			}
			return nil
		})
		log.Info("shadowsocks server listening", zap.String("addr", o.ssListen), zap.String("method", ssMethod.Name))
	}

	if o.tproxyListen != "" {
		ln, err := listen(tproxy.ListenTransparentTCP(o.tproxyListen, cfg.KeepAlive))
		if err != nil {
			return fmt.Errorf("tproxy listen: %w", err)
		}
		tsrv := tproxy.NewServer(ctx, cfg)

		g.Go(func() error {
			if err := tsrv.Serve(ln); err != nil {
				return fmt.Errorf("tproxy serve: %w", err)
			}
			return nil
		})
		log.Info("tproxy listening", zap.String("addr", o.tproxyListen))
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down", zap.Int("open_pairs", cfg.Arena.Len()))
	return err
}

// redactUpstream drops the credentials from an upstream URL for logging.
func redactUpstream(s string) string {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return s
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	return scheme + "://" + rest
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
