package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/matst80/rpcapd/internal/config"
	"github.com/spf13/pflag"
)

// cliOptions are switches that act on the invocation rather than the daemon.
type cliOptions struct {
	configFile string
	saveFile   string
	help       bool
	// flagConfig is the configuration before the -f overlay. Reloads apply
	// a fresh read of the file on top of it.
	flagConfig config.Config
}

var errHelp = errors.New("help requested")

const usageHeader = `rpcapd: remote capture daemon

Usage: rpcapd [options]

`

// parseFlags builds the effective configuration: defaults, then switches,
// then the configuration file given with -f.
func parseFlags(args []string, out io.Writer) (config.Config, cliOptions, error) {
	cfg := config.Default()
	var opts cliOptions
	var activeOnly bool
	var active string
	var backoff time.Duration

	fs := pflag.NewFlagSet("rpcapd", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, usageHeader)
		fs.PrintDefaults()
	}

	fs.StringVarP(&cfg.Address, "bind", "b", "", "address to bind passive listeners to (default: all local addresses)")
	fs.StringVarP(&cfg.Port, "port", "p", config.DefaultPort, "passive mode port")
	fs.BoolVarP(&cfg.IPv4Only, "ipv4", "4", false, "use IPv4 only")
	fs.StringVarP(&cfg.HostsFile, "hosts", "l", "", "file with the hosts allowed to connect (one per line)")
	fs.BoolVarP(&cfg.NullAuth, "null-auth", "n", false, "permit NULL authentication")
	fs.StringVarP(&active, "active", "a", "", "active mode targets: host,port[,host,port...]; port DEFAULT or omitted uses "+config.DefaultActivePort)
	fs.BoolVarP(&activeOnly, "active-only", "v", false, "run in active mode only (no passive listener)")
	fs.BoolVarP(&cfg.Daemon, "daemon", "d", false, "run in the background")
	fs.StringVarP(&opts.saveFile, "save", "s", "", "save the effective configuration to `file`")
	fs.StringVarP(&opts.configFile, "config", "f", "", "load configuration from `file`")
	fs.StringVar(&cfg.Worker, "worker", config.WorkerTask, "session worker backend: task or process")
	fs.DurationVar(&backoff, "active-backoff", config.DefaultActiveBackoff, "wait between failed active connection attempts")
	fs.IntVar(&cfg.MaxSessions, "max-sessions", 0, "maximum concurrent sessions (0 = unbounded)")
	fs.IntVar(&cfg.AcceptRate, "accept-rate", 0, "per-host accepted connections per second (0 = off)")
	fs.IntVar(&cfg.AcceptBurst, "accept-burst", 0, "per-host accept burst (default: accept-rate)")
	fs.StringVar(&cfg.Resolver, "resolver", "", "DNS server (host[:port]) used to resolve allow-list names")
	fs.StringVar(&cfg.Redis.Addr, "hosts-redis", "", "read allowed hosts from a Redis set at this address")
	fs.StringVar(&cfg.Redis.Password, "hosts-redis-password", "", "Redis password")
	fs.IntVar(&cfg.Redis.DB, "hosts-redis-db", 0, "Redis database")
	fs.StringVar(&cfg.Redis.Key, "hosts-redis-key", config.DefaultRedisKey, "Redis set holding allowed hosts")
	fs.StringVar(&cfg.MetricsAddr, "metrics", "", "metrics and health listen address (empty = off)")
	fs.StringVar(&cfg.PidFile, "pidfile", "", "pid file written in daemon mode")
	fs.StringVar(&cfg.LogFile, "log-file", "", "log file used in daemon mode")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
	fs.BoolVarP(&opts.help, "help", "h", false, "show this help")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return cfg, opts, errHelp
		}
		return cfg, opts, err
	}
	if opts.help {
		fs.Usage()
		return cfg, opts, errHelp
	}
	if fs.NArg() > 0 {
		return cfg, opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg.ActiveBackoff = backoff
	cfg.Passive = !activeOnly
	if active != "" {
		targets, err := config.ParseActiveList(active)
		if err != nil {
			return cfg, opts, err
		}
		cfg.Active = targets
	}
	opts.flagConfig = cfg
	if opts.configFile != "" {
		if err := config.Load(opts.configFile, &cfg); err != nil {
			return cfg, opts, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, opts, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, opts, nil
}
