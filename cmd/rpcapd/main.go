package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/matst80/rpcapd/internal/config"
	"github.com/matst80/rpcapd/internal/dispatch"
	"github.com/matst80/rpcapd/internal/hostauth"
	"github.com/matst80/rpcapd/internal/lifecycle"
	"github.com/matst80/rpcapd/internal/obs"
	"github.com/matst80/rpcapd/internal/ratelimit"
	"github.com/matst80/rpcapd/internal/rpcap"
	"github.com/matst80/rpcapd/internal/session"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	if len(args) > 0 && args[0] == session.ChildCommand {
		return runSession(args[1:])
	}

	cfg, opts, err := parseFlags(args, stderr)
	if errors.Is(err, errHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "rpcapd: %v\n", err)
		return 2
	}
	if cfg.Debug {
		obs.EnableDebug(true)
	}
	if opts.saveFile != "" {
		if err := config.Save(opts.saveFile, &cfg); err != nil {
			obs.Error("config.save", obs.Fields{"err": err.Error(), "path": opts.saveFile})
			return 1
		}
		obs.Info("config.saved", obs.Fields{"path": opts.saveFile})
	}

	if cfg.Daemon {
		parent, release, err := daemonize(&cfg)
		if err != nil {
			obs.Error("daemon.start", obs.Fields{"err": err.Error()})
			return 1
		}
		if parent {
			return 0
		}
		defer release()
	}

	d, err := newDaemon(cfg, opts)
	if err != nil {
		obs.Error("daemon.init", obs.Fields{"err": err.Error()})
		return 1
	}
	defer d.close()

	if err := runPlatform(d); err != nil {
		obs.Error("daemon.exit", obs.Fields{"err": err.Error()})
		return 1
	}
	return 0
}

// daemon bundles the components built from one configuration.
type daemon struct {
	cfg     config.Config
	source  hostauth.Source
	ctrl    *lifecycle.Controller
	deps    dispatch.Deps
	metrics *metricsServer
}

func newDaemon(cfg config.Config, opts cliOptions) (*daemon, error) {
	obs.Info("daemon.start", obs.Fields{
		"bind": cfg.Address, "port": cfg.Port, "passive": cfg.Passive, "active": len(cfg.Active),
		"worker": cfg.Worker, "null_auth": cfg.NullAuth,
	})

	src, err := hostauth.NewSource(&cfg)
	if err != nil {
		return nil, fmt.Errorf("host list source: %w", err)
	}
	hosts, err := src.Load(context.Background())
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("load host list: %w", err)
	}

	proto := rpcap.NewService()
	spawner, err := session.New(cfg.Worker, proto, session.Options{MaxSessions: cfg.MaxSessions})
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	d := &daemon{cfg: cfg, source: src}
	d.deps = dispatch.Deps{
		Policy:     dispatch.NewPolicyStore(&dispatch.Policy{Hosts: hosts, NullAuthAllowed: cfg.NullAuth}),
		Authorizer: hostauth.NewAuthorizer(hostauth.NewResolver(cfg.Resolver)),
		Spawner:    spawner,
		Protocol:   proto,
		Limiter:    ratelimit.NewAcceptLimiter(cfg.AcceptRate, cfg.AcceptBurst),
	}
	d.ctrl = lifecycle.New(lifecycle.Options{
		Passive:  cfg.Passive,
		Bind:     dispatch.BindSpec{Address: cfg.Address, Port: cfg.Port, IPv4Only: cfg.IPv4Only},
		Targets:  cfg.Active,
		Backoff:  cfg.ActiveBackoff,
		Deps:     d.deps,
		Reloader: newReloader(cfg, opts, src),
	})
	if cfg.MetricsAddr != "" {
		d.metrics = startMetricsServer(cfg.MetricsAddr, d)
	}
	return d, nil
}

// serve runs the controller until it terminates.
func (d *daemon) serve(ctx context.Context) error {
	stop := lifecycle.NotifySignals(d.ctrl)
	defer stop()
	return d.ctrl.Run(ctx)
}

func (d *daemon) close() {
	if d.metrics != nil {
		d.metrics.shutdown()
	}
	if err := d.source.Close(); err != nil {
		obs.Error("hostauth.source.close", obs.Fields{"err": err.Error()})
	}
}

// reloader rebuilds the policy: it re-reads the configuration file when one
// was given, then the allow-list. The allow-list backend and its connection
// are fixed at startup.
type reloader struct {
	base       config.Config
	configFile string
	source     hostauth.Source
	redis      config.RedisConfig
}

func newReloader(cfg config.Config, opts cliOptions, src hostauth.Source) *reloader {
	base := cfg
	if opts.configFile != "" {
		base = opts.flagConfig
	}
	return &reloader{base: base, configFile: opts.configFile, source: src, redis: cfg.Redis}
}

func (r *reloader) Reload(ctx context.Context) (*dispatch.Policy, error) {
	cfg := r.base
	if r.configFile != "" {
		if err := config.Load(r.configFile, &cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if cfg.Redis != r.redis {
		obs.Error("reload.redis_changed", obs.Fields{
			"addr": cfg.Redis.Addr, "db": cfg.Redis.DB, "key": cfg.RedisKey(),
			"err": "redis settings take effect after a restart",
		})
	}
	var src hostauth.Source = &hostauth.FileSource{Path: cfg.HostsFile, Inline: cfg.Hosts}
	if rs, ok := r.source.(*hostauth.RedisSource); ok {
		src = rs.WithInline(cfg.Hosts)
	}
	hosts, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &dispatch.Policy{Hosts: hosts, NullAuthAllowed: cfg.NullAuth}, nil
}
