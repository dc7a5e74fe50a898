//go:build unix

package main

import (
	"context"

	"github.com/matst80/rpcapd/internal/config"
	"github.com/matst80/rpcapd/internal/obs"
	godaemon "github.com/sevlyar/go-daemon"
)

// daemonize forks into the background. The parent gets parent=true and
// should exit; the child gets a release func for its pid file.
func daemonize(cfg *config.Config) (parent bool, release func(), err error) {
	cntxt := &godaemon.Context{
		PidFileName: cfg.PidFile,
		PidFilePerm: 0o644,
		LogFileName: cfg.LogFile,
		LogFilePerm: 0o640,
		WorkDir:     "/",
		Umask:       0o27,
	}
	child, err := cntxt.Reborn()
	if err != nil {
		return false, nil, err
	}
	if child != nil {
		return true, nil, nil
	}
	obs.Info("daemon.background", obs.Fields{"pidfile": cfg.PidFile, "logfile": cfg.LogFile})
	return false, func() {
		if err := cntxt.Release(); err != nil {
			obs.Error("daemon.release", obs.Fields{"err": err.Error()})
		}
	}, nil
}

func runPlatform(d *daemon) error {
	return d.serve(context.Background())
}
