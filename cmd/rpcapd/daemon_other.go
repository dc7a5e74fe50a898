//go:build !unix && !windows

package main

import (
	"context"
	"errors"

	"github.com/matst80/rpcapd/internal/config"
)

func daemonize(*config.Config) (bool, func(), error) {
	return false, nil, errors.New("daemon mode is not supported on this platform")
}

func runPlatform(d *daemon) error {
	return d.serve(context.Background())
}
