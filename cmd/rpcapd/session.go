package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/matst80/rpcapd/internal/obs"
	"github.com/matst80/rpcapd/internal/rpcap"
	"github.com/matst80/rpcapd/internal/session"
)

// runSession is the child side of the process backend.
func runSession(args []string) int {
	a, err := session.ParseChildArgs(args)
	if err != nil {
		obs.Error("session.args", obs.Fields{"err": err.Error()})
		return 2
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code, err := session.RunChild(ctx, rpcap.NewService(), a)
	if err != nil {
		obs.Error("session.child", obs.Fields{"err": err.Error(), "peer": a.Peer})
	}
	return code
}
