//go:build windows

package main

import (
	"context"

	"github.com/matst80/rpcapd/internal/config"
	"github.com/matst80/rpcapd/internal/lifecycle"
	"github.com/matst80/rpcapd/internal/obs"
	"golang.org/x/sys/windows/svc"
)

const serviceName = "rpcapd"

// daemonize is a no-op: background operation comes from the service manager.
func daemonize(*config.Config) (bool, func(), error) {
	obs.Info("daemon.background", obs.Fields{"note": "install rpcapd as a Windows service to run in the background"})
	return false, func() {}, nil
}

func runPlatform(d *daemon) error {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return err
	}
	if !isService {
		return d.serve(context.Background())
	}
	return svc.Run(serviceName, &winService{d: d})
}

type winService struct {
	d *daemon
}

func (s *winService) Execute(_ []string, r <-chan svc.ChangeRequest, status chan<- svc.Status) (bool, uint32) {
	status <- svc.Status{State: svc.StartPending}
	done := make(chan error, 1)
	go func() { done <- s.d.serve(context.Background()) }()
	status <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}
	for {
		select {
		case err := <-done:
			status <- svc.Status{State: svc.Stopped}
			if err != nil {
				obs.Error("service.exit", obs.Fields{"err": err.Error()})
				return true, 1
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				status <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				status <- svc.Status{State: svc.StopPending}
				s.d.ctrl.Post(lifecycle.EventTerminate)
			}
		}
	}
}
