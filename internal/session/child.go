package session

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// ChildCommand is the subcommand the process backend runs in the child.
const ChildCommand = "session"

// ExitExplicitClose is the child's exit status when the peer asked for an
// explicit close.
const ExitExplicitClose = 3

// controlFD is where the child finds its control socket.
const controlFD = 3

// ChildArgs are the session parameters passed on the child's command line.
type ChildArgs struct {
	Active   bool
	NullAuth bool
	Peer     string
}

func (a ChildArgs) argv() []string {
	return []string{
		ChildCommand,
		"--active=" + strconv.FormatBool(a.Active),
		"--null-auth=" + strconv.FormatBool(a.NullAuth),
		"--peer=" + a.Peer,
	}
}

// ParseChildArgs parses the arguments following the session subcommand.
func ParseChildArgs(args []string) (ChildArgs, error) {
	var a ChildArgs
	fs := pflag.NewFlagSet(ChildCommand, pflag.ContinueOnError)
	fs.BoolVar(&a.Active, "active", false, "session was opened in active mode")
	fs.BoolVar(&a.NullAuth, "null-auth", false, "permit null authentication")
	fs.StringVar(&a.Peer, "peer", "", "peer address for logging")
	if err := fs.Parse(args); err != nil {
		return a, err
	}
	return a, nil
}

// RunChild serves the session on the inherited control socket and returns
// the process exit status.
func RunChild(ctx context.Context, svc Service, a ChildArgs) (int, error) {
	f := os.NewFile(uintptr(controlFD), "control")
	if f == nil {
		return 1, fmt.Errorf("no control socket on fd %d", controlFD)
	}
	conn, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return 1, fmt.Errorf("control socket: %w", err)
	}
	p := &Params{Conn: conn, Active: a.Active, NullAuthAllowed: a.NullAuth, Peer: a.Peer}
	svc.Serve(ctx, p)
	_ = conn.Close()
	if p.Active && p.ExplicitClose {
		return ExitExplicitClose, nil
	}
	return 0, nil
}
