package rpcap

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/matst80/rpcapd/internal/obs"
	"github.com/matst80/rpcapd/internal/session"
)

// DefaultInitTimeout bounds how long a peer may take to authenticate.
const DefaultInitTimeout = 90 * time.Second

const noCapture = "capture backend not available"

// Service serves the control conversation of one session.
type Service struct {
	InitTimeout time.Duration
	Devices     func() ([]Device, error)
}

var _ session.Protocol = (*Service)(nil)

func NewService() *Service {
	return &Service{InitTimeout: DefaultInitTimeout, Devices: Devices}
}

// ErrorFrame encodes the reply sent on a connection rejected before its
// session started.
func (s *Service) ErrorFrame(reason session.RejectReason, msg string) []byte {
	code := ErrRemoteAccept
	switch reason {
	case session.RejectHostNotAllowed:
		code = ErrHostNoAuth
	case session.RejectSpawnFailed:
		code = ErrOpen
	}
	return ErrorMessage(code, msg)
}

type conversation struct {
	svc    *Service
	p      *session.Params
	conn   net.Conn
	authed bool
}

// Serve reads messages until the peer closes, sends MsgClose, or ctx ends.
func (s *Service) Serve(ctx context.Context, p *session.Params) {
	stop := context.AfterFunc(ctx, func() { _ = p.Conn.Close() })
	defer stop()

	c := &conversation{svc: s, p: p, conn: p.Conn}
	if s.InitTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(s.InitTimeout))
	}
	for {
		h, err := ReadHeader(c.conn)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() && !c.authed {
				c.send(ErrorMessage(ErrInitTimeout, "The RPCAP initial timeout has expired"))
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				obs.Debug("rpcap.read", obs.Fields{"peer": p.Peer, "err": err.Error()})
			}
			return
		}
		payload, err := ReadPayload(c.conn, h)
		if err != nil {
			obs.Debug("rpcap.payload", obs.Fields{"peer": p.Peer, "err": err.Error()})
			return
		}
		if h.Ver != Version {
			c.send(ErrorMessage(ErrWrongVer, "RPCAP version number mismatch"))
			continue
		}
		if !c.handle(h, payload) {
			return
		}
	}
}

// handle processes one message and reports whether the conversation goes on.
func (c *conversation) handle(h Header, payload []byte) bool {
	if !c.authed {
		switch h.Type {
		case MsgAuth:
			c.auth(payload)
			return true
		case MsgClose:
			return false
		case MsgError:
			return true
		}
		c.send(ErrorMessage(ErrWrongMsg, "Message not allowed before authentication"))
		return true
	}
	switch h.Type {
	case MsgAuth:
		c.send(ErrorMessage(ErrWrongMsg, "Already authenticated"))
	case MsgFindAllIf:
		c.findAllIf()
	case MsgOpen:
		c.send(ErrorMessage(ErrOpen, noCapture))
	case MsgStartCap:
		c.send(ErrorMessage(ErrStartCapture, noCapture))
	case MsgUpdateFilt:
		c.send(ErrorMessage(ErrUpdateFilter, noCapture))
	case MsgStats:
		c.send(ErrorMessage(ErrGetStats, noCapture))
	case MsgSetSampling:
		c.send(ErrorMessage(ErrSetSampling, noCapture))
	case MsgEndCap:
		c.send(Frame(Reply(MsgEndCap), 0, nil))
	case MsgClose:
		if c.p.Active {
			c.p.ExplicitClose = true
		}
		return false
	case MsgError:
		obs.Debug("rpcap.peer_error", obs.Fields{"peer": c.p.Peer, "code": h.Value, "msg": string(payload)})
	default:
		c.send(ErrorMessage(ErrWrongMsg, "Unknown message type"))
	}
	return true
}

func (c *conversation) auth(payload []byte) {
	req, err := ParseAuth(payload)
	if err != nil {
		c.send(ErrorMessage(ErrAuth, err.Error()))
		return
	}
	switch req.Type {
	case AuthNull:
		if !c.p.NullAuthAllowed {
			c.send(ErrorMessage(ErrAuth, "Authentication failed; NULL authentication not permitted."))
			return
		}
	case AuthPassword:
		c.send(ErrorMessage(ErrAuth, "Password authentication is not supported."))
		return
	default:
		c.send(ErrorMessage(ErrAuth, "Authentication type not recognized."))
		return
	}
	c.authed = true
	_ = c.conn.SetReadDeadline(time.Time{})
	c.send(Frame(Reply(MsgAuth), 0, authReply()))
	obs.Debug("rpcap.auth", obs.Fields{"peer": c.p.Peer, "type": req.Type})
}

func (c *conversation) findAllIf() {
	devs, err := c.svc.Devices()
	if err != nil {
		c.send(ErrorMessage(ErrFindAllIf, err.Error()))
		return
	}
	if len(devs) == 0 {
		c.send(ErrorMessage(ErrNoRemoteIf, "No interfaces found!"))
		return
	}
	c.send(Frame(Reply(MsgFindAllIf), uint16(len(devs)), encodeDevices(devs)))
}

func (c *conversation) send(b []byte) {
	if _, err := c.conn.Write(b); err != nil {
		obs.Debug("rpcap.write", obs.Fields{"peer": c.p.Peer, "err": err.Error()})
	}
}
