//go:build linux

package netmon

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// Receive wakes up this often to notice cancellation.
const receivePoll = time.Second

// kernelPortID is the netlink port of the kernel; anything else is a
// userspace sender and is ignored.
const kernelPortID = 0

// netlinkSocket is the part of *nl.NetlinkSocket the watcher uses.
type netlinkSocket interface {
	Send(req *nl.NetlinkRequest) error
	Receive() ([]syscall.NetlinkMessage, *unix.SockaddrNetlink, error)
	Close()
}

type linuxWatcher struct {
	dial func() (netlinkSocket, error)

	mu      sync.Mutex
	sock    netlinkSocket
	pending []LinkMessage
}

// NewWatcher creates a watcher on an rtnetlink socket subscribed to
// RTNLGRP_LINK. The dump is requested on the same socket so no
// notification falls between the dump and the live stream.
func NewWatcher() Watcher {
	return &linuxWatcher{dial: subscribeLinks}
}

func subscribeLinks() (netlinkSocket, error) {
	s, err := nl.Subscribe(unix.NETLINK_ROUTE, unix.RTNLGRP_LINK)
	if err != nil {
		return nil, fmt.Errorf("netlink subscribe: %w", err)
	}
	tv := unix.NsecToTimeval(receivePoll.Nanoseconds())
	if err := s.SetReceiveTimeout(&tv); err != nil {
		s.Close()
		return nil, fmt.Errorf("netlink set receive timeout: %w", err)
	}
	return s, nil
}

func (w *linuxWatcher) socket() (netlinkSocket, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sock != nil {
		return w.sock, nil
	}

	s, err := w.dial()
	if err != nil {
		return nil, err
	}
	w.sock = s
	return s, nil
}

func (w *linuxWatcher) Dump(ctx context.Context, handle MessageHandler) error {
	s, err := w.socket()
	if err != nil {
		return err
	}

	req := nl.NewNetlinkRequest(unix.RTM_GETLINK, unix.NLM_F_DUMP)
	req.AddData(nl.NewIfInfomsg(unix.AF_UNSPEC))
	if err := s.Send(req); err != nil {
		return fmt.Errorf("netlink dump request: %w", err)
	}
	log.WithField("seq", req.Seq).Debug("Requested link dump")

	for {
		msgs, err := w.receive(ctx, s)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Header.Seq != req.Seq {
				w.pending = append(w.pending, NewLinkMessage(m))
				continue
			}
			switch m.Header.Type {
			case unix.NLMSG_DONE:
				log.WithField("queued", len(w.pending)).Debug("Link dump complete")
				return nil
			case unix.NLMSG_ERROR:
				return fmt.Errorf("netlink dump: %w", netlinkError(m.Data))
			}
			if err := handle(NewLinkMessage(m)); err != nil {
				return err
			}
		}
	}
}

func (w *linuxWatcher) Listen(ctx context.Context, handle MessageHandler) error {
	s, err := w.socket()
	if err != nil {
		return err
	}

	pending := w.pending
	w.pending = nil
	for _, m := range pending {
		if err := handle(m); err != nil {
			return err
		}
	}

	for {
		msgs, err := w.receive(ctx, s)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if m.Header.Type == unix.NLMSG_DONE || m.Header.Type == unix.NLMSG_ERROR {
				continue
			}
			if err := handle(NewLinkMessage(m)); err != nil {
				return err
			}
		}
	}
}

func (w *linuxWatcher) receive(ctx context.Context, s netlinkSocket) ([]syscall.NetlinkMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgs, from, err := s.Receive()
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.ENOBUFS):
				log.Warn("Netlink receive buffer overrun, link notifications were lost")
				continue
			}
			return nil, fmt.Errorf("netlink receive: %w", err)
		}
		if from != nil && from.Pid != kernelPortID {
			log.WithField("pid", from.Pid).Trace("Ignoring netlink message from userspace")
			continue
		}
		return msgs, nil
	}
}

func (w *linuxWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sock != nil {
		w.sock.Close()
		w.sock = nil
	}
	return nil
}

func netlinkError(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("truncated netlink error")
	}
	errno := int32(binary.NativeEndian.Uint32(data[0:4]))
	if errno == 0 {
		return fmt.Errorf("unexpected netlink ack")
	}
	return syscall.Errno(-errno)
}
