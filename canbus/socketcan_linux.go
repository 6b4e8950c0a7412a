//go:build linux

package canbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollSlice bounds a single poll(2) wait so Close and context cancellation
// are noticed even without a deadline.
const pollSlice = 50 * time.Millisecond

// KernelFilter is a CAN_RAW_FILTER entry: a frame passes when
// (can_id & Mask) == (ID & Mask). Flag bits (EFF/RTR) take part in the match.
type KernelFilter struct {
	ID   uint32
	Mask uint32
}

// ExtendedDataFilter passes only 29-bit data frames.
var ExtendedDataFilter = KernelFilter{ID: canEffFlag, Mask: canEffFlag | canRtrFlag}

// socketCAN implements Bus over Linux SocketCAN.
type socketCAN struct {
	fd        int
	closeOnce sync.Once
	closed    chan struct{}
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g., "can0"). Optional kernel filters restrict what the socket receives.
func DialSocketCAN(iface string, filters ...KernelFilter) (Bus, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("canbus: socket: %w", err)
	}

	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netIf.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("canbus: bind %s: %w", iface, err)
	}

	if len(filters) > 0 {
		kf := make([]unix.CanFilter, len(filters))
		for i, f := range filters {
			kf[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kf); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("canbus: set filter: %w", err)
		}
	}

	return &socketCAN{fd: fd, closed: make(chan struct{})}, nil
}

func (s *socketCAN) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = unix.Close(s.fd)
	})
	return err
}

// Send writes one frame using the Linux can_frame binary layout.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	for {
		if err := s.alive(ctx); err != nil {
			return err
		}
		n, werr := unix.Write(s.fd, buf)
		if werr == nil {
			if n != len(buf) {
				return errors.New("canbus: short write")
			}
			return nil
		}
		if werr == unix.EAGAIN || werr == unix.ENOBUFS {
			if err := s.wait(ctx, unix.POLLOUT); err != nil {
				return err
			}
			continue
		}
		return werr
	}
}

// Receive reads one frame (blocking respecting context).
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	var f Frame
	buf := make([]byte, FrameSize)
	for {
		if err := s.alive(ctx); err != nil {
			return Frame{}, err
		}
		n, rerr := unix.Read(s.fd, buf)
		if rerr == nil {
			if n != len(buf) {
				return Frame{}, errors.New("canbus: short read")
			}
			if err := f.UnmarshalBinary(buf); err != nil {
				return Frame{}, err
			}
			return f, nil
		}
		if rerr == unix.EAGAIN {
			if err := s.wait(ctx, unix.POLLIN); err != nil {
				return Frame{}, err
			}
			continue
		}
		return Frame{}, rerr
	}
}

func (s *socketCAN) alive(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (s *socketCAN) wait(ctx context.Context, events int16) error {
	for {
		timeout := pollSlice
		if deadline, ok := ctx.Deadline(); ok {
			d := time.Until(deadline)
			if d <= 0 {
				return ctx.Err()
			}
			if d < timeout {
				timeout = d
			}
		}
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.alive(ctx); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}
