//go:build linux

package poller

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Poller is a level-triggered epoll instance with an eventfd attached for wakeups.
// All the methods except Wake must be called from the polling goroutine.
type Poller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent

	// guards wakefd against being reused by another descriptor after Close
	mu     sync.RWMutex
	closed bool
}

func New(maxEvents int) (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	p := &Poller{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}

	if err = p.Add(wakefd, WakeID, Read); err != nil {
		_ = p.Close()
		return nil, err
	}

	return p, nil
}

// Add registers the descriptor.
func (p *Poller) Add(fd int, id uint64, interest Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, id, interest)
}

// Modify replaces the interest set of an already registered descriptor.
func (p *Poller) Modify(fd int, id uint64, interest Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, id, interest)
}

// Remove deregisters the descriptor. It must be called before the descriptor is closed.
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del: %w", err)
	}

	return nil
}

// Wait blocks for at most timeout and appends the reported events to out. Wakeups
// collapse into a single event with WakeID.
func (p *Poller) Wait(timeout time.Duration, out []Event) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return out, nil
		}

		return out, fmt.Errorf("epoll_wait: %w", err)
	}

	for _, ev := range p.events[:n] {
		id := uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
		if id == WakeID {
			p.drain()
		}

		out = append(out, Event{
			ID:       id,
			Readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}

	return out, nil
}

// Wake interrupts the ongoing or the next Wait. Safe for concurrent use.
func (p *Poller) Wake() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil
	}

	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)

	_, err := unix.Write(p.wakefd, one[:])
	if errors.Is(err, unix.EAGAIN) {
		// the counter is saturated, so the wakeup is pending anyway
		return nil
	}

	return err
}

func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}

func (p *Poller) drain() {
	var buf [8]byte
	_, _ = unix.Read(p.wakefd, buf[:])
}

func (p *Poller) ctl(op, fd int, id uint64, interest Interest) error {
	ev := unix.EpollEvent{
		Fd:  int32(uint32(id)),
		Pad: int32(uint32(id >> 32)),
	}

	if interest&Read != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}

	if interest&Write != 0 {
		ev.Events |= unix.EPOLLOUT
	}

	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl: %w", err)
	}

	return nil
}
