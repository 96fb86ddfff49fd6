//go:build !linux

package poller

import "time"

type Poller struct{}

func New(int) (*Poller, error) {
	return nil, ErrUnsupported
}

func (*Poller) Add(int, uint64, Interest) error {
	return ErrUnsupported
}

func (*Poller) Modify(int, uint64, Interest) error {
	return ErrUnsupported
}

func (*Poller) Remove(int) error {
	return ErrUnsupported
}

func (*Poller) Wait(time.Duration, []Event) ([]Event, error) {
	return nil, ErrUnsupported
}

func (*Poller) Wake() error {
	return ErrUnsupported
}

func (*Poller) Close() error {
	return nil
}
