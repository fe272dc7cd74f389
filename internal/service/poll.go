package service

import (
	"context"
	"errors"
	"time"
)

var errPollTimeout = errors.New("poll timeout")

// PollPolicy is the shared wait discipline: check, sleep Interval, repeat,
// give up after Timeout.
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (p PollPolicy) withTimeout(timeout time.Duration) PollPolicy {
	if timeout > 0 {
		p.Timeout = timeout
	}
	return p
}

// pollUntil calls check until it reports done or returns an error. check is
// always called at least once. When the timeout elapses first, errPollTimeout
// is returned; callers turn it into a *StateTimeoutError with the last status
// they observed.
func pollUntil(
	ctx context.Context,
	p PollPolicy,
	check func(context.Context) (bool, error),
) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(p.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errPollTimeout
		case <-ticker.C:
		}
	}
}
