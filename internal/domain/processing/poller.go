package processing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrPollTimeout = errors.New("processing job still running")

// PollPolicy bounds how often and for how long a job is re-read.
type PollPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (p PollPolicy) withDefaults() PollPolicy {
	if p.Interval <= 0 {
		p.Interval = 2 * time.Second
	}
	if p.Timeout <= 0 {
		p.Timeout = 2 * time.Minute
	}
	return p
}

type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type JobGetter interface {
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
}

type Poller struct {
	jobs   JobGetter
	policy PollPolicy
	clock  Clock
}

func NewPoller(jobs JobGetter, policy PollPolicy, clock Clock) *Poller {
	if clock == nil {
		clock = realClock{}
	}
	return &Poller{jobs: jobs, policy: policy.withDefaults(), clock: clock}
}

// Wait re-reads the job until it is completed or failed. On timeout the last
// observed job is returned along with ErrPollTimeout. onChange, when set, sees
// every status change including the first read.
func (p *Poller) Wait(ctx context.Context, id uuid.UUID, onChange func(*Job)) (*Job, error) {
	deadline := p.clock.Now().Add(p.policy.Timeout)
	last := ""
	for {
		j, err := p.jobs.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if onChange != nil && j.Status != last {
			onChange(j)
		}
		last = j.Status
		if j.Terminal() {
			return j, nil
		}
		if !p.clock.Now().Add(p.policy.Interval).Before(deadline) {
			return j, ErrPollTimeout
		}
		if err := p.clock.Sleep(ctx, p.policy.Interval); err != nil {
			return j, err
		}
	}
}
