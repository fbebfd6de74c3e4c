package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolStarted  = errors.New("dispatch: already started")
	ErrPoolStopped  = errors.New("dispatch: stopped")
	ErrSubmitFailed = errors.New("dispatch: submit canceled")
)

// Call is one persistence attempt unit. Run receives a context bounded by
// AttemptTimeout; a deadline hit surfaces as an error from Run, which the
// settlement path treats like any other persistence failure.
type Call struct {
	ID             string
	MaxRetries     int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
	Run            func(context.Context) error
	// Settle is invoked exactly once, after the final attempt, with the
	// final error (nil on success). It runs on a pool worker.
	Settle func(error)
}

type queuedCall struct {
	call    Call
	attempt int
}

// Pool runs persistence calls on a fixed set of workers so mutation
// dispatch never blocks on a remote round trip.
type Pool struct {
	mu        sync.Mutex
	calls     chan queuedCall
	started   bool
	stopping  bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	nextID    atomic.Uint64
	inFlight  atomic.Int64
	submitted atomic.Uint64
	settled   atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
}

type Stats struct {
	Started   bool   `json:"started"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	Submitted uint64 `json:"submitted"`
	Settled   uint64 `json:"settled"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
}

func New(buffer int) *Pool {
	if buffer <= 0 {
		buffer = 64
	}
	return &Pool{calls: make(chan queuedCall, buffer)}
}

func (p *Pool) Submit(call Call) (string, error) {
	return p.SubmitContext(context.Background(), call)
}

func (p *Pool) SubmitContext(ctx context.Context, call Call) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if call.Run == nil {
		return "", fmt.Errorf("dispatch: call has no run func")
	}
	if call.ID == "" {
		call.ID = fmt.Sprintf("d-%d", p.nextID.Add(1))
	}

	p.mu.Lock()
	calls := p.calls
	stopping := p.stopping
	p.mu.Unlock()
	if stopping {
		return "", ErrPoolStopped
	}

	select {
	case calls <- queuedCall{call: call, attempt: 0}:
		p.submitted.Add(1)
		return call.ID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrSubmitFailed, ctx.Err())
	}
}

func (p *Pool) Start(parent context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrPoolStarted
	}
	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.started = true
	p.stopping = false
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return nil
}

// Stop drains queued and in-flight calls, waiting up to timeout before
// cancelling whatever remains.
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.cancel = nil
	p.started = false
	p.stopping = true
	p.mu.Unlock()

	timedOut := false
	if timeout <= 0 {
		for len(p.calls) > 0 || p.inFlight.Load() > 0 {
			time.Sleep(5 * time.Millisecond)
		}
		cancel()
		p.wg.Wait()
	} else {
		deadline := time.NewTimer(timeout)
		ticker := time.NewTicker(5 * time.Millisecond)
	drain:
		for {
			if len(p.calls) == 0 && p.inFlight.Load() == 0 {
				cancel()
				done := make(chan struct{})
				go func() {
					defer close(done)
					p.wg.Wait()
				}()
				select {
				case <-done:
				case <-deadline.C:
					timedOut = true
				}
				break drain
			}
			select {
			case <-deadline.C:
				timedOut = true
				cancel()
				break drain
			case <-ticker.C:
			}
		}
		deadline.Stop()
		ticker.Stop()
	}

	p.mu.Lock()
	p.stopping = false
	p.mu.Unlock()

	if timedOut {
		return fmt.Errorf("dispatch: stop timeout after %s", timeout)
	}
	return nil
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	return Stats{
		Started:   started,
		Depth:     len(p.calls),
		Capacity:  cap(p.calls),
		Submitted: p.submitted.Load(),
		Settled:   p.settled.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.calls:
			p.inFlight.Add(1)
			p.runOnce(ctx, item)
			p.inFlight.Add(-1)
		}
	}
}

func (p *Pool) runOnce(parent context.Context, item queuedCall) {
	attempt := item.attempt + 1
	runCtx := parent
	cancel := func() {}
	if item.call.AttemptTimeout > 0 {
		runCtx, cancel = context.WithTimeout(parent, item.call.AttemptTimeout)
	}
	err := item.call.Run(runCtx)
	cancel()
	if err == nil {
		p.settled.Add(1)
		p.settle(item.call, nil)
		return
	}

	// Shutdown cancellation is not a verdict on the call; the settle
	// callback still fires so no mutation is left pending forever.
	if parent.Err() != nil {
		p.failed.Add(1)
		p.settle(item.call, fmt.Errorf("%w: %w", ErrPoolStopped, err))
		return
	}

	if attempt >= item.call.MaxRetries+1 {
		p.failed.Add(1)
		p.settle(item.call, err)
		return
	}

	p.retried.Add(1)
	item.attempt = attempt
	if item.call.RetryDelay > 0 {
		select {
		case <-parent.Done():
			p.failed.Add(1)
			p.settle(item.call, fmt.Errorf("%w: %w", ErrPoolStopped, err))
			return
		case <-time.After(item.call.RetryDelay):
		}
	}

	select {
	case p.calls <- item:
	default:
		// Queue full on requeue: give up rather than block a worker.
		p.failed.Add(1)
		p.settle(item.call, err)
	}
}

func (p *Pool) settle(call Call, err error) {
	if call.Settle != nil {
		call.Settle(err)
	}
}
