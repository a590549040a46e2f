// Package throttle implements the admission controller (spec §4.3,
// component C3): a bounded-concurrency FIFO with explicit over-queue
// shedding and a reaper for slots whose handler forgot to call Leave.
//
// Grounded on the teacher's bounded-worker idiom in fs/mpather (an
// errgroup-fed worker pool drawn from golang.org/x/sync) generalized here
// into a per-request admit/release gate instead of a fixed worker count.
package throttle

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
)

// Ticket is returned by Enter and must be passed to Leave exactly once.
// Leave is idempotent so the reaper can safely race a slow handler.
type Ticket struct {
	id       uint64
	admitAt  time.Time
	released bool
}

type waiter struct {
	done chan struct{}
}

// Controller is the admission gate described in spec §4.3.
type Controller struct {
	cfg *config.ThrottleConf
	sts Counters

	mu       sync.Mutex
	inFlight map[uint64]*Ticket
	queue    *list.List // of *waiter
	slots    int // free slots
	nextID   uint64
}

// Counters is the subset of stats the controller increments; kept as a
// narrow interface so tests can stub it without importing internal/stats.
type Counters interface {
	IncReaped()
	IncThrottled()
}

type noopCounters struct{}

func (noopCounters) IncReaped()   {}
func (noopCounters) IncThrottled() {}

// New constructs a Controller. If sts is nil, counters are dropped.
func New(cfg *config.ThrottleConf, sts Counters) *Controller {
	if sts == nil {
		sts = noopCounters{}
	}
	return &Controller{
		cfg:      cfg,
		sts:      sts,
		inFlight: make(map[uint64]*Ticket),
		queue:    list.New(),
		slots:    cfg.Concurrency,
	}
}

// Enter admits request, blocking (cooperatively, via ctx) until a slot is
// free, or returns Throttled immediately if the wait queue is already at
// capacity (spec §4.3).
func (c *Controller) Enter(ctx context.Context) (*Ticket, *merr.Error) {
	if !c.cfg.Enabled {
		return &Ticket{admitAt: time.Now()}, nil
	}

	c.mu.Lock()
	if c.slots > 0 {
		c.slots--
		t := c.newTicketLocked()
		c.mu.Unlock()
		return t, nil
	}

	queued := c.queue.Len()
	if queued >= c.cfg.QueueTolerance {
		inFlight := len(c.inFlight)
		c.mu.Unlock()
		c.sts.IncThrottled()
		return nil, merr.Throttled(queued, inFlight, c.cfg.Concurrency)
	}

	w := &waiter{done: make(chan struct{})}
	elem := c.queue.PushBack(w)
	c.mu.Unlock()

	select {
	case <-w.done:
		c.mu.Lock()
		t := c.newTicketLocked()
		c.mu.Unlock()
		return t, nil
	case <-ctx.Done():
		c.mu.Lock()
		c.queue.Remove(elem)
		c.mu.Unlock()
		return nil, merr.UploadAbandoned("client disconnected while queued for admission")
	}
}

func (c *Controller) newTicketLocked() *Ticket {
	c.nextID++
	t := &Ticket{id: c.nextID, admitAt: time.Now()}
	c.inFlight[t.id] = t
	return t
}

// Leave releases t's slot, waking the next FIFO waiter if any. Safe to call
// more than once, and safe to call after the reaper has already released
// the same ticket (spec §4.3 "idempotent").
func (c *Controller) Leave(t *Ticket) {
	if t == nil || t.id == 0 {
		return
	}
	c.mu.Lock()
	if t.released {
		c.mu.Unlock()
		return
	}
	t.released = true
	delete(c.inFlight, t.id)

	if front := c.queue.Front(); front != nil {
		c.queue.Remove(front)
		w := front.Value.(*waiter)
		close(w.done)
		// the slot transfers directly to the woken waiter; don't
		// increment c.slots.
		c.mu.Unlock()
		return
	}
	c.slots++
	c.mu.Unlock()
}

// Released reports whether t has already been released, without mutating
// state; handlers can use this to avoid a redundant Leave call.
func (t *Ticket) Released() bool { return t != nil && t.released }

// ReapFunc is invoked by the reaper for each stuck ticket it releases.
type ReapFunc func(ticketID uint64, heldFor time.Duration)

// RunReaper walks the in-flight set every ReapInterval and releases any
// ticket whose corresponding request has already committed its response to
// the network but never called Leave (spec §4.3). isDone reports whether
// the request owning ticketID has already committed its response.
func (c *Controller) RunReaper(ctx context.Context, isDone func(ticketID uint64) bool, onReap ReapFunc) {
	if !c.cfg.Enabled {
		return
	}
	t := time.NewTicker(c.cfg.ReapInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.reapOnce(isDone, onReap)
		}
	}
}

func (c *Controller) reapOnce(isDone func(ticketID uint64) bool, onReap ReapFunc) {
	c.mu.Lock()
	var stuck []*Ticket
	for _, tk := range c.inFlight {
		if isDone(tk.id) {
			stuck = append(stuck, tk)
		}
	}
	c.mu.Unlock()

	for _, tk := range stuck {
		held := time.Since(tk.admitAt)
		c.Leave(tk)
		c.sts.IncReaped()
		mlog.Warningf("throttle: reaped ticket %d held for %s past response completion", tk.id, held)
		if onReap != nil {
			onReap(tk.id, held)
		}
	}
}

// Len reports current in-flight and queued counts, for /metrics and tests.
func (c *Controller) Len() (inFlight, queued int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight), c.queue.Len()
}

// ID exposes the ticket's identity for reaper bookkeeping by callers that
// track "response already committed" state keyed by ticket ID.
func (t *Ticket) ID() uint64 { return t.id }
