// Package orphan provides the hook named in spec §1/§4.5.1/§7: when a PUT
// fails after any backend already has bytes, the (object_id, nodes) tuple
// is enqueued for the out-of-core offline cleanup pipeline. This package
// only records the tuple; it never scans or deletes anything itself.
package orphan

import (
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
)

// Record names bytes that may be sitting on storage nodes without a live
// metadata record pointing at them.
type Record struct {
	ObjectID string
	Owner    string
	Sharks   []metaidx.Shark
	Reason   string
}

// Sink accepts orphan records without blocking the failure path that
// produced them (spec §4.5.1: "the failure path never blocks on this").
type Sink interface {
	Enqueue(r Record)
}

// Channel is a bounded in-process Sink. A real deployment would hand these
// records to an external queue; this stands in for that queue locally.
type Channel struct {
	ch chan Record
}

func NewChannel(capacity int) *Channel {
	return &Channel{ch: make(chan Record, capacity)}
}

// Enqueue drops the record and logs it if the channel is full, rather than
// blocking the caller.
func (c *Channel) Enqueue(r Record) {
	select {
	case c.ch <- r:
	default:
		mlog.Warningf("orphan: queue full, dropping orphan record for object %s (%s)", r.ObjectID, r.Reason)
	}
}

// Drain returns a read-only view for a background consumer (e.g. a test,
// or a future real cleanup worker) to pull records from.
func (c *Channel) Drain() <-chan Record { return c.ch }
