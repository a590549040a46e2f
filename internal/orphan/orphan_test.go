package orphan

import (
	"testing"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
)

func TestEnqueueThenDrain(t *testing.T) {
	c := NewChannel(2)
	c.Enqueue(Record{ObjectID: "obj-1", Owner: "acc", Sharks: []metaidx.Shark{{StorageID: "shark1"}}, Reason: "test"})

	select {
	case r := <-c.Drain():
		if r.ObjectID != "obj-1" {
			t.Fatalf("ObjectID = %s, want obj-1", r.ObjectID)
		}
	default:
		t.Fatal("Drain() produced nothing after Enqueue")
	}
}

func TestEnqueueDropsWithoutBlockingWhenFull(t *testing.T) {
	c := NewChannel(1)
	c.Enqueue(Record{ObjectID: "obj-1"})

	done := make(chan struct{})
	go func() {
		c.Enqueue(Record{ObjectID: "obj-2"}) // queue full, must not block
		close(done)
	}()
	<-done

	r := <-c.Drain()
	if r.ObjectID != "obj-1" {
		t.Fatalf("Drain() = %s, want obj-1 (obj-2 should have been dropped)", r.ObjectID)
	}
	select {
	case extra := <-c.Drain():
		t.Fatalf("unexpected second record in channel: %+v", extra)
	default:
	}
}
