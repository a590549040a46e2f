package throttle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
)

func TestEnterLeaveFIFO(t *testing.T) {
	cfg := &config.ThrottleConf{Enabled: true, Concurrency: 1, QueueTolerance: 2}
	_ = cfg.Validate()
	c := New(cfg, nil)

	t1, err := c.Enter(context.Background())
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}

	admitted := make(chan struct{})
	go func() {
		t2, err := c.Enter(context.Background())
		if err != nil {
			t.Errorf("second Enter: %v", err)
			return
		}
		close(admitted)
		c.Leave(t2)
	}()

	select {
	case <-admitted:
		t.Fatal("second Enter was admitted before the first Leave")
	case <-time.After(50 * time.Millisecond):
	}

	c.Leave(t1)

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("second Enter never admitted after Leave")
	}
}

func TestEnterThrottledWhenQueueFull(t *testing.T) {
	cfg := &config.ThrottleConf{Enabled: true, Concurrency: 1, QueueTolerance: 0}
	_ = cfg.Validate()
	c := New(cfg, nil)

	t1, err := c.Enter(context.Background())
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer c.Leave(t1)

	if _, err := c.Enter(context.Background()); err == nil {
		t.Fatal("Enter() with a full queue should have been throttled")
	} else if err.Kind != "Throttled" {
		t.Fatalf("err.Kind = %s, want Throttled", err.Kind)
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	cfg := &config.ThrottleConf{Enabled: true, Concurrency: 2}
	_ = cfg.Validate()
	c := New(cfg, nil)

	tk, err := c.Enter(context.Background())
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	c.Leave(tk)
	c.Leave(tk) // must not panic or double-free the slot

	inFlight, _ := c.Len()
	if inFlight != 0 {
		t.Fatalf("inFlight = %d, want 0", inFlight)
	}
}

func TestDisabledThrottleAlwaysAdmits(t *testing.T) {
	cfg := &config.ThrottleConf{Enabled: false}
	c := New(cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := c.Enter(context.Background())
			if err != nil {
				t.Errorf("Enter: %v", err)
				return
			}
			c.Leave(tk)
		}()
	}
	wg.Wait()
}

func TestReaperReleasesStuckTickets(t *testing.T) {
	cfg := &config.ThrottleConf{Enabled: true, Concurrency: 1, ReapIntervalMS: 10}
	_ = cfg.Validate()
	c := New(cfg, nil)

	tk, err := c.Enter(context.Background())
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunReaper(ctx, func(uint64) bool { return true }, nil)

	deadline := time.After(time.Second)
	for {
		if tk.Released() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reaper never released the stuck ticket")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
