package checkstream

import (
	"testing"
	"time"
)

func TestCheckStreamDigest(t *testing.T) {
	cs := New(0, time.Minute, nil, nil)
	if _, err := cs.Write([]byte("hello ")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := cs.Write([]byte("world")); err != nil {
		t.Fatalf("write: %v", err)
	}
	cs.Finish()

	if got := cs.BytesWritten(); got != 11 {
		t.Fatalf("BytesWritten() = %d, want 11", got)
	}
	if cs.State() != Finished {
		t.Fatalf("State() = %v, want Finished", cs.State())
	}
	if got := cs.DigestBase64(); got != "XrY7u+Ae7tCTyyK7j1rNww==" {
		t.Fatalf("DigestBase64() = %s, want MD5 of \"hello world\" (XrY7u+Ae7tCTyyK7j1rNww==)", got)
	}
}

func TestCheckStreamMaxSizeExceeded(t *testing.T) {
	var capped bool
	cs := New(4, time.Minute, nil, func() { capped = true })
	_, err := cs.Write([]byte("too many bytes"))
	if !IsMaxSizeExceeded(err) {
		t.Fatalf("Write() err = %v, want max-size-exceeded sentinel", err)
	}
	if !capped {
		t.Fatal("onMaxSize callback was not invoked")
	}
	if cs.State() != CapExceeded {
		t.Fatalf("State() = %v, want CapExceeded", cs.State())
	}
}

func TestCheckStreamWritesAfterFinishAreDropped(t *testing.T) {
	cs := New(0, time.Minute, nil, nil)
	cs.Finish()
	n, err := cs.Write([]byte("late"))
	if err != nil || n != 4 {
		t.Fatalf("Write() after Finish = (%d, %v), want (4, nil)", n, err)
	}
	if cs.BytesWritten() != 0 {
		t.Fatalf("BytesWritten() = %d, want 0 (dropped)", cs.BytesWritten())
	}
}

func TestCheckStreamIdleTimeout(t *testing.T) {
	done := make(chan struct{})
	cs := New(0, 10*time.Millisecond, func() { close(done) }, nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onTimeout was never called")
	}
	if cs.State() != TimedOut {
		t.Fatalf("State() = %v, want TimedOut", cs.State())
	}
}

func TestAbandonAfterTimeoutIsNoOp(t *testing.T) {
	done := make(chan struct{})
	cs := New(0, 5*time.Millisecond, func() { close(done) }, nil)
	<-done
	cs.Abandon()
	if cs.State() != TimedOut {
		t.Fatalf("State() = %v, want TimedOut (Abandon must not override a terminal state)", cs.State())
	}
}

func TestZeroByteMD5Base64(t *testing.T) {
	cs := New(0, time.Minute, nil, nil)
	cs.Finish()
	if cs.DigestBase64() != ZeroByteMD5Base64() {
		t.Fatalf("DigestBase64() = %s, want zero-byte constant %s", cs.DigestBase64(), ZeroByteMD5Base64())
	}
}
