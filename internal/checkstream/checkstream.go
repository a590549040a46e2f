// Package checkstream implements CheckStream (spec §4.5.1, §9): the fan-in
// tee that hashes, counts, caps, and idle-times the client body as it is
// mirrored into backend uploads or read back out of one.
//
// Grounded on the teacher's cos.CksumHash pattern of a hash.Hash paired
// with a byte counter behind a single io.Writer (ais/tgtobj.go's
// writeToFile computes a rolling checksum the same way while streaming to
// disk); the idle timer and byte cap are new because the teacher's local
// disk writes never idle-timeout or cap.
package checkstream

import (
	"crypto/md5"
	"encoding/base64"
	"hash"
	"sync"
	"time"
)

// ZeroByteMD5 is the fixed MD5 digest of an empty payload (spec §4.5.1:
// "size 0 is a special path ... MD5 is the fixed zero-byte constant").
var ZeroByteMD5 = md5.Sum(nil)

// State is the terminal state of a CheckStream.
type State int

const (
	Open State = iota
	Finished
	Abandoned
	TimedOut
	CapExceeded
)

// CheckStream is a write-once io.Writer. Once Abandon or Finish is called,
// or the stream has timed out / hit its cap, further writes are silently
// dropped (spec §4.5.1: "write-once component").
type CheckStream struct {
	mu    sync.Mutex
	hash  hash.Hash
	n     int64
	max   int64 // 0 means unbounded
	state State

	idleTimeout time.Duration
	timer       *time.Timer

	onTimeout func()
	onMaxSize func()
}

// New arms the idle timer immediately, matching spec §4.5.1: "Timer is
// armed on construction and on each successful write."
func New(maxBytes int64, idleTimeout time.Duration, onTimeout, onMaxSize func()) *CheckStream {
	cs := &CheckStream{
		hash:        md5.New(),
		max:         maxBytes,
		idleTimeout: idleTimeout,
		onTimeout:   onTimeout,
		onMaxSize:   onMaxSize,
	}
	if idleTimeout > 0 {
		cs.timer = time.AfterFunc(idleTimeout, cs.fireTimeout)
	}
	return cs
}

func (cs *CheckStream) fireTimeout() {
	cs.mu.Lock()
	if cs.state != Open {
		cs.mu.Unlock()
		return
	}
	cs.state = TimedOut
	cb := cs.onTimeout
	cs.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Write implements io.Writer. It returns an error only when the byte cap is
// exceeded on this call; an idle timeout is reported solely via the
// onTimeout callback, since it fires independently of any Write call.
func (cs *CheckStream) Write(p []byte) (int, error) {
	cs.mu.Lock()
	if cs.state != Open {
		cs.mu.Unlock()
		return len(p), nil // silently dropped, per spec
	}

	if cs.max > 0 && cs.n+int64(len(p)) > cs.max {
		// count nothing past the cap
		cs.state = CapExceeded
		if cs.timer != nil {
			cs.timer.Stop()
		}
		cb := cs.onMaxSize
		cs.mu.Unlock()
		if cb != nil {
			cb()
		}
		return 0, errMaxSizeExceeded
	}

	cs.n += int64(len(p))
	cs.hash.Write(p)
	if cs.timer != nil {
		cs.timer.Reset(cs.idleTimeout)
	}
	cs.mu.Unlock()
	return len(p), nil
}

var errMaxSizeExceeded = maxSizeExceededErr{}

type maxSizeExceededErr struct{}

func (maxSizeExceededErr) Error() string { return "length_exceeded" }

// IsMaxSizeExceeded reports whether err is the sentinel returned by Write
// when the byte cap was hit.
func IsMaxSizeExceeded(err error) bool {
	_, ok := err.(maxSizeExceededErr)
	return ok
}

// Finish transitions the stream to Finished, clearing the idle timer. It is
// a no-op if the stream already reached a terminal state.
func (cs *CheckStream) Finish() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != Open {
		return
	}
	cs.state = Finished
	if cs.timer != nil {
		cs.timer.Stop()
	}
}

// Abandon clears the idle timer and detaches callbacks; it is a no-op if
// called after a timeout or cap event already fired (spec §4.5.1 P5:
// "abandon() after timeout is a no-op").
func (cs *CheckStream) Abandon() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.state != Open {
		return
	}
	cs.state = Abandoned
	if cs.timer != nil {
		cs.timer.Stop()
	}
	cs.onTimeout = nil
	cs.onMaxSize = nil
}

// Digest returns the MD5 sum computed so far.
func (cs *CheckStream) Digest() [md5.Size]byte {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	var out [md5.Size]byte
	copy(out[:], cs.hash.Sum(nil))
	return out
}

// DigestBase64 returns Digest() base64-encoded, the wire form used for
// Content-MD5 and metadata's content_md5 field.
func (cs *CheckStream) DigestBase64() string {
	d := cs.Digest()
	return base64.StdEncoding.EncodeToString(d[:])
}

// BytesWritten reports the number of bytes accepted so far.
func (cs *CheckStream) BytesWritten() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.n
}

// State reports the stream's current terminal state (Open if still live).
func (cs *CheckStream) State() State {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.state
}

// ZeroByteMD5Base64 is the base64 form of ZeroByteMD5, used for the
// zero-byte PUT fast path.
func ZeroByteMD5Base64() string {
	return base64.StdEncoding.EncodeToString(ZeroByteMD5[:])
}
