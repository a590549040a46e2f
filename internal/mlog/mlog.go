// Package mlog provides leveled logging for the gateway, wrapping glog the
// same way the upstream target and proxy daemons do.
package mlog

import (
	"flag"

	"github.com/golang/glog"
)

// Level gates high-frequency logging, mirroring glog.FastV guards around
// per-chunk streaming and reaper events in the upstream daemons.
type Level = glog.Level

// SetLevel wires the LOG_LEVEL environment variable (spec §6) to glog's
// verbosity flag at process start.
func SetLevel(v int) {
	f := flag.Lookup("v")
	if f == nil {
		return
	}
	_ = f.Value.Set(itoa(v))
}

func itoa(v int) string {
	if v <= 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}

func V(level Level) glog.Verbose { return glog.V(level) }

func Infof(format string, args ...interface{})    { glog.Infof(format, args...) }
func Warningf(format string, args ...interface{}) { glog.Warningf(format, args...) }
func Errorf(format string, args ...interface{})   { glog.Errorf(format, args...) }
func Infoln(args ...interface{})                  { glog.Infoln(args...) }

// Flush forces buffered log entries to disk; called from shutdown paths.
func Flush() { glog.Flush() }
