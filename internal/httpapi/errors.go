package httpapi

import (
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errBody is the wire shape of every error response (spec §7: "a stable
// kind string plus a human message"), grounded on the teacher's cmn.ErrHTTP
// envelope ({"code", "message"}).
type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeErr translates a *merr.Error into the wire response. The cause, if
// any, is logged but never serialized (spec §7).
func writeErr(w http.ResponseWriter, r *http.Request, e *merr.Error) {
	if e.Cause != nil {
		// pkg/errors.Wrap preserves a stack trace for the log line without
		// ever reaching the client, matching the teacher's convention of
		// wrapping internal causes at the boundary where they're logged.
		wrapped := errors.Wrap(e.Cause, e.Kind)
		mlog.Errorf("httpapi: %s %s -> %s: %+v", r.Method, r.URL.Path, e.Kind, wrapped)
	} else {
		mlog.V(1).Infof("httpapi: %s %s -> %s (%d)", r.Method, r.URL.Path, e.Kind, e.Status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	body, _ := json.Marshal(errBody{Code: e.Kind, Message: e.Message})
	_, _ = w.Write(body)
}

func writeErrMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeErr(w, r, merr.MethodNotAllowed(r.Method))
}
