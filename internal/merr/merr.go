// Package merr defines the public error taxonomy of the gateway (spec §7).
// Each kind carries a stable code string and an HTTP status, grounded on the
// small typed-error convention used throughout the teacher's cmn package.
package merr

import (
	"fmt"
	"net/http"
)

// Error is the only error type handlers are allowed to translate into an
// HTTP response. Cause is logged with request context but never serialized
// to the client.
type Error struct {
	Kind    string
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind string, status int, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Status: status, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an internal cause for logging without changing the
// kind/status/message the client observes.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.Cause = cause
	return &cp
}

// --- 400s ---

func InvalidPath(path string) *Error {
	return newErr("InvalidPath", http.StatusBadRequest, "invalid path %q", path)
}

func InvalidLimit(v string) *Error {
	return newErr("InvalidLimit", http.StatusBadRequest, "invalid limit %q", v)
}

func InvalidParameter(name, v string) *Error {
	return newErr("InvalidParameter", http.StatusBadRequest, "invalid parameter %s=%q", name, v)
}

func InvalidRoleTag(name string) *Error {
	return newErr("InvalidRoleTag", http.StatusBadRequest, "unknown role %q", name)
}

func InvalidDurabilityLevel(v, max int) *Error {
	return newErr("InvalidDurabilityLevel", http.StatusBadRequest,
		"durability level %d out of range [1, %d]", v, max)
}

func InvalidLink(reason string) *Error {
	return newErr("InvalidLink", http.StatusBadRequest, "%s", reason)
}

func BadRequest(format string, args ...interface{}) *Error {
	return newErr("BadRequest", http.StatusBadRequest, format, args...)
}

// --- 401 / 403 ---

func Unauthorized() *Error {
	return newErr("Unauthorized", http.StatusUnauthorized, "authentication required")
}

func Forbidden(reason string) *Error {
	return newErr("Forbidden", http.StatusForbidden, "%s", reason)
}

func NoMatchingRoleTag() *Error {
	return newErr("NoMatchingRoleTag", http.StatusForbidden, "no matching role tag")
}

func AuthorizationError(reason string) *Error {
	return newErr("AuthorizationError", http.StatusForbidden, "%s", reason)
}

// --- 404 ---

func ResourceNotFound(key string) *Error {
	return newErr("ResourceNotFound", http.StatusNotFound, "%s does not exist", key)
}

func LinkNotFound(key string) *Error {
	return newErr("LinkNotFound", http.StatusNotFound, "link source %s does not exist", key)
}

// --- 405 / 406 ---

func MethodNotAllowed(method string) *Error {
	return newErr("MethodNotAllowed", http.StatusMethodNotAllowed, "method %s not allowed here", method)
}

func NotAcceptable(reason string) *Error {
	return newErr("NotAcceptable", http.StatusNotAcceptable, "%s", reason)
}

func NotImplemented(reason string) *Error {
	return newErr("NotImplemented", http.StatusNotImplemented, "%s", reason)
}

// --- 412 ---

func PreconditionFailed() *Error {
	return newErr("PreconditionFailed", http.StatusPreconditionFailed, "precondition failed")
}

func ConcurrentRequestError() *Error {
	return newErr("ConcurrentRequestError", http.StatusPreconditionFailed,
		"a concurrent request modified this object, please retry")
}

// --- namespace / directory, 400 or 409 ---

func DirectoryNotEmpty(key string) *Error {
	return newErr("DirectoryNotEmpty", http.StatusConflict, "%s is not empty", key)
}

func DirectoryOperation(reason string) *Error {
	return newErr("DirectoryOperation", http.StatusBadRequest, "%s", reason)
}

func ParentNotDirectory(parent string) *Error {
	return newErr("ParentNotDirectory", http.StatusBadRequest, "%s is not a directory", parent)
}

func DirectoryDoesNotExist(parent string) *Error {
	return newErr("DirectoryDoesNotExist", http.StatusBadRequest, "%s does not exist", parent)
}

func DirectoryLimit(parent string) *Error {
	return newErr("DirectoryLimit", http.StatusBadRequest, "%s has reached the maximum entry count", parent)
}

func RootDirectory(key string) *Error {
	return newErr("RootDirectory", http.StatusBadRequest, "%s is a root directory", key)
}

func LinkNotObject(key string) *Error {
	return newErr("LinkNotObject", http.StatusBadRequest, "%s is not an object", key)
}

// --- checksum / size ---

func ChecksumError(reason string) *Error {
	return newErr("ChecksumError", 469, "%s", reason)
}

func MaxContentLength(max int64) *Error {
	return newErr("MaxContentLength", http.StatusBadRequest, "content-length exceeds maximum of %d bytes", max)
}

func MaxSizeExceeded(max int64) *Error {
	return newErr("MaxSizeExceeded", http.StatusRequestEntityTooLarge, "upload exceeded the %d byte cap", max)
}

func RequestedRangeNotSatisfiable(contentRange string) *Error {
	e := newErr("RequestedRangeNotSatisfiable", http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
	if contentRange != "" {
		e.Message = e.Message + ": " + contentRange
	}
	return e
}

// --- throttle / availability ---

func Throttled(queued, inflight, concurrency int) *Error {
	return newErr("Throttled", http.StatusServiceUnavailable,
		"server is overloaded: queued=%d inflight=%d concurrency=%d", queued, inflight, concurrency)
}

func ServiceUnavailable(dep string) *Error {
	return newErr("ServiceUnavailable", http.StatusServiceUnavailable, "%s is unavailable", dep)
}

// --- placement, 507 ---

func NotEnoughSpace(cause string) *Error {
	return newErr("NotEnoughSpace", http.StatusInsufficientStorage, "%s", cause)
}

func SharksExhausted() *Error {
	return newErr("SharksExhausted", http.StatusInsufficientStorage, "no placement tuple could be opened")
}

// --- transport, 499 / 500 ---

func UploadTimeout() *Error {
	return newErr("UploadTimeout", 499, "upload stalled past the idle timeout")
}

func UploadAbandoned(reason string) *Error {
	return newErr("UploadAbandoned", 499, "%s", reason)
}

func InternalError(cause error) *Error {
	e := newErr("InternalError", http.StatusInternalServerError, "internal error")
	return e.WithCause(cause)
}

func ConnectTimeout(storageID string) *Error {
	return newErr("ConnectTimeout", http.StatusGatewayTimeout, "storage node %s did not respond in time", storageID)
}

func BackendStatus(storageID string, code int, body string) *Error {
	status := http.StatusBadGateway
	if code >= 400 && code < 500 {
		status = http.StatusBadRequest
	}
	return newErr("BackendStatus", status, "storage node %s returned %d: %s", storageID, code, body)
}
