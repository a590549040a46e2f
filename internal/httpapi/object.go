package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/dataplane"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metadata"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
)

// objectHandler is the verb switch for every non-operational path, mirroring
// the teacher's objectHandler/bucketHandler split (ais/proxy.go) collapsed
// into one handler since accounts/directories/objects share a namespace.
func (rt *Router) objectHandler(w http.ResponseWriter, r *http.Request) {
	key, nerr := metadata.NormalizePath(r.URL.Path)
	if nerr != nil {
		writeErr(w, r, nerr)
		return
	}

	switch r.Method {
	case http.MethodPut:
		rt.handlePut(w, r, key)
	case http.MethodGet:
		rt.handleGet(w, r, key, false)
	case http.MethodHead:
		rt.handleGet(w, r, key, true)
	case http.MethodDelete:
		rt.handleDelete(w, r, key)
	case http.MethodOptions:
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE, OPTIONS")
		w.WriteHeader(http.StatusOK)
	default:
		writeErrMethodNotAllowed(w, r, http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions)
	}
}

func conditionalFromHeaders(r *http.Request) metadata.Conditional {
	ifMatch := r.Header.Get("If-Match")
	ifNoneMatch := r.Header.Get("If-None-Match")
	return metadata.Conditional{
		IfMatch:     ifMatch,
		IfNoneMatch: ifNoneMatch,
		Present:     ifMatch != "" || ifNoneMatch != "",
	}
}

// evaluatePrecondition applies If-Match/If-None-Match against the etag
// loaded at read time, before any write or response body is produced (spec
// §4.4 "shared precondition layer").
func evaluatePrecondition(cond metadata.Conditional, etag string, exists bool) *merr.Error {
	if cond.IfMatch != "" && cond.IfMatch != "*" && cond.IfMatch != etag {
		return merr.PreconditionFailed()
	}
	if cond.IfMatch == "*" && !exists {
		return merr.PreconditionFailed()
	}
	if cond.IfNoneMatch != "" {
		if cond.IfNoneMatch == "*" && exists {
			return merr.PreconditionFailed()
		}
		if cond.IfNoneMatch == etag && etag != "" {
			return merr.PreconditionFailed()
		}
	}
	return nil
}

func isDirectoryPUT(r *http.Request) bool {
	return isDirectoryContentType(r.Header.Get("Content-Type"))
}

func isDirectoryContentType(ct string) bool {
	return strings.Contains(ct, "type=directory")
}

func ownerOf(r *http.Request) string {
	// Authentication is out of scope (spec Non-goals); the owner is the
	// first path segment of every normalized key, so handlers recover it
	// from the account header an upstream auth proxy is expected to set.
	if v := r.Header.Get("X-Manta-Owner"); v != "" {
		return v
	}
	return metadata.Account(r.URL.Path)
}

func (rt *Router) handlePut(w http.ResponseWriter, r *http.Request, key string) {
	cond := conditionalFromHeaders(r)
	owner := ownerOf(r)

	if source := r.Header.Get("Location"); source != "" {
		rt.handleCreateLink(w, r, key, owner, source)
		return
	}

	if isDirectoryPUT(r) {
		rt.handleCreateDirectory(w, r, key, owner, cond)
		return
	}

	contentLength := r.ContentLength
	durability := 0
	if v := r.Header.Get("Durability-Level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeErr(w, r, merr.InvalidParameter("durability-level", v))
			return
		}
		durability = n
	}

	res, perr := rt.Orchestrator.Put(r.Context(), dataplane.PutParams{
		Key:                key,
		Owner:              owner,
		Body:               r.Body,
		ContentLength:      contentLength,
		ContentType:        r.Header.Get("Content-Type"),
		ContentDisposition: r.Header.Get("Content-Disposition"),
		ClientMD5Base64:    r.Header.Get("Content-MD5"),
		DurabilityLevel:    durability,
		IsOperator:         r.Header.Get("X-Manta-Operator") == "true",
		RequestID:          requestID(r),
		CustomHeaders:      customHeaders(r),
		CORSHeaders:        corsHeaders(r),
		CacheControl:       r.Header.Get("Cache-Control"),
		SurrogateKey:       r.Header.Get("Surrogate-Key"),
		Conditional:        cond,
	})
	if perr != nil {
		writeErr(w, r, perr)
		return
	}

	w.Header().Set("Etag", res.Etag)
	w.Header().Set("Last-Modified", res.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Computed-MD5", res.ComputedMD5)
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleCreateDirectory(w http.ResponseWriter, r *http.Request, key, owner string, cond metadata.Conditional) {
	load, lerr := rt.Envelope.Load(r.Context(), key, true)
	if lerr != nil {
		writeErr(w, r, lerr)
		return
	}
	if merr := metadata.EnsureNotRoot(key, true); merr != nil {
		writeErr(w, r, merr)
		return
	}
	if merr := metadata.EnsureParent(key, load.Parent); merr != nil {
		writeErr(w, r, merr)
		return
	}
	if !load.Entry.Exists() {
		if merr := rt.Envelope.EnforceDirectoryCount(r.Context(), metadata.Parent(key)); merr != nil {
			writeErr(w, r, merr)
			return
		}
	} else if load.Entry.Type != "directory" {
		writeErr(w, r, merr.DirectoryOperation("a non-directory entry already exists at this path"))
		return
	}

	entry, berr := rt.Envelope.BuildMetadata(metadata.BuildParams{
		Key:           key,
		Owner:         owner,
		Type:          "directory",
		CustomHeaders: customHeaders(r),
		CORSHeaders:   corsHeaders(r),
		CacheControl:  r.Header.Get("Cache-Control"),
		SurrogateKey:  r.Header.Get("Surrogate-Key"),
	}, time.Now())
	if berr != nil {
		writeErr(w, r, berr)
		return
	}

	if load.Entry.Exists() && !cond.Present && directoryUnchanged(load.Entry, entry) {
		w.Header().Set("Etag", load.Entry.Etag)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	etag, cerr := rt.Envelope.Commit(r.Context(), entry, cond, load.ConditionalEtag)
	if cerr != nil {
		writeErr(w, r, cerr)
		return
	}
	w.Header().Set("Etag", etag)
	w.WriteHeader(http.StatusNoContent)
}

// directoryUnchanged reports whether a freshly-built directory entry carries
// nothing a repeat mkdir didn't already write (spec §4.5.1's idempotent
// mkdir: identical whitelisted fields return 204 without a new index write).
func directoryUnchanged(existing, fresh *metaidx.Entry) bool {
	if existing.Owner != fresh.Owner {
		return false
	}
	if len(existing.Headers) != len(fresh.Headers) {
		return false
	}
	for k, v := range fresh.Headers {
		if existing.Headers[k] != v {
			return false
		}
	}
	return true
}

func (rt *Router) handleCreateLink(w http.ResponseWriter, r *http.Request, linkKey, owner, rawSource string) {
	sourceKey, nerr := metadata.NormalizePath(rawSource)
	if nerr != nil {
		writeErr(w, r, nerr)
		return
	}
	if lerr := rt.Envelope.CreateLink(r.Context(), sourceKey, linkKey, owner); lerr != nil {
		writeErr(w, r, lerr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleGet(w http.ResponseWriter, r *http.Request, key string, headOnly bool) {
	load, lerr := rt.Envelope.Load(r.Context(), key, false)
	if lerr != nil {
		writeErr(w, r, lerr)
		return
	}
	if !load.Entry.Exists() {
		writeErr(w, r, merr.ResourceNotFound(key))
		return
	}
	cond := conditionalFromHeaders(r)
	if perr := evaluatePrecondition(cond, load.Entry.Etag, true); perr != nil {
		writeErr(w, r, perr)
		return
	}

	if load.Entry.Type == "directory" {
		rt.handleListDirectory(w, r, key, load.Entry, headOnly)
		return
	}

	result, gerr := rt.Orchestrator.Get(r.Context(), dataplane.GetParams{
		Key:       key,
		RequestID: requestID(r),
		HeadOnly:  headOnly,
		Range:     r.Header.Get("Range"),
		Writer:    w,
	})
	if gerr != nil {
		writeErr(w, r, gerr)
		return
	}
	writeObjectHeaders(w, result.Entry)
}

func writeObjectHeaders(w http.ResponseWriter, entry *metaidx.Entry) {
	w.Header().Set("Etag", entry.Etag)
	w.Header().Set("Last-Modified", time.UnixMilli(entry.MtimeMS).UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.FormatInt(entry.ContentLength, 10))
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	if entry.ContentMD5 != "" {
		w.Header().Set("Content-MD5", entry.ContentMD5)
	}
	if entry.ContentDisposition != "" {
		w.Header().Set("Content-Disposition", entry.ContentDisposition)
	}
	for name, v := range entry.Headers {
		w.Header().Set(name, v)
	}
}

func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request, key string) {
	cond := conditionalFromHeaders(r)
	res, derr := rt.Orchestrator.Delete(r.Context(), dataplane.DeleteParams{Key: key, Conditional: cond})
	if derr != nil {
		writeErr(w, r, derr)
		return
	}
	if rt.Stats != nil {
		if res.WasDirectory {
			rt.Stats.DirsDeletedTotal.Inc()
		} else {
			rt.Stats.BytesDeletedTotal.Add(float64(res.BytesDeleted))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func requestID(r *http.Request) string {
	if v := r.Header.Get("Request-Id"); v != "" {
		return v
	}
	return uuid.NewString()
}

func customHeaders(r *http.Request) map[string]string {
	out := map[string]string{}
	for name, vals := range r.Header {
		if len(vals) == 0 {
			continue
		}
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "m-") {
			out[strings.TrimPrefix(lower, "m-")] = vals[0]
		}
	}
	return out
}

func corsHeaders(r *http.Request) map[string]string {
	out := map[string]string{}
	for _, name := range []string{"Access-Control-Allow-Origin", "Access-Control-Allow-Methods", "Access-Control-Expose-Headers"} {
		if v := r.Header.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}
