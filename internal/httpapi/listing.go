package httpapi

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/teris-io/shortid"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
)

const (
	defaultListingLimit = 256
	maxListingLimit     = 1024
	markerCacheCap      = 4096
)

// markerCodec turns the index's raw continuation markers into opaque tokens
// so a client never has to understand (or depend on) index-internal key
// shapes, mirroring the teacher's opaque-UUID pagination handles (the
// lithammer/shortuuid indirect dependency pulled in by dsort's job IDs)
// generalized here to directory-listing cursors with teris-io/shortid.
type markerCodec struct {
	mu    sync.Mutex
	byTok map[string]string
}

func newMarkerCodec() *markerCodec {
	return &markerCodec{byTok: map[string]string{}}
}

func (c *markerCodec) encode(raw string) string {
	if raw == "" {
		return ""
	}
	tok, err := shortid.Generate()
	if err != nil {
		return raw
	}
	c.mu.Lock()
	if len(c.byTok) >= markerCacheCap {
		c.byTok = map[string]string{}
	}
	c.byTok[tok] = raw
	c.mu.Unlock()
	return tok
}

func (c *markerCodec) decode(tok string) string {
	if tok == "" {
		return ""
	}
	c.mu.Lock()
	raw, ok := c.byTok[tok]
	c.mu.Unlock()
	if !ok {
		return tok
	}
	return raw
}

var markers = newMarkerCodec()

// handleListDirectory renders an NDJSON directory listing (spec §6: one
// JSON object per line, Content-Type application/x-json-stream;
// type=directory, Result-Set-Size header).
func (rt *Router) handleListDirectory(w http.ResponseWriter, r *http.Request, key string, dirEntry *metaidx.Entry, headOnly bool) {
	q := r.URL.Query()

	limit := defaultListingLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListingLimit {
			writeErr(w, r, merr.InvalidLimit(v))
			return
		}
		limit = n
	}

	reverse := q.Get("sort_order") == "DESC" || q.Get("sort_order") == "desc"
	marker := markers.decode(q.Get("marker"))
	wantDirOnly := q.Get("type") == "dir"
	wantObjOnly := q.Get("type") == "obj"
	sortBy := q.Get("sort")

	w.Header().Set("Content-Type", "application/x-json-stream; type=directory")
	w.Header().Set("Etag", dirEntry.Etag)

	if headOnly {
		w.WriteHeader(http.StatusOK)
		return
	}

	entries, next, lerr := rt.Envelope.Index.ListChildren(r.Context(), key, limit, marker, reverse, sortBy)
	if lerr != nil {
		writeErr(w, r, merr.InternalError(lerr))
		return
	}

	w.Header().Set("Result-Set-Size", strconv.Itoa(len(entries)))
	if next != "" {
		w.Header().Set("Next-Marker", markers.encode(next))
	}
	w.WriteHeader(http.StatusOK)

	for _, e := range entries {
		if wantDirOnly && e.Type != "directory" {
			continue
		}
		if wantObjOnly && e.Type != "object" {
			continue
		}
		line, err := json.Marshal(listingRow{
			Name:               baseName(e.Key),
			Type:               e.Type,
			MTime:              e.MtimeMS,
			Size:               e.ContentLength,
			Etag:               e.Etag,
			ContentType:        e.ContentType,
			ContentMD5:         e.ContentMD5,
			ContentDisposition: e.ContentDisposition,
			Durability:         len(e.Sharks),
		})
		if err != nil {
			continue
		}
		_, _ = w.Write(line)
		_, _ = w.Write([]byte("\n"))
	}
}

type listingRow struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	MTime              int64  `json:"mtime"`
	Size               int64  `json:"size,omitempty"`
	Etag               string `json:"etag,omitempty"`
	ContentType        string `json:"contentType,omitempty"`
	ContentMD5         string `json:"contentMD5,omitempty"`
	ContentDisposition string `json:"contentDisposition,omitempty"`
	Durability         int    `json:"durability"`
}

func baseName(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[i+1:]
		}
	}
	return key
}
