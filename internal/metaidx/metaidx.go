// Package metaidx is a minimal in-memory stand-in for the external,
// sharded metadata index that spec.md's Non-goals explicitly put out of
// scope ("providing the metadata index itself"). It exists so
// internal/metadata has a real conditional-write collaborator to drive
// against in tests and local runs, grounded on the teacher's in-memory
// cluster-metadata constructs (cluster.Smap, ais's bucketMD) that are
// themselves swapped/mutated behind a mutex rather than persisted
// remotely.
package metaidx

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Shark names one storage-node placement for an object (spec §3).
type Shark struct {
	Datacenter string `json:"datacenter"`
	StorageID  string `json:"storage_id"`
}

// Entry is the object metadata record of spec §3. A zero-value Entry{} (no
// Type) is the "sentinel null" record used for a missing key.
type Entry struct {
	Key                string            `json:"key"`
	Parent             string            `json:"parent"`
	Owner              string            `json:"owner"`
	Creator            string            `json:"creator"`
	Type               string            `json:"type"` // "directory" | "object" | "link" | ""
	ObjectID           string            `json:"objectId,omitempty"`
	ContentLength      int64             `json:"contentLength"`
	ContentMD5         string            `json:"contentMD5,omitempty"`
	ContentType        string            `json:"contentType,omitempty"`
	ContentDisposition string            `json:"contentDisposition,omitempty"`
	Sharks             []Shark           `json:"sharks,omitempty"`
	MtimeMS            int64             `json:"mtime"`
	Headers            map[string]string `json:"headers,omitempty"`
	Roles              []string          `json:"roles,omitempty"`
	SinglePath         bool              `json:"singlePath"`
	Etag               string            `json:"-"`
	LinkTarget         string            `json:"linkTarget,omitempty"`
}

// Exists reports whether this is a real record vs. the missing-key
// sentinel.
func (e *Entry) Exists() bool { return e != nil && e.Type != "" }

// ErrConflict is returned by Put/Delete when the caller's expected etag no
// longer matches the stored one (spec §4.4's PreconditionFailed -> the
// metadata layer above translates this into ConcurrentRequestError).
var ErrConflict = conflictErr{}

type conflictErr struct{}

func (conflictErr) Error() string { return "precondition failed: etag mismatch" }

// Index is the contract internal/metadata needs from the metadata tier.
type Index interface {
	Load(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry, expectedEtag string, conditional bool) (newEtag string, err error)
	Delete(ctx context.Context, key string, expectedEtag string, conditional bool) error
	CountChildren(ctx context.Context, parent string) (int, error)
	ListChildren(ctx context.Context, parent string, limit int, marker string, reverse bool, sortBy string) (entries []Entry, nextMarker string, err error)
}

// Memory is an in-process Index implementation.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

func (m *Memory) Load(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.entries[key]; ok {
		cp := *e
		return &cp, nil
	}
	return &Entry{}, nil
}

func (m *Memory) Put(_ context.Context, e *Entry, expectedEtag string, conditional bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.entries[e.Key]
	if conditional {
		curEtag := ""
		if ok {
			curEtag = existing.Etag
		}
		if curEtag != expectedEtag {
			return "", ErrConflict
		}
	}

	cp := *e
	cp.Etag = uuid.NewString()
	m.entries[e.Key] = &cp
	return cp.Etag, nil
}

func (m *Memory) Delete(_ context.Context, key string, expectedEtag string, conditional bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.entries[key]
	if !ok {
		return nil
	}
	if conditional && existing.Etag != expectedEtag {
		return ErrConflict
	}
	delete(m.entries, key)
	return nil
}

func (m *Memory) CountChildren(_ context.Context, parent string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	prefix := parent
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) && !strings.Contains(strings.TrimPrefix(k, prefix), "/") {
			n++
		}
	}
	return n, nil
}

// ListChildren lists parent's direct children. sortBy selects the ordering
// key ("mtime" sorts by MtimeMS; anything else, including "name" and
// "none", sorts by key name) — a plain map-backed index has no durable
// insertion order to offer "none" against, so it falls back to the name
// order.
func (m *Memory) ListChildren(_ context.Context, parent string, limit int, marker string, reverse bool, sortBy string) ([]Entry, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := parent
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var names []string
	for k := range m.entries {
		rest := strings.TrimPrefix(k, prefix)
		if rest == k || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, k)
	}
	if sortBy == "mtime" {
		sort.Slice(names, func(i, j int) bool { return m.entries[names[i]].MtimeMS < m.entries[names[j]].MtimeMS })
	} else {
		sort.Strings(names)
	}
	if reverse {
		for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
			names[i], names[j] = names[j], names[i]
		}
	}

	start := 0
	if marker != "" {
		for i, n := range names {
			if n == marker {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(names) {
		end = len(names)
	}
	var out []Entry
	for _, n := range names[start:end] {
		out = append(out, *m.entries[n])
	}
	next := ""
	if end < len(names) {
		next = names[end-1]
	}
	return out, next, nil
}
