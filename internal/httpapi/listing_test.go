package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metadata"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
)

func newTestRouterWithEnvelope() (*Router, *metadata.Envelope) {
	env := &metadata.Envelope{
		Index:              metaidx.NewMemory(),
		SnaplinksEnabled:   true,
		SnaplinksPossible:  true,
		AccountsNoSnaplink: map[string]bool{},
	}
	return &Router{Envelope: env}, env
}

func TestMarkerCodecRoundTrips(t *testing.T) {
	c := newMarkerCodec()
	tok := c.encode("/acc/stor/raw-marker")
	if tok == "" {
		t.Fatal("encode returned empty token for a non-empty marker")
	}
	if got := c.decode(tok); got != "/acc/stor/raw-marker" {
		t.Fatalf("decode(%q) = %q, want raw marker", tok, got)
	}
}

func TestMarkerCodecDecodeUnknownTokenPassesThrough(t *testing.T) {
	c := newMarkerCodec()
	if got := c.decode("never-minted"); got != "never-minted" {
		t.Fatalf("decode() = %q, want the input echoed back", got)
	}
}

func TestMarkerCodecEmptyRoundTrips(t *testing.T) {
	c := newMarkerCodec()
	if tok := c.encode(""); tok != "" {
		t.Fatalf("encode(\"\") = %q, want empty", tok)
	}
	if got := c.decode(""); got != "" {
		t.Fatalf("decode(\"\") = %q, want empty", got)
	}
}

func TestHandleListDirectoryRendersNDJSON(t *testing.T) {
	rt, env := newTestRouterWithEnvelope()
	ctx := context.Background()

	dir, _ := env.BuildMetadata(metadata.BuildParams{Key: "/acc/stor", Owner: "acc", Type: "directory"}, time.Now())
	if _, cerr := env.Commit(ctx, dir, metadata.Conditional{}, ""); cerr != nil {
		t.Fatalf("Commit dir: %v", cerr)
	}
	for _, name := range []string{"a", "b"} {
		entry, _ := env.BuildMetadata(metadata.BuildParams{Key: "/acc/stor/" + name, Owner: "acc", Type: "object"}, time.Now())
		if _, cerr := env.Commit(ctx, entry, metadata.Conditional{}, ""); cerr != nil {
			t.Fatalf("Commit %s: %v", name, cerr)
		}
	}

	load, lerr := env.Load(ctx, "/acc/stor", false)
	if lerr != nil {
		t.Fatalf("Load: %v", lerr)
	}

	req := httptest.NewRequest(http.MethodGet, "/acc/stor", nil)
	rec := httptest.NewRecorder()
	rt.handleListDirectory(rec, req, "/acc/stor", load.Entry, false)

	if ct := rec.Header().Get("Content-Type"); ct != "application/x-json-stream; type=directory" {
		t.Fatalf("Content-Type = %s", ct)
	}
	if rec.Header().Get("Result-Set-Size") != "2" {
		t.Fatalf("Result-Set-Size = %s, want 2", rec.Header().Get("Result-Set-Size"))
	}

	lines := 0
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("got %d NDJSON lines, want 2", lines)
	}
}

func TestHandleListDirectoryHeadOnlySkipsBody(t *testing.T) {
	rt, env := newTestRouterWithEnvelope()
	ctx := context.Background()

	dir, _ := env.BuildMetadata(metadata.BuildParams{Key: "/acc/stor", Owner: "acc", Type: "directory"}, time.Now())
	if _, cerr := env.Commit(ctx, dir, metadata.Conditional{}, ""); cerr != nil {
		t.Fatalf("Commit dir: %v", cerr)
	}
	load, _ := env.Load(ctx, "/acc/stor", false)

	req := httptest.NewRequest(http.MethodHead, "/acc/stor", nil)
	rec := httptest.NewRecorder()
	rt.handleListDirectory(rec, req, "/acc/stor", load.Entry, true)

	if rec.Body.Len() != 0 {
		t.Fatalf("HEAD listing wrote a body: %q", rec.Body.String())
	}
}

func TestHandleListDirectoryRowContents(t *testing.T) {
	rt, env := newTestRouterWithEnvelope()
	ctx := context.Background()

	dir, _ := env.BuildMetadata(metadata.BuildParams{Key: "/acc/stor", Owner: "acc", Type: "directory"}, time.Now())
	if _, cerr := env.Commit(ctx, dir, metadata.Conditional{}, ""); cerr != nil {
		t.Fatalf("Commit dir: %v", cerr)
	}
	entry, _ := env.BuildMetadata(metadata.BuildParams{
		Key:                "/acc/stor/obj",
		Owner:              "acc",
		Type:               "object",
		ContentType:        "text/plain",
		ContentMD5:         "deadbeef",
		ContentDisposition: "attachment",
		Sharks:             []metaidx.Shark{{Datacenter: "dc1", StorageID: "s1"}, {Datacenter: "dc2", StorageID: "s2"}},
	}, time.Now())
	if _, cerr := env.Commit(ctx, entry, metadata.Conditional{}, ""); cerr != nil {
		t.Fatalf("Commit obj: %v", cerr)
	}

	load, _ := env.Load(ctx, "/acc/stor", false)
	req := httptest.NewRequest(http.MethodGet, "/acc/stor", nil)
	rec := httptest.NewRecorder()
	rt.handleListDirectory(rec, req, "/acc/stor", load.Entry, false)

	var row listingRow
	if err := json.Unmarshal([]byte(strings.TrimSpace(rec.Body.String())), &row); err != nil {
		t.Fatalf("unmarshal row: %v", err)
	}
	if row.ContentType != "text/plain" || row.ContentMD5 != "deadbeef" || row.ContentDisposition != "attachment" {
		t.Fatalf("row = %+v, missing expected content fields", row)
	}
	if row.Durability != 2 {
		t.Fatalf("row.Durability = %d, want 2", row.Durability)
	}
}

func TestHandleListDirectoryTypeFilterUsesDirObjParams(t *testing.T) {
	rt, env := newTestRouterWithEnvelope()
	ctx := context.Background()

	dir, _ := env.BuildMetadata(metadata.BuildParams{Key: "/acc/stor", Owner: "acc", Type: "directory"}, time.Now())
	if _, cerr := env.Commit(ctx, dir, metadata.Conditional{}, ""); cerr != nil {
		t.Fatalf("Commit dir: %v", cerr)
	}
	child, _ := env.BuildMetadata(metadata.BuildParams{Key: "/acc/stor/child", Owner: "acc", Type: "directory"}, time.Now())
	if _, cerr := env.Commit(ctx, child, metadata.Conditional{}, ""); cerr != nil {
		t.Fatalf("Commit child dir: %v", cerr)
	}
	obj, _ := env.BuildMetadata(metadata.BuildParams{Key: "/acc/stor/obj", Owner: "acc", Type: "object"}, time.Now())
	if _, cerr := env.Commit(ctx, obj, metadata.Conditional{}, ""); cerr != nil {
		t.Fatalf("Commit obj: %v", cerr)
	}

	load, _ := env.Load(ctx, "/acc/stor", false)
	req := httptest.NewRequest(http.MethodGet, "/acc/stor?type=obj", nil)
	rec := httptest.NewRecorder()
	rt.handleListDirectory(rec, req, "/acc/stor", load.Entry, false)

	var row listingRow
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines for type=obj, want 1", len(lines))
	}
	if err := json.Unmarshal([]byte(lines[0]), &row); err != nil {
		t.Fatalf("unmarshal row: %v", err)
	}
	if row.Type != "object" {
		t.Fatalf("row.Type = %s, want object", row.Type)
	}
}

func TestHandleListDirectoryRejectsBadLimit(t *testing.T) {
	rt, env := newTestRouterWithEnvelope()
	ctx := context.Background()
	dir, _ := env.BuildMetadata(metadata.BuildParams{Key: "/acc/stor", Owner: "acc", Type: "directory"}, time.Now())
	if _, cerr := env.Commit(ctx, dir, metadata.Conditional{}, ""); cerr != nil {
		t.Fatalf("Commit dir: %v", cerr)
	}
	load, _ := env.Load(ctx, "/acc/stor", false)

	req := httptest.NewRequest(http.MethodGet, "/acc/stor?limit=0", nil)
	rec := httptest.NewRecorder()
	rt.handleListDirectory(rec, req, "/acc/stor", load.Entry, false)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a bad limit", rec.Code)
	}
}
