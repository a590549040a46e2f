package metadata

import (
	"context"
	"mime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
)

const maxCustomHeaderBytes = 4 * 1024
const maxDirectoryEntries = 1_000_000

// corsWhitelist is the small set of CORS/response headers the envelope
// copies from a request onto a new metadata record (spec §4.4).
var corsWhitelist = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Methods",
	"Access-Control-Expose-Headers",
}

// Envelope is the metadata consistency envelope, component C4.
type Envelope struct {
	Index              metaidx.Index
	SnaplinksEnabled   bool
	SnaplinksPossible  bool // "snaplinks still possibly exist" global flag, spec §4.4
	AccountsNoSnaplink map[string]bool
	RoleResolver       func(account string, names []string) ([]string, *merr.Error)
}

// LoadResult is the outcome of a parallel key+parent load (spec §4.4).
type LoadResult struct {
	Key             string
	Entry           *metaidx.Entry // never nil; Entry.Exists() reports presence
	Parent          *metaidx.Entry // nil if not loaded
	ConditionalEtag string         // the _etag recorded at load time, for commit
}

// Conditional carries the client-supplied If-Match/If-None-Match state
// (spec §4.4 "Conditional writes").
type Conditional struct {
	IfMatch     string
	IfNoneMatch string
	Present     bool
}

// Load loads key and, if loadParent, its parent, in parallel (spec §4.4
// "Parallel metadata load"). Missing entries come back as the sentinel
// {type:""} record, not an error; GET/HEAD callers must check Exists()
// themselves and surface ResourceNotFound.
func (e *Envelope) Load(ctx context.Context, key string, loadParent bool) (*LoadResult, *merr.Error) {
	res := &LoadResult{Key: key}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entry, err := e.Index.Load(gctx, key)
		if err != nil {
			return err
		}
		res.Entry = entry
		return nil
	})
	if loadParent && !IsRoot(key) && key != "/" {
		parentKey := Parent(key)
		g.Go(func() error {
			parent, err := e.Index.Load(gctx, parentKey)
			if err != nil {
				return err
			}
			res.Parent = parent
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, merr.InternalError(err)
	}
	res.ConditionalEtag = res.Entry.Etag
	return res, nil
}

// Commit writes e through the index, applying conditional semantics (spec
// §4.4): a client-supplied precondition enforces the caller's expected
// etag and surfaces a mismatch as ConcurrentRequestError; an unconditional
// commit is allowed one transparent retry on conflict.
func (e *Envelope) Commit(ctx context.Context, entry *metaidx.Entry, cond Conditional, expectedEtag string) (string, *merr.Error) {
	if cond.Present {
		etag, err := e.Index.Put(ctx, entry, expectedEtag, true)
		if err == metaidx.ErrConflict {
			return "", merr.ConcurrentRequestError()
		}
		if err != nil {
			return "", merr.InternalError(err)
		}
		return etag, nil
	}

	etag, err := e.Index.Put(ctx, entry, expectedEtag, false)
	if err == metaidx.ErrConflict {
		// one transparent retry against the latest state (spec §4.4).
		reloaded, lerr := e.Index.Load(ctx, entry.Key)
		if lerr != nil {
			return "", merr.InternalError(lerr)
		}
		etag, err = e.Index.Put(ctx, entry, reloaded.Etag, false)
	}
	if err != nil {
		return "", merr.InternalError(err)
	}
	return etag, nil
}

// CommitDelete deletes key, honoring a conditional precondition the same
// way Commit does.
func (e *Envelope) CommitDelete(ctx context.Context, key string, cond Conditional, expectedEtag string) *merr.Error {
	err := e.Index.Delete(ctx, key, expectedEtag, cond.Present)
	if err == metaidx.ErrConflict {
		return merr.ConcurrentRequestError()
	}
	if err != nil {
		return merr.InternalError(err)
	}
	return nil
}

// --- namespace preconditions (spec §4.4, strict order) ---

// EnsureNotRoot rejects PUT/DELETE on root paths, except a PUT whose body
// is a directory creation (spec §4.4 guard 1).
func EnsureNotRoot(key string, isDirectoryPut bool) *merr.Error {
	if IsRoot(key) && !isDirectoryPut {
		return merr.RootDirectory(key)
	}
	return nil
}

// EnsureNotDirectory rejects an object PUT over an existing directory,
// unless the request is a pure metadata update (spec §4.4 guard 2).
func EnsureNotDirectory(existing *metaidx.Entry, isMetadataUpdate bool) *merr.Error {
	if existing.Exists() && existing.Type == "directory" && !isMetadataUpdate {
		return merr.DirectoryOperation("cannot PUT an object over an existing directory")
	}
	return nil
}

// EnsureParent requires the parent to exist and be a directory, skipped
// when key is itself root or when the parent is root (spec §4.4 guard 3).
func EnsureParent(key string, parent *metaidx.Entry) *merr.Error {
	if IsRoot(key) || key == "/" {
		return nil
	}
	parentKey := Parent(key)
	if IsRoot(parentKey) || parentKey == "/" {
		return nil
	}
	if !parent.Exists() {
		return merr.DirectoryDoesNotExist(parentKey)
	}
	if parent.Type != "directory" {
		return merr.ParentNotDirectory(parentKey)
	}
	return nil
}

// EnforceDirectoryCount rejects creation of a new entry once the parent
// would cross 1,000,000 children (spec §4.4 guard 4, §3 I4).
func (e *Envelope) EnforceDirectoryCount(ctx context.Context, parentKey string) *merr.Error {
	n, err := e.Index.CountChildren(ctx, parentKey)
	if err != nil {
		return merr.InternalError(err)
	}
	if n >= maxDirectoryEntries {
		return merr.DirectoryLimit(parentKey)
	}
	return nil
}

// EnsureDirectoryEmpty probes dirKey with a limit-1 listing before allowing
// a delete (spec §4.4 guard 5).
func (e *Envelope) EnsureDirectoryEmpty(ctx context.Context, dirKey string) *merr.Error {
	entries, _, err := e.Index.ListChildren(ctx, dirKey, 1, "", false, "")
	if err != nil {
		return merr.InternalError(err)
	}
	if len(entries) > 0 {
		return merr.DirectoryNotEmpty(dirKey)
	}
	return nil
}

// --- metadata construction ---

// BuildParams carries everything BuildMetadata needs from the inbound
// request, independent of any HTTP framework type (spec §9: handlers take
// pure values, never store back-references).
type BuildParams struct {
	Key                string
	Owner              string
	Creator            string
	Type               string // "directory" | "object" | "link"
	ObjectID           string
	ContentLength      int64
	ContentMD5         string
	ContentType        string
	ContentDisposition string
	CustomHeaders      map[string]string // "m-*" headers, unprefixed key -> value
	CORSHeaders        map[string]string // subset of corsWhitelist present on the request
	CacheControl       string
	SurrogateKey       string
	RequestedRoles     []string // explicit Role header/param, if any
	CallerActiveRoles  []string // inherited if RequestedRoles is empty
	Sharks             []metaidx.Shark
	PreviousSharks     []metaidx.Shark // for metadata-only updates
	PreviousSinglePath bool            // for metadata-only updates
	IsMetadataOnlyPUT  bool
}

// BuildMetadata constructs a metaidx.Entry per spec §4.4 "Metadata
// construction".
func (e *Envelope) BuildMetadata(p BuildParams, now time.Time) (*metaidx.Entry, *merr.Error) {
	entry := &metaidx.Entry{
		Key:           p.Key,
		Parent:        Parent(p.Key),
		Owner:         p.Owner,
		Creator:       p.Creator,
		Type:          p.Type,
		ObjectID:      p.ObjectID,
		ContentLength: p.ContentLength,
		ContentMD5:    p.ContentMD5,
		ContentType:   p.ContentType,
		MtimeMS:       now.UnixMilli(),
	}
	if entry.Creator == "" {
		entry.Creator = p.Owner
	}

	if p.ContentDisposition != "" {
		if _, params, err := mime.ParseMediaType(p.ContentDisposition); err != nil {
			return nil, merr.BadRequest("invalid Content-Disposition: %v", err)
		} else if mime.FormatMediaType(dispositionType(p.ContentDisposition), params) == "" {
			return nil, merr.BadRequest("invalid Content-Disposition")
		}
		entry.ContentDisposition = p.ContentDisposition
	}

	entry.Headers = map[string]string{}
	for _, name := range corsWhitelist {
		if v, ok := p.CORSHeaders[name]; ok && v != "" {
			entry.Headers[name] = v
		}
	}
	if p.CacheControl != "" {
		entry.Headers["Cache-Control"] = p.CacheControl
	}
	if p.SurrogateKey != "" {
		entry.Headers["Surrogate-Key"] = p.SurrogateKey
	}

	size := 0
	for k := range entry.Headers {
		size += len(k) + len(entry.Headers[k])
	}
	for k, v := range p.CustomHeaders {
		name := "m-" + k
		add := len(name) + len(v)
		if size+add > maxCustomHeaderBytes {
			mlog.Warningf("metadata: truncating custom headers for %s at %d bytes", p.Key, maxCustomHeaderBytes)
			break
		}
		entry.Headers[name] = v
		size += add
	}

	roles, rerr := e.resolveRoles(Account(p.Key), p.RequestedRoles, p.CallerActiveRoles)
	if rerr != nil {
		return nil, rerr
	}
	entry.Roles = roles

	if p.Type == "object" {
		switch {
		case p.IsMetadataOnlyPUT:
			entry.Sharks = p.PreviousSharks
			entry.SinglePath = p.PreviousSinglePath
		case len(p.Sharks) == 0:
			entry.Sharks = []metaidx.Shark{}
			entry.SinglePath = true
		default:
			entry.Sharks = p.Sharks
			entry.SinglePath = true
		}
	}

	return entry, nil
}

func dispositionType(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		return strings.TrimSpace(v[:i])
	}
	return strings.TrimSpace(v)
}

func (e *Envelope) resolveRoles(account string, requested, active []string) ([]string, *merr.Error) {
	if len(requested) == 0 {
		return active, nil
	}
	if e.RoleResolver == nil {
		return nil, merr.InvalidRoleTag(strings.Join(requested, ","))
	}
	ids, err := e.RoleResolver(account, requested)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// --- snaplink safety (spec §4.4) ---

// CreateLink implements spec §4.4's ordered snaplink procedure. sourceKey
// and linkKey must already be normalized. Snaplinks must be gated on by
// both the global flag and the account not being in the disabled list.
func (e *Envelope) CreateLink(ctx context.Context, sourceKey, linkKey, linkOwner string) *merr.Error {
	if !e.SnaplinksEnabled || !e.SnaplinksPossible {
		return merr.InvalidLink("snaplinks are disabled")
	}
	sourceAccount := Account(sourceKey)
	if e.AccountsNoSnaplink[sourceAccount] {
		return merr.Forbidden("snaplinks are disabled for this account")
	}

	source, err := e.Index.Load(ctx, sourceKey)
	if err != nil {
		return merr.InternalError(err)
	}
	if !source.Exists() {
		return merr.LinkNotFound(sourceKey)
	}
	if source.Type != "object" {
		return merr.LinkNotObject(sourceKey)
	}

	if source.SinglePath {
		cleared := *source
		cleared.SinglePath = false
		if _, cerr := e.Index.Put(ctx, &cleared, source.Etag, true); cerr != nil {
			if cerr == metaidx.ErrConflict {
				return merr.ConcurrentRequestError()
			}
			return merr.InternalError(cerr)
		}
	}

	creator := source.Creator
	if creator == "" {
		creator = source.Owner
	}
	link := &metaidx.Entry{
		Key:        linkKey,
		Parent:     Parent(linkKey),
		Owner:      linkOwner,
		Creator:    creator,
		Type:       "link",
		LinkTarget: sourceKey,
		MtimeMS:    source.MtimeMS,
	}
	if _, lerr := e.Index.Put(ctx, link, "", false); lerr != nil {
		return merr.InternalError(lerr)
	}
	return nil
}
