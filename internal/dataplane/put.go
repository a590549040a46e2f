// Package dataplane orchestrates the object data-plane (spec §4.5,
// component C5): the PUT fan-out pipeline, the GET/HEAD verifying
// pipeline, and DELETE. Grounded on the teacher's putObjInfo/getObjInfo
// request-scoped value-object pattern (ais/tgtobj.go) — one struct per
// in-flight operation holding everything the operation needs, instead of
// closures capturing ambient state.
package dataplane

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/checkstream"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metadata"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/orphan"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/picker"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/sharkclient"
)

// HostResolver maps a storage_id to the dialable host:port the pool should
// connect to, decoupling the picker/metadata's view of node identity from
// how the pool addresses it.
type HostResolver func(storageID string) string

// Orchestrator wires C1-C4 together into the C5 operations.
type Orchestrator struct {
	Picker   *picker.Picker
	Pool     *sharkclient.Pool
	Envelope *metadata.Envelope
	Config   *config.Config
	Orphans  orphan.Sink
	HostFor  HostResolver
}

// PutParams carries everything one PUT needs, independent of any HTTP
// framework type (spec §9).
type PutParams struct {
	Key                string
	Owner              string
	Creator            string
	Body               io.Reader
	ContentLength      int64 // -1 when chunked/unknown
	ContentType        string
	ContentDisposition string
	ClientMD5Base64    string
	DurabilityLevel    int // 0 means "use default"
	IsOperator         bool
	RequestID          string
	CustomHeaders      map[string]string
	CORSHeaders        map[string]string
	CacheControl       string
	SurrogateKey       string
	RequestedRoles     []string
	CallerActiveRoles  []string
	Conditional        metadata.Conditional
	ConditionalEtag    string // _etag captured at load time
}

// PutResult is returned to the HTTP layer on success (spec §6 object PUT
// response headers).
type PutResult struct {
	Etag          string
	ObjectID      string
	LastModified  time.Time
	ComputedMD5   string
	ContentLength int64
	TimeToFirstByte time.Duration
}

// Put implements spec §4.5.1.
func (o *Orchestrator) Put(ctx context.Context, p PutParams) (*PutResult, *merr.Error) {
	copies, derr := o.resolveDurability(p.DurabilityLevel)
	if derr != nil {
		return nil, derr
	}
	size := o.resolveSize(p.ContentLength)

	load, lerr := o.Envelope.Load(ctx, p.Key, true)
	if lerr != nil {
		return nil, lerr
	}
	if merr := metadata.EnsureNotRoot(p.Key, false); merr != nil {
		return nil, merr
	}
	if merr := metadata.EnsureNotDirectory(load.Entry, false); merr != nil {
		return nil, merr
	}
	if merr := metadata.EnsureParent(p.Key, load.Parent); merr != nil {
		return nil, merr
	}
	if !load.Entry.Exists() {
		if merr := o.Envelope.EnforceDirectoryCount(ctx, metadata.Parent(p.Key)); merr != nil {
			return nil, merr
		}
	}

	objectID := uuid.NewString()
	started := time.Now()

	if size == 0 {
		return o.commitPut(ctx, p, load, objectID, nil, checkstream.ZeroByteMD5Base64(), 0, started, started)
	}

	tuples, perr := o.Picker.Choose(size, copies, p.IsOperator)
	if perr != nil {
		return nil, perr
	}

	for tupleIdx, tuple := range tuples {
		sharks, cs, ttfb, ferr := o.attemptTuple(ctx, p, objectID, tuple, copies, size)
		if ferr == nil {
			return o.commitPut(ctx, p, load, objectID, sharks, cs.DigestBase64(), cs.BytesWritten(), started, started.Add(ttfb))
		}
		if !ferr.retryable {
			// the client body was already streamed toward this tuple's nodes
			tupleSharks := make([]metaidx.Shark, 0, len(tuple))
			for _, n := range tuple {
				tupleSharks = append(tupleSharks, metaidx.Shark{Datacenter: n.Datacenter, StorageID: n.StorageID})
			}
			o.enqueueOrphan(objectID, p.Owner, tupleSharks, "upload failed: "+ferr.err.Kind)
			return nil, ferr.err
		}
		mlog.Warningf("dataplane: tuple %d failed opening backends, trying next: %v", tupleIdx, ferr.err)
	}
	return nil, merr.SharksExhausted()
}

type fanoutError struct {
	err       *merr.Error
	retryable bool // true: advance to next placement tuple
}

// attemptTuple opens all backends in one tuple in parallel, and — once
// `copies` opens have succeeded — fans the client body through a hashing
// CheckStream into every open backend stream (spec §4.5.1 steps 1-4).
func (o *Orchestrator) attemptTuple(ctx context.Context, p PutParams, objectID string, tuple picker.Tuple, copies int, size int64) ([]metaidx.Shark, *checkstream.CheckStream, time.Duration, *fanoutError) {
	type opened struct {
		node picker.Node
		open *sharkclient.Open
	}

	opens := make([]opened, len(tuple))
	g, gctx := errgroup.WithContext(ctx)
	for i, node := range tuple {
		i, node := i, node
		g.Go(func() error {
			storageID := node.StorageID
			cli, err := o.Pool.Get(storageID, o.HostFor(storageID))
			if err != nil {
				return err
			}
			open, err := cli.Put(gctx, objectID, p.Owner, p.RequestID, p.ContentType, size, "")
			if err != nil {
				return err
			}
			opens[i] = opened{node: node, open: open}
			return nil
		})
	}
	_ = g.Wait() // errors are tolerated; we only require `copies` successes

	var succeeded []opened
	for _, op := range opens {
		if op.open != nil {
			succeeded = append(succeeded, op)
		}
	}
	if len(succeeded) < copies {
		for _, op := range succeeded {
			_ = op.open.Body.Close()
		}
		return nil, nil, 0, &fanoutError{err: merr.SharksExhausted(), retryable: true}
	}
	succeeded = succeeded[:copies]

	writers := make([]io.Writer, 0, len(succeeded)+1)
	closers := make([]io.WriteCloser, 0, len(succeeded))
	for _, op := range succeeded {
		writers = append(writers, op.open.Body)
		closers = append(closers, op.open.Body)
	}

	var ttfbOnce sync.Once
	var ttfb time.Duration
	start := time.Now()

	abandonAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	cs := checkstream.New(size, o.Config.DataTimeout, func() {
		abandonAll()
	}, func() {
		abandonAll()
	})
	writers = append(writers, firstByteWriter{inner: cs, onFirst: func() {
		ttfbOnce.Do(func() { ttfb = time.Since(start) })
	}})
	fanout := io.MultiWriter(writers...)

	_, copyErr := io.Copy(fanout, p.Body)
	for _, c := range closers {
		_ = c.Close()
	}
	if copyErr != nil {
		cs.Abandon()
		abandonAll()
		if checkstream.IsMaxSizeExceeded(copyErr) {
			return nil, nil, 0, &fanoutError{err: merr.MaxSizeExceeded(size), retryable: false}
		}
		return nil, nil, 0, &fanoutError{err: merr.UploadAbandoned(copyErr.Error()), retryable: false}
	}
	cs.Finish()

	sharks := make([]metaidx.Shark, 0, len(succeeded))
	localMD5 := cs.DigestBase64()
	for _, op := range succeeded {
		res := <-op.open.Result
		if res.Err != nil {
			cs.Abandon()
			return nil, nil, 0, &fanoutError{err: merr.InternalError(res.Err), retryable: false}
		}
		if res.StatusCode == 469 {
			return nil, nil, 0, &fanoutError{err: merr.ChecksumError("storage node rejected MD5"), retryable: false}
		}
		if res.StatusCode >= 400 {
			if p.ClientMD5Base64 != "" {
				return nil, nil, 0, &fanoutError{err: merr.BadRequest("storage node rejected upload: %s", string(res.Body)), retryable: false}
			}
			return nil, nil, 0, &fanoutError{err: merr.BackendStatus(op.node.StorageID, res.StatusCode, string(res.Body)), retryable: false}
		}
		backendMD5 := res.Header.Get("Computed-MD5")
		if backendMD5 != "" && backendMD5 != localMD5 {
			// fatal: bytes already landed somewhere with a
			// different checksum than what the client sent us.
			return nil, nil, 0, &fanoutError{err: merr.InternalError(errors.New("md5 convergence mismatch across backends")), retryable: false}
		}
		sharks = append(sharks, metaidx.Shark{Datacenter: op.node.Datacenter, StorageID: op.node.StorageID})
	}

	return sharks, cs, ttfb, nil
}

type firstByteWriter struct {
	inner   io.Writer
	onFirst func()
	fired   bool
}

func (w firstByteWriter) Write(p []byte) (int, error) {
	if !w.fired && len(p) > 0 {
		w.onFirst()
	}
	return w.inner.Write(p)
}

func (o *Orchestrator) commitPut(ctx context.Context, p PutParams, load *metadata.LoadResult, objectID string, sharks []metaidx.Shark, md5 string, length int64, started, firstByte time.Time) (*PutResult, *merr.Error) {
	entry, berr := o.Envelope.BuildMetadata(metadata.BuildParams{
		Key:                p.Key,
		Owner:              p.Owner,
		Creator:            p.Creator,
		Type:               "object",
		ObjectID:           objectID,
		ContentLength:      length,
		ContentMD5:         md5,
		ContentType:        p.ContentType,
		ContentDisposition: p.ContentDisposition,
		CustomHeaders:      p.CustomHeaders,
		CORSHeaders:        p.CORSHeaders,
		CacheControl:       p.CacheControl,
		SurrogateKey:       p.SurrogateKey,
		RequestedRoles:     p.RequestedRoles,
		CallerActiveRoles:  p.CallerActiveRoles,
		Sharks:             sharks,
	}, time.Now())
	if berr != nil {
		o.enqueueOrphan(objectID, p.Owner, sharks, "metadata build failed")
		return nil, berr
	}

	etag, cerr := o.Envelope.Commit(ctx, entry, p.Conditional, p.ConditionalEtag)
	if cerr != nil {
		o.enqueueOrphan(objectID, p.Owner, sharks, "metadata commit failed: "+cerr.Kind)
		return nil, cerr
	}

	return &PutResult{
		Etag:            etag,
		ObjectID:        objectID,
		LastModified:    time.UnixMilli(entry.MtimeMS),
		ComputedMD5:     md5,
		ContentLength:   length,
		TimeToFirstByte: firstByte.Sub(started),
	}, nil
}

func (o *Orchestrator) enqueueOrphan(objectID, owner string, sharks []metaidx.Shark, reason string) {
	if len(sharks) == 0 || o.Orphans == nil {
		return
	}
	o.Orphans.Enqueue(orphan.Record{ObjectID: objectID, Owner: owner, Sharks: sharks, Reason: reason})
}

func (o *Orchestrator) resolveDurability(requested int) (int, *merr.Error) {
	max := o.Config.MaxObjectCopies
	if requested == 0 {
		return 2, nil
	}
	if requested < 1 || requested > max {
		return 0, merr.InvalidDurabilityLevel(requested, max)
	}
	return requested, nil
}

func (o *Orchestrator) resolveSize(contentLength int64) int64 {
	if contentLength >= 0 {
		return contentLength
	}
	return o.Config.Storage.DefaultMaxStreamingSizeBytes()
}
