package dataplane

import (
	"context"
	"io"
	"strings"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/checkstream"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/sharkclient"
)

// GetParams carries everything one GET/HEAD needs (spec §4.5.2).
type GetParams struct {
	Key       string
	RequestID string
	HeadOnly  bool
	Range     string // raw Range header value, empty if absent
	Writer    io.Writer
}

// GetResult carries the response metadata the HTTP layer renders into
// headers (spec §6 "Response headers on object GET").
type GetResult struct {
	Entry         *metaidx.Entry
	BytesStreamed int64
	Truncated     bool // client closed mid-stream (499)
	Corrupted     bool // MD5 mismatch, not a range request
}

// Get implements spec §4.5.2. The caller is responsible for evaluating
// If-Match/If-None-Match/If-Modified-Since/If-Unmodified-Since before
// calling Get (spec calls this "a shared precondition layer").
func (o *Orchestrator) Get(ctx context.Context, p GetParams) (*GetResult, *merr.Error) {
	load, lerr := o.Envelope.Load(ctx, p.Key, false)
	if lerr != nil {
		return nil, lerr
	}
	if !load.Entry.Exists() {
		return nil, merr.ResourceNotFound(p.Key)
	}
	entry := load.Entry

	if p.HeadOnly || entry.ContentLength == 0 || len(entry.Sharks) == 0 {
		return &GetResult{Entry: entry}, nil
	}

	if strings.Contains(p.Range, ",") {
		return nil, merr.NotImplemented("multi-range requests are not supported")
	}

	var lastErr *merr.Error
	for _, shark := range entry.Sharks {
		storageID := shark.StorageID
		cli, err := o.Pool.Get(storageID, o.HostFor(storageID))
		if err != nil {
			lastErr = merr.InternalError(err)
			continue
		}

		head, gerr := cli.Get(ctx, entry.ObjectID, entry.Owner, p.RequestID, p.Range)
		if gerr != nil {
			mlog.Warningf("dataplane: GET %s from %s failed, trying next shark: %v", p.Key, storageID, gerr)
			lastErr = asMerr(gerr)
			continue
		}
		return o.streamGet(p, entry, head)
	}
	if lastErr == nil {
		lastErr = merr.ServiceUnavailable("storage")
	}
	return nil, lastErr
}

func asMerr(err error) *merr.Error {
	if me, ok := err.(*merr.Error); ok {
		return me
	}
	return merr.InternalError(err)
}

// streamGet copies one backend's body through a verifying CheckStream into
// the client writer, comparing the final digest against the stored
// content_md5 (spec §4.5.2).
func (o *Orchestrator) streamGet(p GetParams, entry *metaidx.Entry, head *sharkclient.HeadResult) (*GetResult, *merr.Error) {
	defer func() {
		if head.Body != nil {
			_ = head.Body.Close()
		}
	}()

	cs := checkstream.New(0, o.Config.DataTimeout, nil, nil)
	n, copyErr := io.Copy(io.MultiWriter(p.Writer, cs), head.Body)
	cs.Finish()

	result := &GetResult{Entry: entry, BytesStreamed: n}
	if copyErr != nil {
		result.Truncated = true
		return result, merr.UploadAbandoned("client closed connection mid-stream")
	}

	if p.Range == "" && entry.ContentMD5 != "" && cs.DigestBase64() != entry.ContentMD5 {
		result.Corrupted = true
		mlog.Errorf("dataplane: GET %s: stored content_md5 %s does not match streamed digest %s",
			p.Key, entry.ContentMD5, cs.DigestBase64())
	}
	return result, nil
}
