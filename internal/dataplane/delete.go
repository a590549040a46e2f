package dataplane

import (
	"context"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metadata"
)

// DeleteParams carries everything one DELETE needs (spec §4.5.3).
type DeleteParams struct {
	Key         string
	Conditional metadata.Conditional
}

// DeleteResult reports what was deleted, for the DELETE counters of
// spec §4.5.3 ("bytes deleted = content_length * len(sharks), plus a
// boolean label for whether accelerated GC applies").
type DeleteResult struct {
	WasDirectory  bool
	BytesDeleted  int64
	AcceleratedGC bool
}

// Delete implements spec §4.5.3.
func (o *Orchestrator) Delete(ctx context.Context, p DeleteParams) (*DeleteResult, *merr.Error) {
	load, lerr := o.Envelope.Load(ctx, p.Key, false)
	if lerr != nil {
		return nil, lerr
	}
	if !load.Entry.Exists() {
		return nil, merr.ResourceNotFound(p.Key)
	}
	if merr := metadata.EnsureNotRoot(p.Key, false); merr != nil {
		return nil, merr
	}

	entry := load.Entry
	if entry.Type == "directory" {
		if derr := o.Envelope.EnsureDirectoryEmpty(ctx, p.Key); derr != nil {
			return nil, derr
		}
		if derr := o.Envelope.CommitDelete(ctx, p.Key, p.Conditional, load.ConditionalEtag); derr != nil {
			return nil, derr
		}
		return &DeleteResult{WasDirectory: true}, nil
	}

	if derr := o.Envelope.CommitDelete(ctx, p.Key, p.Conditional, load.ConditionalEtag); derr != nil {
		return nil, derr
	}

	bytesDeleted := entry.ContentLength * int64(len(entry.Sharks))
	accelerated := entry.Type == "object" && entry.SinglePath &&
		o.Envelope.AccountsNoSnaplink[metadata.Account(p.Key)]

	return &DeleteResult{BytesDeleted: bytesDeleted, AcceleratedGC: accelerated}, nil
}
