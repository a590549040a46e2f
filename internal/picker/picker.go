// Package picker implements the placement selector (spec §4.2, component
// C2): a background-refreshed, per-datacenter capacity-sorted view of
// storage nodes, grounded on the teacher's cluster.Smap pattern of an
// immutable snapshot swapped atomically by pointer (cluster/map.go's
// Sowner.Get()/Listeners()) rather than locked on every read.
package picker

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
)

// Node is a storage node record as discovered from the node directory
// (spec §3 "Storage node record").
type Node struct {
	StorageID      string
	Datacenter     string
	AvailableBytes int64
	PercentUsed    int
	LastHeartbeat  time.Time
}

// Tuple names the storage nodes selected together for one write.
type Tuple []Node

// Directory is the external node directory the selector polls (out of core
// per spec §1 — "providing the metadata index itself" extends to the
// directory backing it). Page returns up to len(nodes)==pageSize records
// and a continuation cursor; an empty cursor means exhausted.
type Directory interface {
	Page(ctx context.Context, cursor string, pageSize int, maxPercentUsed int, notBefore time.Time) (nodes []Node, nextCursor string, err error)
}

// view is one immutable, capacity-sorted snapshot: per-datacenter node
// lists ascending by AvailableBytes, as spec §3 requires.
type view struct {
	byDC map[string][]Node
}

type snapshot struct {
	normal   view
	operator view
}

// Picker maintains the snapshot and answers choose() without touching the
// network (spec §4.2: "choose never blocks on the network").
type Picker struct {
	cfg *config.PlacementConf
	dir Directory

	snap atomic.Pointer[snapshot]

	readyOnce sync.Once
	readyCh   chan struct{}
}

// New constructs a Picker with an empty snapshot; Run must be started to
// populate it.
func New(cfg *config.PlacementConf, dir Directory) *Picker {
	p := &Picker{
		cfg:     cfg,
		dir:     dir,
		readyCh: make(chan struct{}),
	}
	p.snap.Store(&snapshot{normal: view{byDC: map[string][]Node{}}, operator: view{byDC: map[string][]Node{}}})
	return p
}

// Ready returns a channel closed once the first successful refresh has
// completed (spec §4.2 "one-shot ready signal").
func (p *Picker) Ready() <-chan struct{} { return p.readyCh }

// Run polls the directory every RefreshInterval until ctx is cancelled. On
// error or an empty page set the previous snapshot is retained (spec §4.2:
// "an empty query result is treated as a transient fault").
func (p *Picker) Run(ctx context.Context) {
	t := time.NewTicker(p.cfg.RefreshInterval)
	defer t.Stop()
	p.refreshOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.refreshOnce(ctx)
		}
	}
}

func (p *Picker) refreshOnce(ctx context.Context) {
	notBefore := time.Now().Add(-p.cfg.StalenessWindow)

	normal, err := p.pageAll(ctx, p.cfg.UtilizationPct, notBefore)
	if err != nil {
		mlog.Errorf("picker: refresh (normal view) failed: %v", err)
		return
	}
	operator, err := p.pageAll(ctx, p.cfg.OperatorUtilizationPct, notBefore)
	if err != nil {
		mlog.Errorf("picker: refresh (operator view) failed: %v", err)
		return
	}
	if len(normal) == 0 && len(operator) == 0 {
		mlog.Warningf("picker: refresh returned no nodes, retaining previous snapshot")
		return
	}

	next := &snapshot{normal: buildView(normal), operator: buildView(operator)}
	p.snap.Store(next)

	p.readyOnce.Do(func() { close(p.readyCh) })
}

func (p *Picker) pageAll(ctx context.Context, maxPercentUsed int, notBefore time.Time) ([]Node, error) {
	var all []Node
	cursor := ""
	for {
		nodes, next, err := p.dir.Page(ctx, cursor, 1000, maxPercentUsed, notBefore)
		if err != nil {
			return nil, err
		}
		all = append(all, nodes...)
		if next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}

func buildView(nodes []Node) view {
	byDC := map[string][]Node{}
	for _, n := range nodes {
		byDC[n.Datacenter] = append(byDC[n.Datacenter], n)
	}
	for dc := range byDC {
		list := byDC[dc]
		sort.Slice(list, func(i, j int) bool { return list[i].AvailableBytes < list[j].AvailableBytes })
		byDC[dc] = list
	}
	return view{byDC: byDC}
}

// dcOffset is the first index in a DC's sorted node list whose node fits
// size, found by binary search per spec §4.2's algorithm.
type dcOffset struct {
	dc     string
	nodes  []Node
	offset int
}

func fittingOffsets(v view, size int64) []dcOffset {
	var out []dcOffset
	for dc, nodes := range v.byDC {
		idx := sort.Search(len(nodes), func(i int) bool { return nodes[i].AvailableBytes >= size })
		if idx < len(nodes) {
			out = append(out, dcOffset{dc: dc, nodes: nodes, offset: idx})
		}
	}
	return out
}

// seedFor derives a deterministic shuffle seed from the DC name and a
// caller-supplied salt, mirroring the teacher's use of xxhash to digest
// node/DC identity (cluster.Smap's idDigest) instead of reseeding a global
// PRNG on every call.
func seedFor(dc string, salt int) int64 {
	h := xxhash.New64()
	_, _ = h.WriteString(dc)
	b := [8]byte{byte(salt)}
	_, _ = h.Write(b[:])
	return int64(h.Sum64())
}

// Choose implements spec §4.2's choose(size_bytes, replicas, is_operator).
// It returns three candidate tuples; the first is primary, the others are
// fallbacks.
func (p *Picker) Choose(sizeBytes int64, replicas int, isOperator bool) ([]Tuple, *merr.Error) {
	snap := p.snap.Load()
	v := snap.normal
	if isOperator {
		v = snap.operator
	}

	offsets := fittingOffsets(v, sizeBytes)
	if p.cfg.MultiDC && replicas >= 2 && len(offsets) < 2 {
		return nil, merr.NotEnoughSpace(tooFewDCsMessage(replicas, len(offsets)))
	}
	if len(offsets) == 0 {
		return nil, merr.NotEnoughSpace(tooFewDCsMessage(replicas, 0))
	}

	tuples := make([]Tuple, 0, 3)
	globalUsed := map[string]bool{}
	for i := 0; i < 3; i++ {
		t, ok := p.pickOneTuple(offsets, replicas, i, globalUsed)
		if !ok {
			return nil, merr.NotEnoughSpace(tooFewDCsMessage(replicas, len(offsets)))
		}
		for _, n := range t {
			globalUsed[n.StorageID] = true
		}
		tuples = append(tuples, t)
	}

	rand.Shuffle(len(tuples), func(i, j int) { tuples[i], tuples[j] = tuples[j], tuples[i] })
	return tuples, nil
}

func tooFewDCsMessage(replicas, fittingDCs int) string {
	plural := "DC has"
	if fittingDCs != 1 {
		plural = "DCs have"
	}
	return sprintfCopies(replicas) + " requested, but only " + strconv.Itoa(fittingDCs) + " " + plural + " sufficient space"
}

func sprintfCopies(n int) string {
	return strconv.Itoa(n) + " copies"
}

// pickOneTuple builds one candidate tuple by shuffling the eligible DCs and
// round-robining across them, tracking a per-tuple "seen" set so a node is
// not reused within the same tuple. globalUsed carries the nodes already
// placed into earlier tuples by Choose; a DC's fresh (globally-unused)
// candidates are preferred over its already-used ones, so nodes are only
// reused across the three tuples when a DC's unused pool runs out (spec
// §4.2 guarantee 3: "not reused where avoidable").
func (p *Picker) pickOneTuple(offsets []dcOffset, replicas, tupleSalt int, globalUsed map[string]bool) (Tuple, bool) {
	order := make([]int, len(offsets))
	for i := range order {
		order[i] = i
	}
	r := rand.New(rand.NewSource(seedFor("tuple", tupleSalt) ^ int64(len(offsets))))
	r.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	seen := map[string]bool{}
	tuple := make(Tuple, 0, replicas)
	dcsUsed := map[string]bool{}
	exhausted := map[int]bool{}

	for len(tuple) < replicas {
		progressed := false
		for _, oi := range order {
			if exhausted[oi] {
				continue
			}
			do := offsets[oi]
			eligible := do.nodes[do.offset:]
			var fresh, reused []Node
			for _, n := range eligible {
				if seen[n.StorageID] {
					continue
				}
				if globalUsed[n.StorageID] {
					reused = append(reused, n)
				} else {
					fresh = append(fresh, n)
				}
			}
			candidates := fresh
			if len(candidates) == 0 {
				candidates = reused
			}
			if len(candidates) == 0 {
				exhausted[oi] = true
				continue
			}
			pick := candidates[r.Intn(len(candidates))]
			seen[pick.StorageID] = true
			dcsUsed[pick.Datacenter] = true
			tuple = append(tuple, pick)
			progressed = true
			if len(tuple) == replicas {
				break
			}
		}
		if !progressed {
			return nil, false
		}
	}

	if p.cfg.MultiDC && replicas >= 2 && len(dcsUsed) < 2 {
		return nil, false
	}
	return tuple, true
}
