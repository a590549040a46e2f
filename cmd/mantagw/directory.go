package main

import (
	"context"
	"time"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/picker"
)

// staticDirectory implements picker.Directory over the fixed node list in
// configuration. It stands in for the external node directory the picker
// would otherwise poll (spec Non-goals explicitly exclude providing that
// directory).
type staticDirectory struct {
	nodes []picker.Node
	hosts map[string]string
}

func newStaticDirectory(cfg *config.Config) *staticDirectory {
	d := &staticDirectory{hosts: map[string]string{}}
	now := time.Now()
	for _, n := range cfg.Nodes {
		d.nodes = append(d.nodes, picker.Node{
			StorageID:      n.StorageID,
			Datacenter:     n.Datacenter,
			AvailableBytes: n.AvailableBytes,
			PercentUsed:    n.PercentUsed,
			LastHeartbeat:  now,
		})
		d.hosts[n.StorageID] = n.Host
	}
	return d
}

func (d *staticDirectory) Page(_ context.Context, cursor string, pageSize int, maxPercentUsed int, notBefore time.Time) ([]picker.Node, string, error) {
	start := 0
	if cursor != "" {
		for i, n := range d.nodes {
			if n.StorageID == cursor {
				start = i + 1
				break
			}
		}
	}
	var page []picker.Node
	for i := start; i < len(d.nodes) && len(page) < pageSize; i++ {
		n := d.nodes[i]
		if n.PercentUsed > maxPercentUsed || n.LastHeartbeat.Before(notBefore) {
			continue
		}
		page = append(page, n)
	}
	next := ""
	if len(page) == pageSize && start+len(page) < len(d.nodes) {
		next = page[len(page)-1].StorageID
	}
	return page, next, nil
}

func (d *staticDirectory) hostFor(storageID string) string {
	if h, ok := d.hosts[storageID]; ok {
		return h
	}
	return storageID
}
