package sharkclient

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
)

// Pool is the process-wide registry of one Client per storage_id (spec
// §4.1, §5: "creation is gated (first-write wins) so every caller for the
// same host reuses the same pool").
type Pool struct {
	cfg        *config.SharkConf
	useHTTPS   bool
	skipVerify bool

	mu      sync.Mutex
	clients map[string]*Client
}

func NewPool(cfg *config.SharkConf, useHTTPS, skipVerify bool) *Pool {
	return &Pool{cfg: cfg, useHTTPS: useHTTPS, skipVerify: skipVerify, clients: make(map[string]*Client)}
}

// Get returns the shared Client for storageID, lazily constructing one
// behind a short critical section (spec §5: "short critical section around
// lazy init").
func (p *Pool) Get(storageID, host string) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[storageID]; ok {
		return c, nil
	}

	scheme := "http"
	if p.useHTTPS {
		scheme = "https"
	}
	base, err := url.Parse(fmt.Sprintf("%s://%s", scheme, host))
	if err != nil {
		return nil, err
	}
	transport := NewTransport(TransportArgs{UseHTTPS: p.useHTTPS, SkipVerify: p.skipVerify, IdleTimeout: 90 * time.Second})
	c := NewClient(storageID, base, transport, p.cfg)
	p.clients[storageID] = c
	return c, nil
}
