// Command mantagw is the object storage gateway process: it wires the
// placement selector, storage-node client pool, metadata envelope, admission
// controller and data plane together behind the HTTP surface of
// internal/httpapi.
//
// Grounded on the teacher's daemon entrypoints (cmd/aisnode's flag parsing
// plus signal-driven shutdown feeding a runner group) adapted from
// AIStore's multi-runner group down to this gateway's single HTTP server
// plus two background loops (the picker's refresh and the throttle's
// reaper).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/dataplane"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/httpapi"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metadata"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/metaidx"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/orphan"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/picker"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/sharkclient"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/stats"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/throttle"
)

func main() {
	configPath := flag.String("config", "", "path to the gateway's JSON configuration file")
	useHTTPS := flag.Bool("shark-https", false, "dial storage nodes over TLS")
	skipVerify := flag.Bool("shark-insecure-skip-verify", false, "skip TLS verification when dialing storage nodes")
	flag.Parse()

	cfg, logLevel, err := config.Load(*configPath)
	if err != nil {
		mlog.Errorf("mantagw: config: %v", err)
		os.Exit(1)
	}
	mlog.SetLevel(logLevel)
	defer mlog.Flush()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	index := metaidx.NewMemory()
	accountsNoSnaplink := map[string]bool{}
	for _, acct := range cfg.AccountsSnaplinksDisabled {
		accountsNoSnaplink[acct] = true
	}
	envelope := &metadata.Envelope{
		Index:              index,
		SnaplinksEnabled:   cfg.SnaplinksEnabled,
		SnaplinksPossible:  cfg.SnaplinksEnabled || cfg.SnaplinkCleanupRequired,
		AccountsNoSnaplink: accountsNoSnaplink,
	}

	dir := newStaticDirectory(cfg)
	placer := picker.New(&cfg.Placement, dir)
	go placer.Run(ctx)

	pool := sharkclient.NewPool(&cfg.Shark, *useHTTPS, *skipVerify)
	orphans := orphan.NewChannel(1024)

	reg := prometheus.NewRegistry()
	sts := stats.New(reg)

	admission := throttle.New(&cfg.Throttle, admissionCounters{sts})

	orch := &dataplane.Orchestrator{
		Picker:   placer,
		Pool:     pool,
		Envelope: envelope,
		Config:   cfg,
		Orphans:  orphans,
		HostFor:  dir.hostFor,
	}

	rt := &httpapi.Router{
		Orchestrator: orch,
		Envelope:     envelope,
		Throttle:     admission,
		Stats:        sts,
		Config:       cfg,
	}

	// A reaped ticket is one whose handler already wrote a response header
	// (rt.IsResponseCommitted) but never called Leave, e.g. because the
	// handler goroutine hung after committing the response (spec §4.3 P7).
	go admission.RunReaper(ctx, rt.IsResponseCommitted, nil)

	srv := &http.Server{
		Addr:         intToAddr(cfg.Port),
		Handler:      rt.NewMux(),
		ReadTimeout:  cfg.SocketTimeout,
		WriteTimeout: 0, // streaming responses manage their own deadlines via CheckStream
		IdleTimeout:  cfg.SocketTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			mlog.Errorf("mantagw: shutdown: %v", err)
		}
	}()

	mlog.Infof("mantagw: listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		mlog.Errorf("mantagw: serve: %v", err)
		os.Exit(1)
	}
}

func intToAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

// admissionCounters adapts internal/stats to throttle.Counters.
type admissionCounters struct {
	sts *stats.Stats
}

func (a admissionCounters) IncReaped()    { a.sts.ReapedSlotsTotal.Inc() }
func (a admissionCounters) IncThrottled() { a.sts.ThrottledTotal.Inc() }
