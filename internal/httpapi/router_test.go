package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/dataplane"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/picker"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/stats"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/throttle"
)

func TestHandlePingReturns503BeforeFirstRefresh(t *testing.T) {
	cfg := config.Default()
	p := picker.New(&cfg.Placement, nil)
	rt := &Router{Orchestrator: &dataplane.Orchestrator{Picker: p}}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	rt.handlePing(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before the picker's first refresh", rec.Code)
	}
}

func TestHandlePingRejectsUnsupportedMethod(t *testing.T) {
	cfg := config.Default()
	p := picker.New(&cfg.Placement, nil)
	rt := &Router{Orchestrator: &dataplane.Orchestrator{Picker: p}}

	req := httptest.NewRequest(http.MethodPost, "/ping", nil)
	rec := httptest.NewRecorder()
	rt.handlePing(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestWithAdmissionRecordsStatsAndStatus(t *testing.T) {
	cfg := config.Default()
	reg := prometheus.NewRegistry()
	sts := stats.New(reg)
	admission := throttle.New(&cfg.Throttle, nil)
	rt := &Router{Stats: sts, Throttle: admission}

	handler := rt.withAdmission(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/acc/stor/obj", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}

	m := &dto.Metric{}
	if err := sts.RequestsTotal.WithLabelValues("get", http.MethodGet, "418").Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if m.Counter.GetValue() != 1 {
		t.Fatalf("RequestsTotal{get,GET,418} = %v, want 1", m.Counter.GetValue())
	}
}

func TestIsResponseCommittedTracksHandlerLifecycle(t *testing.T) {
	cfg := config.Default()
	cfg.Throttle.Enabled = true
	cfg.Throttle.Concurrency = 1
	admission := throttle.New(&cfg.Throttle, nil)
	rt := &Router{Throttle: admission}

	headerWritten := make(chan struct{})
	proceed := make(chan struct{})
	handler := rt.withAdmission(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		close(headerWritten)
		<-proceed
	})

	done := make(chan struct{})
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/acc/stor/obj", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		close(done)
	}()

	<-headerWritten
	if !rt.IsResponseCommitted(1) {
		t.Fatal("IsResponseCommitted(1) = false while the handler is still holding ticket 1 after writing its header")
	}
	close(proceed)
	<-done

	if rt.IsResponseCommitted(1) {
		t.Fatal("IsResponseCommitted(1) should be false once the handler returned and released its ticket")
	}
}

func TestOperationForMapsKnownVerbs(t *testing.T) {
	cases := map[string]string{
		http.MethodPut:    "put",
		http.MethodGet:    "get",
		http.MethodHead:   "head",
		http.MethodDelete: "delete",
		http.MethodPatch:  "other",
	}
	for method, want := range cases {
		req := httptest.NewRequest(method, "/acc/stor/obj", nil)
		if got := operationFor(req); got != want {
			t.Errorf("operationFor(%s) = %s, want %s", method, got, want)
		}
	}
}
