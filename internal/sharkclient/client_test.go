package sharkclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func testSharkConf() *config.SharkConf {
	c := &config.SharkConf{
		ConnectTimeoutMS: 50,
		Retry: config.RetryConf{
			InitialMS:   1,
			MaxMS:       5,
			Factor:      2,
			MaxAttempts: 2,
		},
	}
	_ = c.Validate()
	return c
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	u, err := url.Parse("http://shark-1.example.internal")
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return NewClient("shark-1", u, NewTransport(TransportArgs{}), testSharkConf())
}

func TestObjectURL(t *testing.T) {
	c := newTestClient(t)
	got := c.objectURL("obj-123", "acc")
	want := "http://shark-1.example.internal/acc/obj-123"
	if got != want {
		t.Fatalf("objectURL() = %q, want %q", got, want)
	}
}

func TestConnectWithRetrySucceedsOnLastAttempt(t *testing.T) {
	c := newTestClient(t)
	attempts := 0
	err := c.connectWithRetry(context.Background(), func(ctx context.Context) (bool, error) {
		attempts++
		if attempts < 3 {
			return false, errors.New("not yet")
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("connectWithRetry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3 (MaxAttempts=2 retries plus the first try)", attempts)
	}
}

func TestConnectWithRetryExhausted(t *testing.T) {
	c := newTestClient(t)
	wantErr := errors.New("always fails")
	err := c.connectWithRetry(context.Background(), func(ctx context.Context) (bool, error) {
		return false, wantErr
	})
	if err != wantErr {
		t.Fatalf("connectWithRetry() = %v, want %v", err, wantErr)
	}
}

func TestConnectWithRetryRespectsOuterCancellation(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.connectWithRetry(ctx, func(ctx context.Context) (bool, error) {
		return false, errors.New("fail")
	})
	if err == nil {
		t.Fatal("connectWithRetry with a cancelled context should return an error")
	}
}

func TestPutRetriesConnectPhase(t *testing.T) {
	c := newTestClient(t)
	attempts := 0
	c.http = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("connection refused")
		}
		return &http.Response{StatusCode: 201, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	})}

	open, err := c.Put(context.Background(), "obj-1", "acc", "req-1", "", 0, "")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (one connect failure, then a successful retry)", attempts)
	}
	res := <-open.Result
	if res.StatusCode != 201 {
		t.Fatalf("PutResult.StatusCode = %d, want 201", res.StatusCode)
	}
}

func TestNewTransportHTTPS(t *testing.T) {
	tr := NewTransport(TransportArgs{UseHTTPS: true, SkipVerify: true, IdleTimeout: time.Minute})
	if tr.TLSClientConfig == nil || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Fatal("NewTransport(UseHTTPS, SkipVerify) did not configure insecure TLS")
	}
}

func TestNewTransportPlain(t *testing.T) {
	tr := NewTransport(TransportArgs{})
	if tr.TLSClientConfig != nil {
		t.Fatal("NewTransport() without UseHTTPS should not set a TLS config")
	}
}
