// Package sharkclient implements the storage-node client pool (spec §4.1,
// component C1): a per-storage_id HTTP client with keep-alive, a
// connect-timeout distinct from the idle/read timeout, and connect-phase
// retry with backoff.
//
// Grounded on the teacher's cmn.NewTransport(cmn.TransportArgs{...})
// convention (ais/proxy.go builds one *http.Transport per remote peer with
// UseHTTPS/SkipVerify knobs and reuses it across requests); the
// 100-continue / connect-timeout split is new because the teacher's
// reverse-proxy transports never need to distinguish "socket attached" from
// "backend proved alive", whereas this spec does (spec §4.1).
package sharkclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"time"

	"github.com/TritonDataCenter/manta-muskie-sub000/internal/config"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/merr"
	"github.com/TritonDataCenter/manta-muskie-sub000/internal/mlog"
)

// TransportArgs mirrors the teacher's cmn.TransportArgs shape.
type TransportArgs struct {
	UseHTTPS    bool
	SkipVerify  bool
	IdleTimeout time.Duration
}

// NewTransport builds a keep-alive *http.Transport for one storage node
// host, the Go-native equivalent of the teacher's cmn.NewTransport.
func NewTransport(args TransportArgs) *http.Transport {
	t := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       args.IdleTimeout,
		ExpectContinueTimeout: 0, // the pool manages this phase itself
		ForceAttemptHTTP2:     false,
	}
	if args.UseHTTPS {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: args.SkipVerify} //nolint:gosec
	}
	return t
}

// Client is the per-storage-node client described in spec §4.1.
type Client struct {
	storageID string
	baseURL   *url.URL
	http      *http.Client
	cfg       *config.SharkConf
}

// NewClient constructs a Client for one storage node's base URL.
func NewClient(storageID string, baseURL *url.URL, transport *http.Transport, cfg *config.SharkConf) *Client {
	return &Client{
		storageID: storageID,
		baseURL:   baseURL,
		http:      &http.Client{Transport: transport},
		cfg:       cfg,
	}
}

// HeadResult is the outcome of Head/Get: response headers (and for Get, a
// readable body).
type HeadResult struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser // nil for Head
}

// Open is the outcome of Put: the backend has sent 100-continue and is
// ready for the client body to be streamed through Body.
type Open struct {
	Body   io.WriteCloser
	Result <-chan PutResult
}

// PutResult is delivered once after the backend sends its final response.
type PutResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte // captured up to a small diagnostic limit on error
	Err        error
}

const diagBodyCap = 4096

func (c *Client) objectURL(objID, owner string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL.String(), owner, objID)
}

// connectWithRetry retries only the connect phase: the phase from request
// issuance until the backend proves it is processing the request (spec
// §4.1's "Retry" and "Timeout discipline" sections).
func (c *Client) connectWithRetry(ctx context.Context, attempt func(ctx context.Context) (bool, error)) error {
	backoff := time.Duration(c.cfg.Retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(c.cfg.Retry.MaxMS) * time.Millisecond
	var lastErr error
	for i := 0; i <= c.cfg.Retry.MaxAttempts; i++ {
		connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		proved, err := attempt(connectCtx)
		cancel()
		if proved {
			return nil
		}
		lastErr = err
		if i == c.cfg.Retry.MaxAttempts {
			break
		}
		logConnectFailure(c.storageID, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * c.cfg.Retry.Factor)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	if lastErr == nil {
		lastErr = merr.ConnectTimeout(c.storageID)
	}
	return lastErr
}

// Get streams a read of obj_id; Range, if non-empty, is forwarded verbatim.
func (c *Client) Get(ctx context.Context, objID, owner, requestID, rng string) (*HeadResult, error) {
	return c.read(ctx, http.MethodGet, objID, owner, requestID, rng)
}

// Head fetches headers only.
func (c *Client) Head(ctx context.Context, objID, owner, requestID string) (*HeadResult, error) {
	return c.read(ctx, http.MethodHead, objID, owner, requestID, "")
}

func (c *Client) read(ctx context.Context, method, objID, owner, requestID, rng string) (*HeadResult, error) {
	var result *HeadResult
	err := c.connectWithRetry(ctx, func(connectCtx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.objectURL(objID, owner), nil)
		if err != nil {
			return false, err
		}
		req.Header.Set("X-Request-Id", requestID)
		if rng != "" {
			req.Header.Set("Range", rng)
		}

		firstByte := make(chan struct{}, 1)
		trace := &httptrace.ClientTrace{
			GotFirstResponseByte: func() {
				select {
				case firstByte <- struct{}{}:
				default:
				}
			},
		}
		// the request itself lives on ctx: connectCtx is cancelled as soon
		// as this attempt returns, and the body is streamed after that.
		req = req.WithContext(httptrace.WithClientTrace(ctx, trace))

		type outcome struct {
			resp *http.Response
			err  error
		}
		done := make(chan outcome, 1)
		go func() {
			resp, err := c.http.Do(req)
			done <- outcome{resp, err}
		}()

		select {
		case o := <-done:
			if o.err != nil {
				return false, o.err
			}
			result = toHeadResult(o.resp, method)
			return true, nil
		case <-firstByte:
			// liveness proved; wait (without a connect deadline)
			// for the response object itself, which must already
			// be imminent.
			o := <-done
			if o.err != nil {
				return false, o.err
			}
			result = toHeadResult(o.resp, method)
			return true, nil
		case <-connectCtx.Done():
			go func() {
				if o := <-done; o.resp != nil {
					_ = o.resp.Body.Close()
				}
			}()
			return false, merr.ConnectTimeout(c.storageID)
		}
	})
	if err != nil {
		return nil, err
	}
	if result.StatusCode >= 400 {
		body := captureDiag(result.Body)
		return nil, merr.BackendStatus(c.storageID, result.StatusCode, body).WithCause(nil)
	}
	return result, nil
}

func toHeadResult(resp *http.Response, method string) *HeadResult {
	hr := &HeadResult{StatusCode: resp.StatusCode, Header: resp.Header}
	if method == http.MethodGet {
		hr.Body = resp.Body
	} else if resp.Body != nil {
		_ = resp.Body.Close()
	}
	return hr
}

func captureDiag(body io.ReadCloser) string {
	if body == nil {
		return ""
	}
	defer body.Close()
	b, _ := io.ReadAll(io.LimitReader(body, diagBodyCap))
	return string(b)
}

type putOutcome struct {
	resp *http.Response
	err  error
}

// Put issues a PUT with Expect: 100-continue and returns once the backend
// has either sent 100-continue (Open.Body is ready for streaming) or
// responded/failed outright (spec §4.1).
func (c *Client) Put(ctx context.Context, objID, owner, requestID, contentType string, contentLength int64, contentMD5 string) (*Open, error) {
	var result *Open
	err := c.connectWithRetry(ctx, func(connectCtx context.Context) (bool, error) {
		pr, pw := io.Pipe()
		resultCh := make(chan PutResult, 1)

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(objID, owner), pr)
		if err != nil {
			return false, err
		}
		req.Header.Set("X-Request-Id", requestID)
		req.Header.Set("Expect", "100-continue")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if contentMD5 != "" {
			req.Header.Set("Content-MD5", contentMD5)
		}
		if contentLength >= 0 {
			req.ContentLength = contentLength
		}

		continueCh := make(chan struct{}, 1)
		trace := &httptrace.ClientTrace{
			Got100Continue: func() {
				select {
				case continueCh <- struct{}{}:
				default:
				}
			},
		}
		req = req.WithContext(httptrace.WithClientTrace(ctx, trace))

		doneCh := make(chan putOutcome, 1)
		go func() {
			resp, err := c.http.Do(req)
			doneCh <- putOutcome{resp, err}
		}()

		select {
		case <-continueCh:
			go c.awaitPutFinal(doneCh, resultCh)
			result = &Open{Body: pw, Result: resultCh}
			return true, nil
		case o := <-doneCh:
			// backend answered without ever sending 100-continue: either
			// an immediate error status, or a server that ignores Expect.
			_ = pw.Close()
			if o.err != nil {
				return false, o.err
			}
			resultCh <- respToResult(o.resp)
			result = &Open{Body: discardWriteCloser{}, Result: resultCh}
			return true, nil
		case <-connectCtx.Done():
			_ = pw.CloseWithError(merr.ConnectTimeout(c.storageID))
			return false, merr.ConnectTimeout(c.storageID)
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) awaitPutFinal(doneCh chan putOutcome, resultCh chan PutResult) {
	o := <-doneCh
	if o.err != nil {
		resultCh <- PutResult{Err: o.err}
		return
	}
	resultCh <- respToResult(o.resp)
}

func respToResult(resp *http.Response) PutResult {
	pr := PutResult{StatusCode: resp.StatusCode, Header: resp.Header}
	if resp.StatusCode >= 400 {
		pr.Body = []byte(captureDiag(resp.Body))
	} else if resp.Body != nil {
		_ = resp.Body.Close()
	}
	return pr
}

// Post issues a POST with a small in-memory body, used for snaplink
// creation against the backend (spec §4.1).
func (c *Client) Post(ctx context.Context, objID, owner, requestID string, body []byte) (*HeadResult, error) {
	var result *HeadResult
	err := c.connectWithRetry(ctx, func(connectCtx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(connectCtx, http.MethodPost, c.objectURL(objID, owner), bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		req.Header.Set("X-Request-Id", requestID)
		resp, err := c.http.Do(req)
		if err != nil {
			return false, err
		}
		result = toHeadResult(resp, http.MethodPost)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if result.StatusCode >= 400 {
		body := captureDiag(result.Body)
		return nil, merr.BackendStatus(c.storageID, result.StatusCode, body)
	}
	return result, nil
}

type discardWriteCloser struct{}

func (discardWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriteCloser) Close() error                { return nil }

func logConnectFailure(storageID string, err error) {
	mlog.Warningf("sharkclient: %s connect failed: %v", storageID, err)
}
