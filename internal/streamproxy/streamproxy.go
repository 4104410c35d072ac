// Package streamproxy pumps a live/VOD stream from an upstream provider to
// one or more downstream clients, reconnecting on transient failure and
// optionally buffering so a slow reader stalls the upstream fetch only
// once the buffer is full, ported from m3u-filter's
// src/api/model/streams/provider_stream_factory.rs.
package streamproxy

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/xtreamrelay/xtreamrelay/internal/httpclient"
)

const (
	// defaultBufferSize mirrors STREAM_QUEUE_SIZE: a channel depth chosen
	// to absorb bursts without unbounded memory growth.
	defaultBufferSize = 4096
	retryWindow       = 5 * time.Second
	maxConnectErrors  = 5
	reconnectBackoff  = 100 * time.Millisecond
)

// Options configures one proxied stream.
type Options struct {
	ReconnectEnabled   bool
	ForceReconnectSecs int
	ConnectTimeout     time.Duration
	BufferEnabled      bool
	BufferSize         int
	Headers            http.Header
	Client             *http.Client
}

func (o Options) bufferSize() int {
	if o.BufferEnabled && o.BufferSize > 0 {
		return o.BufferSize
	}
	return defaultBufferSize
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return httpclient.ForStreaming()
}

// Pump fetches url and copies its body to w, reconnecting from the last
// byte offset sent whenever the upstream connection drops and
// opts.ReconnectEnabled is set. It returns when the stream ends normally, the context is
// canceled, or reconnection is exhausted/disabled after a failure.
func Pump(ctx context.Context, w io.Writer, url string, opts Options) error {
	client := opts.client()
	release := httpclient.GlobalHostSem.Acquire(url)
	defer release()

	var bytesSent atomic.Int64

	if opts.BufferEnabled {
		bw := newBufferedWriter(w, opts.bufferSize())
		defer bw.Close()
		w = bw
	}

	resp, err := initialConnect(ctx, client, url, opts, &bytesSent)
	if err != nil {
		return err
	}

	for {
		readCtx, cancelRead := withForceReconnect(ctx, opts)
		_, copyErr := copyTrackingCtx(readCtx, w, resp.Body, &bytesSent)
		resp.Body.Close()
		forced := opts.ForceReconnectSecs > 0 && readCtx.Err() == context.DeadlineExceeded
		cancelRead()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if copyErr != nil && copyErr != io.EOF && !forced {
			// A genuine transport/read error, not just the forced-reconnect
			// deadline tripping: honor ReconnectEnabled.
			if !opts.ReconnectEnabled {
				return copyErr
			}
		} else if !forced {
			// Clean end of stream (VOD finished, or the upstream closed the
			// body on its own) with no forced-reconnect deadline pending.
			return nil
		}

		next, rerr := reconnect(ctx, client, url, opts, &bytesSent)
		if rerr != nil {
			return rerr
		}
		resp = next
	}
}

// withForceReconnect bounds one read loop to opts.ForceReconnectSecs, if
// reconnection and the force timer are both configured, so a long-lived
// but otherwise healthy connection is periodically torn down and
// re-established. It never
// bounds the reconnect attempt itself, only how long a single established
// connection is allowed to keep streaming.
func withForceReconnect(parent context.Context, opts Options) (context.Context, context.CancelFunc) {
	if !opts.ReconnectEnabled || opts.ForceReconnectSecs <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, time.Duration(opts.ForceReconnectSecs)*time.Second)
}

// copyTrackingCtx is copyTracking with a context that aborts the read loop
// (without canceling the HTTP request state machine used for later
// reconnect attempts) once its deadline fires.
func copyTrackingCtx(ctx context.Context, w io.Writer, r io.Reader, sent *atomic.Int64) (int64, error) {
	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := copyTracking(w, r, sent)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// copyTracking copies from r to w, recording how many bytes have been
// forwarded so a reconnect can resume with a Range request.
func copyTracking(w io.Writer, r io.Reader, sent *atomic.Int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			sent.Add(int64(n))
			total += int64(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				return total, nil
			}
			return total, rerr
		}
	}
}

func buildRequest(ctx context.Context, url string, opts Options, sent *atomic.Int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if offset := sent.Load(); offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	return req, nil
}

// initialConnect performs the first connection attempt, retrying transient
// failures for up to retryWindow/maxConnectErrors.
func initialConnect(ctx context.Context, client *http.Client, url string, opts Options, sent *atomic.Int64) (*http.Response, error) {
	start := time.Now()
	attempts := 0
	for {
		req, err := buildRequest(ctx, url, opts, sent)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		attempts++
		if attempts > maxConnectErrors || time.Since(start) > retryWindow {
			if err != nil {
				return nil, err
			}
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

// reconnect retries indefinitely while the context is live, matching the
// original's reconnect loop which only exits on a definitive client error
// or context cancellation.
func reconnect(ctx context.Context, client *http.Client, url string, opts Options, sent *atomic.Int64) (*http.Response, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		req, err := buildRequest(ctx, url, opts, sent)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reconnectBackoff):
			}
			continue
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			resp.Body.Close()
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		// 5xx: retry.
		resp.Body.Close()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconnectBackoff):
		}
	}
}

// StatusError carries an upstream HTTP status that ended the stream
// without a retry (client errors, redirects left unresolved).
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "streamproxy: upstream returned status " + strconv.Itoa(e.StatusCode)
}
